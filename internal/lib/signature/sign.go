// Package signature implements the amoCRM chat API request signing scheme
// and the matching inbound webhook verification.
package signature

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"
)

const contentTypeJSON = "application/json"

// Headers carries the authentication header set for a signed chat API call.
type Headers struct {
	Date        string
	ContentType string
	ContentMD5  string
	Signature   string
}

// Sign produces the header set for a chat API request. The string to sign is
// METHOD, the lower-case hex MD5 of the raw body, the content type, the
// RFC-1123 date and the path without query, joined by newlines, authenticated
// with HMAC-SHA1 under the channel secret.
func Sign(method, path string, body []byte, secret string, now time.Time) Headers {
	date := now.UTC().Format(time.RFC1123Z)
	checksum := hex.EncodeToString(md5Sum(body))

	strToSign := strings.Join([]string{
		strings.ToUpper(method),
		checksum,
		contentTypeJSON,
		date,
		path,
	}, "\n")

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(strToSign))

	return Headers{
		Date:        date,
		ContentType: contentTypeJSON,
		ContentMD5:  checksum,
		Signature:   hex.EncodeToString(mac.Sum(nil)),
	}
}

// SignWithDate is Sign with a caller-supplied pre-formatted date, used for
// regression fixtures.
func SignWithDate(method, path string, body []byte, secret, date string) Headers {
	checksum := hex.EncodeToString(md5Sum(body))

	strToSign := strings.Join([]string{
		strings.ToUpper(method),
		checksum,
		contentTypeJSON,
		date,
		path,
	}, "\n")

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(strToSign))

	return Headers{
		Date:        date,
		ContentType: contentTypeJSON,
		ContentMD5:  checksum,
		Signature:   hex.EncodeToString(mac.Sum(nil)),
	}
}

// Verify checks an inbound webhook signature: lower-case hex HMAC-SHA1 over
// the raw body. Comparison is constant time.
func Verify(body []byte, secret, got string) bool {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(strings.ToLower(got)))
}

func md5Sum(body []byte) []byte {
	sum := md5.Sum(body)
	return sum[:]
}
