// Package phone canonicalizes phone numbers to a single comparable form.
// WhatsApp reports Russian mobile numbers with a leading 7 while the CRM
// keeps them in the domestic 8-form; without normalization the same customer
// shows up as two distinct parties.
package phone

import "strings"

// Normalize strips non-digit characters and rewrites the leading 7 of an
// 11-digit Russian mobile number to 8. Inputs not matching the pattern pass
// through with only the digit filtering applied. Idempotent.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if len(digits) == 11 && digits[0] == '7' {
		return "8" + digits[1:]
	}
	return digits
}
