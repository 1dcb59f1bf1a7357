// Package remote carries the typed error returned by the platform API
// clients, classifying failures into retryable and non-retryable kinds.
package remote

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// ClientRejected is a definitive 4xx refusal; retrying cannot help.
	ClientRejected Kind = iota
	// RemoteUnavailable covers 5xx responses, timeouts and transport
	// failures; eligible for caller-level retry.
	RemoteUnavailable
)

func (k Kind) String() string {
	switch k {
	case ClientRejected:
		return "client_rejected"
	case RemoteUnavailable:
		return "remote_unavailable"
	default:
		return "unknown"
	}
}

// Error is a failed call to a platform API.
type Error struct {
	Kind   Kind
	Status int
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: status %d", e.Op, e.Kind, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// FromStatus classifies a non-2xx HTTP status.
func FromStatus(op string, status int) *Error {
	kind := RemoteUnavailable
	if status >= 400 && status < 500 {
		kind = ClientRejected
	}
	return &Error{Kind: kind, Status: status, Op: op}
}

// FromTransport wraps a transport-level failure (timeouts included), which is
// treated identically to a 5xx.
func FromTransport(op string, err error) *Error {
	return &Error{Kind: RemoteUnavailable, Op: op, Err: err}
}

// IsRetryable reports whether err is a remote failure worth retrying.
func IsRetryable(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == RemoteUnavailable
}
