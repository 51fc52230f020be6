package overpass

import (
	"errors"
	"fmt"
)

// Kind partitions fetch failures the way callers need to react to them:
// validation never retries, timeouts and upstream 5xx do, client errors
// are final for the request.
type Kind string

const (
	KindValidation Kind = "validation"
	KindRateLimit  Kind = "rate_limit"
	KindTimeout    Kind = "timeout"
	KindUpstream   Kind = "upstream"
	KindClient     Kind = "client"
	KindDecode     Kind = "decode"
	KindNetwork    Kind = "network"
)

// Error is the typed fetch failure returned by the client.
type Error struct {
	Kind   Kind
	Status int
	msg    string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

func newErr(kind Kind, status int, msg string, cause error) *Error {
	return &Error{Kind: kind, Status: status, msg: msg, cause: cause}
}

// KindOf extracts the failure kind, defaulting to network for plain errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindNetwork
}

// Retryable reports whether another attempt can reasonably succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindRateLimit, KindClient:
		return false
	}
	return true
}
