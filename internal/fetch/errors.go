package fetch

import (
	"errors"
	"fmt"
)

// Kind classifies why a fetch failed. The set is flat.
type Kind int

const (
	KindNone Kind = iota
	KindCancelled
	KindInvalidResponse
	KindNoData
	KindTrustValidationFailed
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindCancelled:
		return "cancelled"
	case KindInvalidResponse:
		return "invalid-response"
	case KindNoData:
		return "no-data"
	case KindTrustValidationFailed:
		return "trust-validation-failed"
	case KindTransport:
		return "transport-error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Retryable reports whether repeating the whole fetch may succeed.
// Only transport failures qualify; the others are decided by the peer or
// the caller.
func (k Kind) Retryable() bool {
	return k == KindTransport
}

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrCancelled             = errors.New("fetch cancelled")
	ErrInvalidResponse       = errors.New("invalid response")
	ErrNoData                = errors.New("no data")
	ErrTrustValidationFailed = errors.New("trust validation failed")
	ErrTransport             = errors.New("transport error")

	// ErrMissingTrust is the cause recorded when a server-trust challenge
	// carries no trust material.
	ErrMissingTrust = errors.New("server trust challenge without trust material")
)

func (k Kind) sentinel() error {
	switch k {
	case KindCancelled:
		return ErrCancelled
	case KindInvalidResponse:
		return ErrInvalidResponse
	case KindNoData:
		return ErrNoData
	case KindTrustValidationFailed:
		return ErrTrustValidationFailed
	case KindTransport:
		return ErrTransport
	default:
		return nil
	}
}

// Error is the terminal error of a fetch. Err is the underlying cause, left
// exactly as the transport or trust policy reported it; it is nil for
// cancelled, invalid-response and no-data.
type Error struct {
	Kind Kind
	Host string
	Err  error
}

func newError(kind Kind, host string, cause error) *Error {
	return &Error{Kind: kind, Host: host, Err: cause}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if s := e.Kind.sentinel(); s != nil {
		msg = s.Error()
	}
	if e.Host != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Host)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the Kind of err, KindNone for nil and KindTransport for
// errors that did not come from a fetch unit.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransport
}
