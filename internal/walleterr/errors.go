package walleterr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a wallet connection failure
type Kind string

const (
	KindUnknown               Kind = ""
	KindProviderUnavailable   Kind = "provider_unavailable"
	KindUserRejected          Kind = "user_rejected"
	KindRequestAlreadyPending Kind = "request_already_pending"
	KindTimeout               Kind = "timeout"
	KindNetworkError          Kind = "network_error"
	KindValidationError       Kind = "validation_error"
)

// Sentinels for errors.Is checks. An *Error matches the sentinel of its kind.
var (
	ErrProviderUnavailable   = errors.New("wallet provider unavailable")
	ErrUserRejected          = errors.New("request rejected by user")
	ErrRequestAlreadyPending = errors.New("a wallet request is already pending")
	ErrTimeout               = errors.New("wallet request timed out")
	ErrNetwork               = errors.New("backend unreachable")
	ErrValidation            = errors.New("backend rejected request")
)

var sentinels = map[Kind]error{
	KindProviderUnavailable:   ErrProviderUnavailable,
	KindUserRejected:          ErrUserRejected,
	KindRequestAlreadyPending: ErrRequestAlreadyPending,
	KindTimeout:               ErrTimeout,
	KindNetworkError:          ErrNetwork,
	KindValidationError:       ErrValidation,
}

// Error is a classified failure. Op names the step that failed ("connect",
// "sign", "verify", "track"); Msg is safe to show to the user.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// New creates a classified error
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		if s, ok := sentinels[e.Kind]; ok {
			msg = s.Error()
		} else {
			msg = "wallet error"
		}
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// Retryable reports whether the UI should offer an automatic retry affordance
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// Retryable reports whether failures of this kind are transient
func (k Kind) Retryable() bool {
	return k == KindTimeout || k == KindNetworkError
}

// Hint is the user-facing instruction attached to each kind
func (k Kind) Hint() string {
	switch k {
	case KindProviderUnavailable:
		return "No matching wallet was found. Install it or pair a mobile wallet instead."
	case KindUserRejected:
		return "The request was declined in the wallet."
	case KindRequestAlreadyPending:
		return "A request is already waiting in your wallet. Open it to continue."
	case KindTimeout:
		return "The wallet did not respond in time. Try again."
	case KindNetworkError:
		return "Could not reach the server. Check your connection and try again."
	case KindValidationError:
		return "The server rejected the wallet details."
	default:
		return ""
	}
}

// KindOf extracts the kind of a classified error. Context errors are
// treated as timeouts so deadline expiry never surfaces unclassified.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, s := range sentinels {
		if errors.Is(err, s) {
			return kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// As returns err as a classified *Error, defaulting unknown failures to
// fallback so nothing leaves a component unclassified.
func As(err error, op string, fallback Kind) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	kind := KindOf(err)
	if kind == KindUnknown {
		kind = fallback
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// EIP-1193 and JSON-RPC provider error codes
const (
	CodeUserRejected        = 4001
	CodeUnauthorized        = 4100
	CodeUnsupportedMethod   = 4200
	CodeDisconnected        = 4900
	CodeChainDisconnected   = 4901
	CodeResourceUnavailable = -32002
)

// FromCode maps a provider error code onto the taxonomy
func FromCode(code int) Kind {
	switch code {
	case CodeUserRejected:
		return KindUserRejected
	case CodeResourceUnavailable:
		return KindRequestAlreadyPending
	case CodeUnauthorized, CodeUnsupportedMethod, CodeDisconnected, CodeChainDisconnected:
		return KindProviderUnavailable
	default:
		return KindUnknown
	}
}
