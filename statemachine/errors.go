package statemachine

import (
	goerrors "github.com/go-errors/errors"
)

// ErrorKind classifies a failure the way spec §7 enumerates them. The core
// never panics or returns a bare Go error across a sub-machine boundary;
// every rejection is tagged with one of these kinds so the control adapter
// and the caller's logs can tell a rejected state-change from an invariant
// violation.
type ErrorKind uint8

const (
	// ErrParameterInvalid signals pre-flight validation failed: bounds,
	// timeouts, duplicate identifiers.
	ErrParameterInvalid ErrorKind = iota

	// ErrPreconditionBroken signals on-chain data disagrees with the
	// user's intent, e.g. the channel is already open.
	ErrPreconditionBroken

	// ErrStateRejected signals the state machine refused the
	// state-change for a domain reason carried in the error's Reason.
	ErrStateRejected

	// ErrPeerMessageInvalid signals a received signed message failed
	// validation. The caller should emit an ErrorInvalidReceived* event
	// and otherwise ignore the message.
	ErrPeerMessageInvalid

	// ErrTransactionFailed signals a ledger transaction failed.
	ErrTransactionFailed

	// ErrUnlockFailed signals a lock expired before it could be claimed.
	ErrUnlockFailed

	// ErrUnlockClaimFailed is UnlockFailed as observed by a mediator on
	// behalf of a payee leg it was tracking.
	ErrUnlockClaimFailed

	// ErrFatal signals a sanity-check invariant violation. The state
	// change that produced it must not be persisted.
	ErrFatal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrParameterInvalid:
		return "ParameterInvalid"
	case ErrPreconditionBroken:
		return "PreconditionBroken"
	case ErrStateRejected:
		return "StateRejected"
	case ErrPeerMessageInvalid:
		return "PeerMessageInvalid"
	case ErrTransactionFailed:
		return "TransactionFailed"
	case ErrUnlockFailed:
		return "UnlockFailed"
	case ErrUnlockClaimFailed:
		return "UnlockClaimFailed"
	case ErrFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Error is the typed error every package in this module returns instead of
// a bare error, so callers can switch on Kind without string matching.
type Error struct {
	Kind   ErrorKind
	Reason string
	cause  error
}

// NewError builds an Error of the given kind, attaching a go-errors stack
// trace so a Fatal sanity-check failure can be diagnosed post-mortem.
func NewError(kind ErrorKind, reason string) *Error {
	return &Error{
		Kind:   kind,
		Reason: reason,
		cause:  goerrors.New(reason),
	}
}

// WrapError builds an Error of the given kind around an existing cause.
func WrapError(kind ErrorKind, cause error) *Error {
	return &Error{
		Kind:   kind,
		Reason: cause.Error(),
		cause:  goerrors.Wrap(cause, 1),
	}
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Reason
}

func (e *Error) Unwrap() error {
	return e.cause
}

// IsFatal reports whether err is a Fatal sanity-check violation.
func IsFatal(err error) bool {
	var se *Error
	if e, ok := err.(*Error); ok {
		se = e
	}
	return se != nil && se.Kind == ErrFatal
}
