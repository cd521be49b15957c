package walletconnect

import (
	"fmt"

	"moff.io/moff-wallet/pkg/errors"
)

// Kind classifies every failure the client returns.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInvalidClient: no live client, or the client was destroyed.
	KindInvalidClient
	// KindEncoding: a byte or length conversion failed.
	KindEncoding
	// KindRelay: the bridge connection or the protocol on top of it failed.
	KindRelay
	// KindSigningRejected: the wallet declined the request.
	KindSigningRejected
	// KindSerialization: a persisted session could not be read.
	KindSerialization
	// KindCancelled: the call was aborted by destroy or by its context.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindInvalidClient:
		return "InvalidClient"
	case KindEncoding:
		return "EncodingError"
	case KindRelay:
		return "RelayError"
	case KindSigningRejected:
		return "SigningRejected"
	case KindSerialization:
		return "SerializationError"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is returned by every Client operation.
type Error struct {
	Kind Kind
	// Op is the operation that failed, e.g. "sign_personal".
	Op  string
	Msg string
	Err error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so callers can test against the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidClient   = &Error{Kind: KindInvalidClient, Msg: "Invalid Client"}
	ErrEncoding        = &Error{Kind: KindEncoding, Msg: "encoding error"}
	ErrRelay           = &Error{Kind: KindRelay, Msg: "relay error"}
	ErrSigningRejected = &Error{Kind: KindSigningRejected, Msg: "signing rejected"}
	ErrSerialization   = &Error{Kind: KindSerialization, Msg: "serialization error"}
	ErrCancelled       = &Error{Kind: KindCancelled, Msg: "cancelled"}
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind Kind, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: cause}
}

func invalidClient(op string) error {
	return newError(KindInvalidClient, op, "Invalid Client", nil)
}

func cancelled(op string, cause error) error {
	return newError(KindCancelled, op, "operation aborted", cause)
}

// relayError reports the failure since it usually means the bridge is unhealthy.
func relayError(op, msg string, cause error) error {
	return newError(KindRelay, op, msg, errors.WithStackAndReport(cause))
}
