package call

import (
	"errors"
	"fmt"
)

// Kind classifies a failed call. The kind string travels on the wire.
type Kind string

const (
	// KindInvalidInput: the input failed its schema, on either side.
	KindInvalidInput Kind = "invalid-input"
	// KindInvalidOutput: the handler returned a value failing the output schema.
	KindInvalidOutput Kind = "invalid-output"
	// KindUnknownCall: no handler is registered under the call name.
	KindUnknownCall Kind = "unknown-call"
	// KindHandlerError: the handler returned an error or panicked.
	KindHandlerError Kind = "handler-error"
	// KindDecodeError: a success response carried a result failing the output schema.
	KindDecodeError Kind = "decode-error"
	// KindConnectionClosed: the connection ended while the call was pending.
	KindConnectionClosed Kind = "connection-closed"
	// KindCanceled: the caller stopped waiting. Never sent on the wire.
	KindCanceled Kind = "canceled"
	// KindRateLimited: the server refused the call under its per-connection limit.
	KindRateLimited Kind = "rate-limited"
)

// Error is the failure every rejected call settles with.
type Error struct {
	Kind    Kind
	Message string
	Call    string // Call name, when known
	err     error
}

// Errorf builds an Error of kind k.
func Errorf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of kind k whose message is err's text.
func Wrap(k Kind, err error) *Error {
	return &Error{Kind: k, Message: err.Error(), err: err}
}

func (e *Error) Error() string {
	if e.Call == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Call, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, &call.Error{Kind: call.KindConnectionClosed}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// WithCall returns a copy of e annotated with the call name.
func (e *Error) WithCall(name string) *Error {
	cp := *e
	cp.Call = name
	return &cp
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
