package server

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"

	"treemap/call"
)

// Handler implements one call. Returning an error fails the call with kind
// handler-error and the error's text as message.
type Handler[I, O any] func(ctx context.Context, in I) (O, error)

// route is a registered call with its types erased.
type route struct {
	info   call.Info
	invoke func(ctx context.Context, payload json.RawMessage) (json.RawMessage, *call.Error)
}

// Register binds h to desc on d. A name may be bound once per dispatcher;
// binding it again returns call.ErrDuplicateCall.
//
// The bound route validates the payload before h sees it and validates h's
// result before it leaves the process.
func Register[I, O any](d *Dispatcher, desc call.Descriptor[I, O], h Handler[I, O]) error {
	if h == nil {
		return fmt.Errorf("server: nil handler for %s", desc.Name)
	}
	return d.add(&route{
		info: desc,
		invoke: func(ctx context.Context, payload json.RawMessage) (json.RawMessage, *call.Error) {
			in, err := desc.In.Decode(payload)
			if err != nil {
				return nil, call.Wrap(call.KindInvalidInput, err)
			}
			out, cerr := runHandler(ctx, desc.Name, h, in)
			if cerr != nil {
				return nil, cerr
			}
			raw, err := desc.Out.Encode(out)
			if err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Str("call", desc.Name).Msg("handler result failed output schema")
				return nil, call.Wrap(call.KindInvalidOutput, err)
			}
			return raw, nil
		},
	})
}

// MustRegister is Register for startup code.
func MustRegister[I, O any](d *Dispatcher, desc call.Descriptor[I, O], h Handler[I, O]) {
	if err := Register(d, desc, h); err != nil {
		panic(err)
	}
}

// runHandler calls h, turning a returned error or a panic into handler-error.
// A panic's value and stack are logged, never sent.
func runHandler[I, O any](ctx context.Context, name string, h Handler[I, O], in I) (out O, cerr *call.Error) {
	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().
				Str("call", name).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("handler panicked")
			cerr = call.Errorf(call.KindHandlerError, "internal error")
		}
	}()
	out, err := h(ctx, in)
	if err != nil {
		return out, call.Wrap(call.KindHandlerError, err)
	}
	return out, nil
}
