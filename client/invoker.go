package client

import (
	"context"
	"sync"

	"treemap/call"
	"treemap/message"
)

// Invoker is a descriptor bound to a client: a typed, callable remote function.
type Invoker[I, O any] struct {
	c *Client
	d call.Descriptor[I, O]
}

// Connect binds d to c.
//
//	center := client.Connect(c, calls.GetMapCenter)
//	pt, err := center.Call(ctx, schema.Null{})
func Connect[I, O any](c *Client, d call.Descriptor[I, O]) Invoker[I, O] {
	return Invoker[I, O]{c: c, d: d}
}

// Call invokes the remote call and waits for its result. If ctx ends first the
// call is abandoned locally (kind canceled); the server is not told and its
// eventual response is dropped.
func (inv Invoker[I, O]) Call(ctx context.Context, in I) (O, error) {
	return inv.Go(in).Wait(ctx)
}

// Go starts the call and returns its future. An input failing the schema yields
// an already-failed future and nothing is sent.
func (inv Invoker[I, O]) Go(in I) *Future[O] {
	name := inv.d.Name
	f := &Future[O]{name: name, done: make(chan struct{})}

	payload, err := inv.d.In.Encode(in)
	if err != nil {
		f.fail(call.Wrap(call.KindInvalidInput, err).WithCall(name))
		return f
	}

	p := &pending{call: name, settle: func(resp *message.Response, cerr *call.Error) {
		if cerr != nil {
			f.fail(cerr.WithCall(name))
			return
		}
		if !resp.OK {
			if resp.Error == nil {
				f.fail(&call.Error{Kind: call.KindDecodeError, Message: "failure response without error", Call: name})
				return
			}
			f.fail(&call.Error{Kind: call.Kind(resp.Error.Kind), Message: resp.Error.Message, Call: name})
			return
		}
		out, err := inv.d.Out.Decode(resp.Result)
		if err != nil {
			f.fail(call.Wrap(call.KindDecodeError, err).WithCall(name))
			return
		}
		f.complete(out, nil)
	}}

	id, cerr := inv.c.start(name, payload, p)
	if cerr != nil {
		f.fail(cerr.WithCall(name))
		return f
	}
	f.cancel = func() { inv.c.abandon(id) }
	return f
}

// Future is the eventual result of one call.
type Future[O any] struct {
	name   string
	done   chan struct{}
	once   sync.Once
	val    O
	err    error
	cancel func()
}

// Done is closed once the call has settled.
func (f *Future[O]) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the call settles.
func (f *Future[O]) Result() (O, error) {
	<-f.done
	return f.val, f.err
}

// Wait is Result bounded by ctx. When ctx ends first the call is canceled.
func (f *Future[O]) Wait(ctx context.Context) (O, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
	}
	f.Cancel()
	<-f.done
	if call.IsKind(f.err, call.KindCanceled) {
		var zero O
		return zero, call.Wrap(call.KindCanceled, ctx.Err()).WithCall(f.name)
	}
	return f.val, f.err
}

// Cancel stops waiting for the call. It only discards local bookkeeping: no
// message is sent and the server-side handler still runs to completion.
func (f *Future[O]) Cancel() {
	if f.cancel != nil {
		f.cancel()
	}
}

func (f *Future[O]) complete(v O, err error) {
	f.once.Do(func() {
		f.val, f.err = v, err
		close(f.done)
	})
}

func (f *Future[O]) fail(err *call.Error) {
	var zero O
	f.complete(zero, err)
}
