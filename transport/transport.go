// Package transport carries frames over one duplex connection.
//
// Every Transport has the same contract regardless of the channel underneath:
//
//   - Send is fire-and-forget. Frames leave in the order Send was called. A send
//     on a closed transport is dropped silently, so a returning Send says nothing
//     about delivery; only a response does.
//   - Subscribe registers a handler called once per inbound frame, in receipt
//     order, from a single reader goroutine. Reading starts with the first
//     Subscribe. Handlers must not block.
//   - OnClose handlers run exactly once when either side ends the connection;
//     registering after the close runs the handler immediately.
package transport

import (
	"errors"
	"sync"
)

// ErrCodecMismatch is reported when a stream peer frames bodies with another codec.
var ErrCodecMismatch = errors.New("transport: peer codec mismatch")

// Transport is one duplex frame channel.
type Transport interface {
	Send(frame []byte)
	Subscribe(fn func(frame []byte))
	OnClose(fn func(err error))
	Close() error
}

// hub holds the subscriber and close bookkeeping shared by all transports.
type hub struct {
	mu      sync.Mutex
	subs    []func([]byte)
	closers []func(error)
	closed  bool
	err     error
	done    chan struct{}

	startOnce sync.Once
	run       func()
}

func newHub(run func()) *hub {
	return &hub{done: make(chan struct{}), run: run}
}

func (h *hub) Subscribe(fn func(frame []byte)) {
	h.mu.Lock()
	h.subs = append(h.subs, fn)
	h.mu.Unlock()
	h.startOnce.Do(func() { go h.run() })
}

func (h *hub) OnClose(fn func(err error)) {
	h.mu.Lock()
	if h.closed {
		err := h.err
		h.mu.Unlock()
		fn(err)
		return
	}
	h.closers = append(h.closers, fn)
	h.mu.Unlock()
}

func (h *hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *hub) deliver(frame []byte) {
	h.mu.Lock()
	subs := h.subs
	h.mu.Unlock()
	for _, fn := range subs {
		fn(frame)
	}
}

// shutdown marks the hub closed and runs close handlers. It reports whether
// this call performed the close.
func (h *hub) shutdown(err error) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.closed = true
	h.err = err
	closers := h.closers
	h.closers = nil
	close(h.done)
	h.mu.Unlock()

	for _, fn := range closers {
		fn(err)
	}
	return true
}
