// Package client implements the calling side of the protocol.
//
// One Client owns one Transport. Many calls can be in flight at once; each gets a
// correlation id, and the transport's reader settles whichever pending call the
// response names:
//
//	goroutine-1 ──Call(id=1)──┐
//	goroutine-2 ──Call(id=2)──┼──→ one connection ──→ server
//	goroutine-3 ──Call(id=3)──┘
//
//	reader: ←── response(id=2) → pending[2].settle → goroutine-2 wakes up
package client

import (
	"sync"

	"github.com/rs/zerolog"

	"treemap/call"
	"treemap/codec"
	"treemap/message"
	"treemap/transport"
)

// pending is the bookkeeping for one in-flight call.
type pending struct {
	call   string
	settle func(resp *message.Response, err *call.Error)
}

// Client multiplexes calls over one transport.
type Client struct {
	tr     transport.Transport
	codec  codec.Codec
	logger zerolog.Logger

	mu      sync.Mutex
	seq     uint32              // Last id handed out
	pending map[uint32]*pending // In-flight calls by id
	closed  bool
}

// Option configures a Client.
type Option func(*Client)

// WithCodec sets the frame codec. The default is JSON.
func WithCodec(c codec.Codec) Option {
	return func(cl *Client) { cl.codec = c }
}

// WithLogger sets the logger for protocol anomalies.
func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New binds a client to tr and starts consuming responses.
func New(tr transport.Transport, opts ...Option) *Client {
	c := &Client{
		tr:      tr,
		codec:   &codec.JSONCodec{},
		logger:  zerolog.Nop(),
		pending: make(map[uint32]*pending),
	}
	for _, opt := range opts {
		opt(c)
	}
	tr.OnClose(c.handleClose)
	tr.Subscribe(c.handleFrame)
	return c
}

// Close ends the connection. Calls still pending fail with connection-closed.
func (c *Client) Close() error {
	return c.tr.Close()
}

// Pending returns the number of calls awaiting a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// nextID returns an id not currently pending. Ids wrap around on overflow and
// skip 0. Callers hold c.mu.
func (c *Client) nextID() uint32 {
	for {
		c.seq++
		if c.seq == 0 {
			continue
		}
		if _, busy := c.pending[c.seq]; !busy {
			return c.seq
		}
	}
}

// start registers p and sends the request. The entry is stored before the frame
// is written so a fast response cannot miss it.
func (c *Client) start(name string, payload []byte, p *pending) (uint32, *call.Error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, call.Errorf(call.KindConnectionClosed, "connection is closed")
	}
	id := c.nextID()
	c.pending[id] = p
	c.mu.Unlock()

	frame, err := c.codec.Encode(&message.Request{ID: id, Call: name, Payload: payload})
	if err != nil {
		c.remove(id)
		return 0, call.Wrap(call.KindInvalidInput, err)
	}
	c.tr.Send(frame)
	return id, nil
}

// remove drops the pending entry for id and returns it, or nil if it was
// already settled.
func (c *Client) remove(id uint32) *pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return p
}

// abandon discards the pending entry without telling the server. A response
// arriving later finds no entry and is dropped.
func (c *Client) abandon(id uint32) {
	if p := c.remove(id); p != nil {
		p.settle(nil, call.Errorf(call.KindCanceled, "caller stopped waiting"))
	}
}

func (c *Client) handleFrame(frame []byte) {
	var resp message.Response
	if err := c.codec.Decode(frame, &resp); err != nil {
		c.logger.Warn().Err(err).Int("bytes", len(frame)).Msg("dropping undecodable response frame")
		return
	}
	p := c.remove(resp.ID)
	if p == nil {
		c.logger.Debug().Uint32("id", resp.ID).Msg("response for untracked id ignored")
		return
	}
	p.settle(&resp, nil)
}

func (c *Client) handleClose(err error) {
	c.mu.Lock()
	c.closed = true
	orphans := c.pending
	c.pending = make(map[uint32]*pending)
	c.mu.Unlock()

	if len(orphans) > 0 {
		c.logger.Debug().Err(err).Int("pending", len(orphans)).Msg("connection closed with calls pending")
	}
	for _, p := range orphans {
		p.settle(nil, call.Errorf(call.KindConnectionClosed, "connection closed before a response arrived"))
	}
}
