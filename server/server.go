// Package server implements the answering side of the protocol: per-connection
// dispatch, the middleware chain, WebSocket and stream listeners, registry
// advertisement and graceful shutdown.
//
// Request processing pipeline:
//
//	transport reader (one per connection) → codec.Decode
//	  → for each request: go handle (parallel processing)
//	    → middleware chain → Dispatcher.Handle → codec.Encode → transport.Send
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"

	"treemap/call"
	"treemap/codec"
	"treemap/message"
	"treemap/metrics"
	"treemap/middleware"
	"treemap/protocol"
	"treemap/registry"
	"treemap/transport"
)

// ErrServerClosed is returned by ServeStream after Shutdown.
var ErrServerClosed = errors.New("server: closed")

// Setup registers the handlers of one connection.
type Setup func(d *Dispatcher) error

// ConnInfo describes a served connection.
type ConnInfo struct {
	ID         string
	Transport  string // "websocket" or "stream"
	RemoteAddr string
	UserAgent  string
	URL        string
}

// Server serves calls over any number of connections.
type Server struct {
	setup       Setup
	catalog     *call.Catalog
	logger      zerolog.Logger
	versions    *semver.Constraints
	middlewares []middleware.Middleware

	base     context.Context // Parent of every handler context
	cancel   context.CancelFunc
	wg       sync.WaitGroup // Tracks in-flight handlers for graceful shutdown
	shutdown atomic.Bool

	mu        sync.Mutex
	conns     map[string]transport.Transport
	listeners []net.Listener

	registry   registry.Registry
	advertised []registry.Instance
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithCatalog makes New fail unless setup registers every call in catalog.
func WithCatalog(c *call.Catalog) Option {
	return func(s *Server) { s.catalog = c }
}

// WithVersions sets which client protocol versions the WebSocket handshake
// accepts. The default accepts the current major version.
func WithVersions(c *semver.Constraints) Option {
	return func(s *Server) { s.versions = c }
}

// New creates a server whose connections are set up by setup. setup runs once
// here so that a duplicate or missing registration fails at startup rather than
// on the first connection.
func New(setup Setup, opts ...Option) (*Server, error) {
	s := &Server{
		setup:  setup,
		logger: zerolog.Nop(),
		conns:  make(map[string]transport.Transport),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.versions == nil {
		c, err := semver.NewConstraint("^" + protocol.SemVer)
		if err != nil {
			return nil, err
		}
		s.versions = c
	}

	trial := NewDispatcher()
	if err := setup(trial); err != nil {
		return nil, err
	}
	if s.catalog != nil {
		if err := trial.Covers(s.catalog); err != nil {
			return nil, err
		}
	}
	s.base, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Use appends a middleware. Middlewares apply in the order added and must be
// added before serving starts.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Conns returns the number of connections currently served.
func (s *Server) Conns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// ServeConn serves calls arriving on tr until it closes. Frames are decoded and
// responses encoded with cdc. Each request runs on its own goroutine; a slow
// handler never holds up the others.
func (s *Server) ServeConn(tr transport.Transport, cdc codec.Codec, info ConnInfo) {
	if info.ID == "" {
		info.ID = uuid.NewString()
	}
	logger := s.logger.With().Str("conn", info.ID).Str("transport", info.Transport).Logger()

	d := NewDispatcher()
	if err := s.setup(d); err != nil {
		logger.Error().Err(err).Msg("connection setup failed")
		tr.Close()
		return
	}
	handler := middleware.Chain(s.middlewares...)(d.Handle)
	ctx := logger.WithContext(s.base)

	if !s.track(info.ID, tr) {
		tr.Close()
		return
	}
	defer s.untrack(info.ID)
	metrics.ConnOpened(info.Transport)
	defer metrics.ConnClosed(info.Transport)

	logger.Info().
		Str("remote", info.RemoteAddr).
		Str("user_agent", info.UserAgent).
		Str("url", info.URL).
		Msg("connection opened")

	closed := make(chan struct{})
	tr.OnClose(func(err error) {
		logger.Info().Err(err).Msg("connection closed")
		close(closed)
	})
	tr.Subscribe(func(frame []byte) {
		var req message.Request
		if err := cdc.Decode(frame, &req); err != nil {
			logger.Warn().Err(err).Int("bytes", len(frame)).Msg("dropping undecodable request frame")
			return
		}
		if !s.begin() {
			logger.Debug().Uint32("id", req.ID).Str("call", req.Call).Msg("dropping request during shutdown")
			return
		}
		go s.handle(ctx, tr, cdc, handler, &req)
	})
	<-closed
}

// begin counts a handler in unless Shutdown has started. Holding s.mu orders
// every Add before the Wait in Shutdown.
func (s *Server) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) handle(ctx context.Context, tr transport.Transport, cdc codec.Codec, handler middleware.HandlerFunc, req *message.Request) {
	defer s.wg.Done()
	resp := handler(ctx, req)
	out, err := cdc.Encode(resp)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Uint32("id", req.ID).Msg("failed to encode response")
		return
	}
	tr.Send(out)
}

func (s *Server) track(id string, tr transport.Transport) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.conns[id] = tr
	return true
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

// WebSocketHandler upgrades HTTP requests to WebSocket connections carrying JSON
// frames. A client may announce its protocol version as ?v=1.2.3; versions the
// server does not accept are refused with 403 before the upgrade.
func (s *Server) WebSocketHandler() http.Handler {
	return websocket.Server{
		Handshake: s.checkVersion,
		Handler: func(ws *websocket.Conn) {
			tr := transport.NewWebSocket(ws)
			req := ws.Request()
			s.ServeConn(tr, &codec.JSONCodec{}, ConnInfo{
				ID:         uuid.NewString(),
				Transport:  "websocket",
				RemoteAddr: req.RemoteAddr,
				UserAgent:  req.UserAgent(),
				URL:        req.URL.String(),
			})
		},
	}
}

func (s *Server) checkVersion(_ *websocket.Config, r *http.Request) error {
	v := r.URL.Query().Get("v")
	if v == "" {
		return nil
	}
	ver, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("server: bad protocol version %q: %w", v, err)
	}
	if !s.versions.Check(ver) {
		s.logger.Warn().Str("version", v).Str("accepts", s.versions.String()).Msg("refusing client protocol version")
		return fmt.Errorf("server: protocol version %s not accepted (%s)", v, s.versions)
	}
	return nil
}

// ServeStream accepts framed stream connections on l until Shutdown. Both ends
// must frame with codecType.
func (s *Server) ServeStream(l net.Listener, codecType codec.CodecType, heartbeat time.Duration) error {
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			// Shutdown closes the listener; that Accept error is expected.
			if s.shutdown.Load() {
				return ErrServerClosed
			}
			return err
		}
		go func() {
			st := transport.NewStream(conn, codecType, heartbeat)
			s.ServeConn(st, st.Codec(), ConnInfo{
				ID:         uuid.NewString(),
				Transport:  "stream",
				RemoteAddr: st.RemoteAddr().String(),
			})
		}()
	}
}

// Advertise registers instances under registry.ServiceName with a ttl-second
// lease. Shutdown deregisters them.
func (s *Server) Advertise(ctx context.Context, reg registry.Registry, ttl int64, instances ...registry.Instance) error {
	s.mu.Lock()
	s.registry = reg
	s.mu.Unlock()
	for _, inst := range instances {
		if err := reg.Register(ctx, registry.ServiceName, inst, ttl); err != nil {
			return fmt.Errorf("server: advertise %s: %w", inst.Addr, err)
		}
		s.mu.Lock()
		s.advertised = append(s.advertised, inst)
		s.mu.Unlock()
		s.logger.Info().Str("addr", inst.Addr).Str("transport", inst.Transport).Msg("advertised")
	}
	return nil
}

// Shutdown stops the server gracefully:
//  1. Deregister from the registry so clients stop picking this server
//  2. Close stream listeners
//  3. Wait for in-flight handlers (with timeout)
//  4. Close every connection; their pending client calls fail with connection-closed
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	s.shutdown.Store(true)
	reg, advertised := s.registry, s.advertised
	s.advertised = nil
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	for _, inst := range advertised {
		if err := reg.Deregister(ctx, registry.ServiceName, inst.Addr); err != nil {
			errs = append(errs, fmt.Errorf("deregister %s: %w", inst.Addr, err))
		}
	}
	for _, l := range listeners {
		l.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("server: timeout waiting for in-flight calls"))
	}

	s.mu.Lock()
	conns := make([]transport.Transport, 0, len(s.conns))
	for _, tr := range s.conns {
		conns = append(conns, tr)
	}
	s.mu.Unlock()
	for _, tr := range conns {
		tr.Close()
	}
	s.cancel()
	return errors.Join(errs...)
}
