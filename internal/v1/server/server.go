// Package server implements the conferencing server: a bounded-concurrency
// TCP acceptor, one worker per connection, and the shared room registry the
// workers broker messages through.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mabdela/Text-Conferencing-App/internal/v1/auth"
	"github.com/mabdela/Text-Conferencing-App/internal/v1/logging"
	"github.com/mabdela/Text-Conferencing-App/internal/v1/metrics"
	"github.com/mabdela/Text-Conferencing-App/internal/v1/ratelimit"
)

// DefaultMaxConnections is the admission bound: at most this many workers
// are live at once, and the acceptor blocks rather than fails when full.
const DefaultMaxConnections = 16

// Server brokers chat rooms over a TCP listener.
type Server struct {
	registry *Registry
	limiter  *ratelimit.ConnLimiter
	maxConns int
	tracer   trace.Tracer

	// Admission state: conns and active are guarded by connMu; cond wakes
	// the acceptor when a worker releases its slot. drained closes once the
	// server is shut down and the last slot has been released.
	connMu  sync.Mutex
	cond    *sync.Cond
	conns   map[string]*Conn
	active  int
	closed  bool
	drained chan struct{}

	listener net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithMaxConnections overrides the admission bound.
func WithMaxConnections(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxConns = n
		}
	}
}

// WithConnLimiter installs a per-IP connect rate limiter.
func WithConnLimiter(cl *ratelimit.ConnLimiter) Option {
	return func(s *Server) { s.limiter = cl }
}

// New creates a Server over the given user directory.
func New(users *auth.Directory, opts ...Option) *Server {
	s := &Server{
		registry: NewRegistry(users),
		maxConns: DefaultMaxConnections,
		conns:    make(map[string]*Conn),
		drained:  make(chan struct{}),
		tracer:   otel.Tracer("github.com/mabdela/Text-Conferencing-App/internal/v1/server"),
	}
	s.cond = sync.NewCond(&s.connMu)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry exposes the room registry, mainly for the ops health handler.
func (s *Server) Registry() *Registry { return s.registry }

// ActiveConnections reports the number of admitted connections.
func (s *Server) ActiveConnections() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.active
}

// Accepting reports whether the accept loop is bound and taking clients.
func (s *Server) Accepting() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.listener != nil && !s.closed
}

// Listen binds addr and starts serving. Blocks until Shutdown or a fatal
// accept error.
func (s *Server) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Addr returns the bound listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the accept loop on l. Each accepted connection gets its own
// worker goroutine; admission reserves a slot before accept so at most
// maxConns workers are ever live.
func (s *Server) Serve(l net.Listener) error {
	s.connMu.Lock()
	if s.closed {
		s.connMu.Unlock()
		l.Close()
		return errors.New("server: already shut down")
	}
	s.listener = l
	s.connMu.Unlock()

	ctx := context.Background()
	logging.Info(ctx, "Chat server listening", zap.String("addr", l.Addr().String()))

	for {
		if !s.reserveSlot() {
			return nil
		}

		nc, err := l.Accept()
		if err != nil {
			s.releaseSlot(nil)
			if s.isClosed() {
				return nil
			}
			logging.Warn(ctx, "Accept failed", zap.Error(err))
			// Transient accept errors leave the loop running.
			time.Sleep(5 * time.Millisecond)
			continue
		}

		if !s.limiter.Allow(ctx, nc.RemoteAddr().String()) {
			nc.Close()
			s.releaseSlot(nil)
			continue
		}

		c := newConn(nc)
		s.admit(c)

		logging.Info(ctx, "Connected client",
			zap.String("connection_id", c.ID()),
			zap.String("remote", c.RemoteAddr()))

		go s.serveConn(c)
	}
}

// reserveSlot blocks until a worker slot is free, reporting false when the
// server is shutting down.
func (s *Server) reserveSlot() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for s.active >= s.maxConns && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return false
	}
	s.active++
	return true
}

// admit registers an accepted connection in the connections registry.
func (s *Server) admit(c *Conn) {
	s.connMu.Lock()
	s.conns[c.id] = c
	s.connMu.Unlock()
	metrics.IncConnection()
}

// releaseSlot removes c from the registry (when non-nil) and signals the
// acceptor that a slot opened up.
func (s *Server) releaseSlot(c *Conn) {
	s.connMu.Lock()
	if c != nil {
		delete(s.conns, c.id)
		metrics.DecConnection()
	}
	s.active--
	if s.closed && s.active == 0 {
		close(s.drained)
	}
	s.cond.Signal()
	s.connMu.Unlock()
}

// clientIDInUse reports whether a logged-in connection already claims id.
func (s *Server) clientIDInUse(id string) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for _, c := range s.conns {
		if c.ClientID() == id {
			return true
		}
	}
	return false
}

func (s *Server) isClosed() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.closed
}

// Shutdown stops accepting, closes every live connection, and waits for the
// workers to finish or ctx to expire. The wait leaves nothing behind: the
// last worker closes drained on its way out, so no helper goroutine outlives
// an expired ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.connMu.Lock()
	if s.closed {
		s.connMu.Unlock()
		return nil
	}
	s.closed = true
	l := s.listener
	open := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		open = append(open, c)
	}
	if s.active == 0 {
		close(s.drained)
	}
	s.cond.Broadcast()
	s.connMu.Unlock()

	if l != nil {
		l.Close()
	}
	for _, c := range open {
		c.Close()
	}

	select {
	case <-s.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
