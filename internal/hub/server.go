// Package hub implements the Hub RPC Server: an accept loop plus one
// handler per connection dispatching line-delimited JSON-RPC requests to
// a Task Store.
package hub

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/taituo/kirosu/internal/store"
)

// Config configures a Server.
type Config struct {
	Host            string
	Port            int
	AuthToken       string
	LeaseSeconds    int
	ShutdownTimeout time.Duration
}

// Server owns the listening socket and dispatches accepted connections to
// per-connection handlers backed by a single shared Store.
type Server struct {
	cfg   Config
	store *store.Store
	log   zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	shutdown chan struct{}
	stopOnce sync.Once
}

// New builds a Server bound to the given Store.
func New(cfg Config, st *store.Store, log zerolog.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return &Server{
		cfg:      cfg,
		store:    st,
		log:      log,
		shutdown: make(chan struct{}),
	}
}

// Addr returns the bound listener address; only valid after Run has begun
// listening. Primarily useful in tests that bind to port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run listens and serves until ctx is cancelled or Shutdown is called.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("hub listening")

	go func() {
		select {
		case <-ctx.Done():
		case <-s.shutdown:
		}
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return s.drain()
			case <-s.shutdown:
				return s.drain()
			default:
				s.log.Error().Err(err).Msg("accept failed")
				return s.drain()
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			h := &connHandler{store: s.store, authToken: s.cfg.AuthToken, log: s.log, server: s}
			h.serve(conn)
		}()
	}
}

func (s *Server) drain() error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		s.log.Warn().Msg("shutdown timeout exceeded, some connections may not have drained")
		return nil
	}
}

// Shutdown requests a graceful stop: the listener closes, in-flight
// handlers are allowed to finish, and Run returns.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.shutdown)
	})
}
