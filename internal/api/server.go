package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
)

// Server runs the relay's HTTP listener as a registry service.
type Server struct {
	// Configuration Fields
	addr            string
	shutdownTimeout time.Duration

	// Dependencies
	handler http.Handler
	logger  zerolog.Logger

	// Internal state management
	mu      sync.Mutex
	srv     *http.Server
	wg      sync.WaitGroup
	running bool
	bound   net.Addr
}

// NewServer creates a Server listening on addr.
func NewServer(addr string, shutdownTimeout time.Duration, handler http.Handler, logger zerolog.Logger) *Server {
	return &Server{
		addr:            addr,
		shutdownTimeout: shutdownTimeout,
		handler:         handler,
		logger:          logger,
	}
}

// Start binds the listener and serves in the background. Bind errors are returned.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("http server is already running")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
	s.bound = ln.Addr()
	s.running = true

	s.wg.Add(1)
	go func(srv *http.Server) {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server failed")
		}
	}(s.srv)

	s.logger.Info().Str("addr", s.bound.String()).Msg("HTTP server listening")
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Stop shuts the server down, waiting up to the shutdown timeout for in-flight requests.
// Hijacked websocket connections are not tracked and must be closed by their owner.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return errors.New("http server is not running")
	}
	srv := s.srv
	s.running = false
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}

	s.logger.Info().Msg("HTTP server stopped")
	return nil
}
