package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lyzr/agentflow/common/logger"
)

const defaultShutdownGrace = 30 * time.Second

// Server runs an HTTP listener with signal-driven graceful shutdown.
// Every agentflow binary that serves HTTP goes through it so drain
// behavior stays uniform.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
	name       string
	grace      time.Duration
	onShutdown []func()
}

// Option adjusts server construction
type Option func(*Server)

// WithTimeouts overrides the default read, write and idle timeouts
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		s.httpServer.ReadTimeout = read
		s.httpServer.WriteTimeout = write
		s.httpServer.IdleTimeout = idle
	}
}

// WithStreaming removes the read and write timeouts so long-lived
// connections (WebSocket watchers) are not severed mid-stream. The
// idle timeout stays to reap dead keep-alive connections.
func WithStreaming() Option {
	return func(s *Server) {
		s.httpServer.ReadTimeout = 0
		s.httpServer.WriteTimeout = 0
		s.httpServer.IdleTimeout = 120 * time.Second
	}
}

// WithShutdownGrace sets how long in-flight requests get to finish
// once shutdown starts.
func WithShutdownGrace(grace time.Duration) Option {
	return func(s *Server) {
		if grace > 0 {
			s.grace = grace
		}
	}
}

// WithShutdownHook registers fn to run when shutdown begins, before
// in-flight requests are drained. Used to cancel background loops that
// feed the handlers.
func WithShutdownHook(fn func()) Option {
	return func(s *Server) {
		s.onShutdown = append(s.onShutdown, fn)
	}
}

// New creates a server for the given handler. Defaults suit request
// and response style APIs; streaming services pass WithStreaming.
func New(name string, port int, handler http.Handler, log *logger.Logger, opts ...Option) *Server {
	s := &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log:   log,
		name:  name,
		grace: defaultShutdownGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start serves until the listener fails or a termination signal
// arrives, then drains and returns.
func (s *Server) Start() error {
	serverErrors := make(chan error, 1)

	go func() {
		s.log.Info(fmt.Sprintf("%s listening", s.name), "addr", s.httpServer.Addr)
		serverErrors <- s.httpServer.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		s.log.Info("shutdown signal received", "signal", sig.String())
	}

	for _, fn := range s.onShutdown {
		fn()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.grace)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Error("graceful shutdown failed", "error", err)
		if err := s.httpServer.Close(); err != nil {
			return fmt.Errorf("could not stop server: %w", err)
		}
	}

	s.log.Info("shutdown complete")
	return nil
}

// HealthHandler returns a static liveness handler for services whose
// health has no dependencies worth reporting.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}
}
