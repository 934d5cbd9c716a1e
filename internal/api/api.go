// Package api exposes PhysioPipe over HTTP: the Twilio inbound webhook, the
// workflow sweep trigger and liveness endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Default HTTP server settings.
const (
	DefaultAddr            = ":8080"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 2 * time.Minute // covers generation plus chunked delivery
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultProcessTimeout bounds handling of one request once it is
	// accepted, independent of the caller staying connected.
	DefaultProcessTimeout = 5 * time.Minute
)

// Engine is the message orchestration the handlers call into.
type Engine interface {
	HandleIncoming(ctx context.Context, sender, body string) (string, error)
	RunDueWorkflows(ctx context.Context) (int, error)
}

// Opts holds configuration options for the Server.
type Opts struct {
	Addr           string
	WriteTimeout   time.Duration
	ProcessTimeout time.Duration
}

// Option defines a configuration option for the Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithWriteTimeout bounds how long a handler may take to answer.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.WriteTimeout = d
	}
}

// WithProcessTimeout bounds generation, delivery and sweeps started by a
// request. The bound holds even after the caller disconnects.
func WithProcessTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.ProcessTimeout = d
	}
}

// Server serves the HTTP API.
type Server struct {
	engine Engine
	cfg    Opts
}

// NewServer creates a Server dispatching to engine.
func NewServer(engine Engine, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, WriteTimeout: DefaultWriteTimeout, ProcessTimeout: DefaultProcessTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = DefaultProcessTimeout
	}
	return &Server{engine: engine, cfg: cfg}
}

// detach keeps the request's values but drops its cancellation: an accepted
// message is answered in full and a claimed sweep is delivered even after the
// caller disconnects.
func (s *Server) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ProcessTimeout)
}

// Handler returns the routed handler with request IDs attached.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.rootHandler)
	mux.HandleFunc("/healthz", s.healthHandler)
	mux.HandleFunc("/message", s.messageHandler)
	mux.HandleFunc("/workflows/run", s.runWorkflowsHandler)
	return withRequestID(mux)
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
