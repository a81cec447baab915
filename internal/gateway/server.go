// Package gateway exposes sessions over HTTP and streams session events over
// WebSockets.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/roomviz/internal/auth"
	"github.com/haasonsaas/roomviz/internal/config"
	"github.com/haasonsaas/roomviz/internal/editmode"
	"github.com/haasonsaas/roomviz/internal/events"
	"github.com/haasonsaas/roomviz/internal/observability"
	"github.com/haasonsaas/roomviz/internal/recovery"
	"github.com/haasonsaas/roomviz/internal/roomprep"
	"github.com/haasonsaas/roomviz/internal/session"
	"github.com/haasonsaas/roomviz/internal/visualizer"
)

// Options wires the gateway to the session services.
type Options struct {
	Config     config.ServerConfig
	Auth       *auth.Service
	Sessions   *session.Manager
	Dispatcher *visualizer.Dispatcher
	Editor     *editmode.Editor
	Preparer   *roomprep.Preparer
	Recovery   *recovery.Bridge
	Hub        *events.Hub
	Logger     *slog.Logger
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
	// MetricsHandler serves /metrics. Defaults to the global Prometheus
	// registry.
	MetricsHandler http.Handler
}

// Server is the HTTP front of roomviz.
type Server struct {
	config     config.ServerConfig
	auth       *auth.Service
	sessions   *session.Manager
	dispatcher *visualizer.Dispatcher
	editor     *editmode.Editor
	preparer   *roomprep.Preparer
	recovery   *recovery.Bridge
	hub        *events.Hub
	logger     *slog.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	metricsH   http.Handler
	startTime  time.Time

	handler http.Handler

	mu           sync.Mutex
	httpServer   *http.Server
	httpListener net.Listener
}

// New builds a server. Request schemas are compiled here so a broken schema
// fails at startup rather than on the first request.
func New(opts Options) (*Server, error) {
	if opts.Sessions == nil || opts.Dispatcher == nil {
		return nil, errors.New("gateway: sessions and dispatcher are required")
	}
	if err := initSchemas(); err != nil {
		return nil, fmt.Errorf("compile request schemas: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Config.MaxBodyBytes <= 0 {
		opts.Config.MaxBodyBytes = 32 << 20
	}
	if opts.MetricsHandler == nil {
		opts.MetricsHandler = promhttp.Handler()
	}
	s := &Server{
		config:     opts.Config,
		auth:       opts.Auth,
		sessions:   opts.Sessions,
		dispatcher: opts.Dispatcher,
		editor:     opts.Editor,
		preparer:   opts.Preparer,
		recovery:   opts.Recovery,
		hub:        opts.Hub,
		logger:     opts.Logger.With("component", "gateway"),
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		metricsH:   opts.MetricsHandler,
		startTime:  time.Now(),
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.mu.Lock()
	s.httpServer = server
	s.httpListener = listener
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("starting http server", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.httpServer
	s.httpServer = nil
	s.httpListener = nil
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	shutdownCtx := ctx
	var cancel context.CancelFunc
	if s.config.ShutdownTimeout > 0 {
		shutdownCtx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
		return err
	}
	return nil
}
