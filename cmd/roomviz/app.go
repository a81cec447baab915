package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/roomviz/internal/analysis"
	"github.com/haasonsaas/roomviz/internal/auth"
	"github.com/haasonsaas/roomviz/internal/config"
	"github.com/haasonsaas/roomviz/internal/editmode"
	"github.com/haasonsaas/roomviz/internal/events"
	"github.com/haasonsaas/roomviz/internal/gateway"
	"github.com/haasonsaas/roomviz/internal/imagedata"
	"github.com/haasonsaas/roomviz/internal/jobs"
	"github.com/haasonsaas/roomviz/internal/maintenance"
	"github.com/haasonsaas/roomviz/internal/observability"
	"github.com/haasonsaas/roomviz/internal/recovery"
	"github.com/haasonsaas/roomviz/internal/renderer"
	"github.com/haasonsaas/roomviz/internal/retry"
	"github.com/haasonsaas/roomviz/internal/roomprep"
	"github.com/haasonsaas/roomviz/internal/session"
	"github.com/haasonsaas/roomviz/internal/storage"
	"github.com/haasonsaas/roomviz/internal/visualizer"
)

const eventBuffer = 64

// loadConfig reads path, falling back to defaults when the file does not
// exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "path", path)
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// app holds every component of a running server.
type app struct {
	cfg     *config.Config
	log     *observability.Logger
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	store    storage.Store
	jobs     jobs.Store
	hub      *events.Hub
	sessions *session.Manager
	recovery *recovery.Bridge
	preparer *roomprep.Preparer
	sched    *maintenance.Scheduler
	server   *gateway.Server

	closers []func(context.Context) error
}

// buildApp wires the server from configuration. On error, anything already
// opened is closed.
func buildApp(ctx context.Context, cfg *config.Config, debug bool) (_ *app, err error) {
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	a := &app{cfg: cfg}
	a.log = observability.NewLogger(observability.LogConfig{
		Level:     level,
		Format:    cfg.Logging.Format,
		Output:    os.Stderr,
		AddSource: cfg.Logging.AddSource,
	})
	a.logger = a.log.Slog()
	slog.SetDefault(a.logger)
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewMetrics(registry)

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "roomviz",
		ServiceVersion: version,
		Environment:    cfg.Observability.Tracing.Environment,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		Insecure:       cfg.Observability.Tracing.Insecure,
	})
	a.tracer = tracer
	a.closers = append(a.closers, shutdownTracer)

	a.store, err = storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return a.store.Close() })

	a.jobs, err = openJobStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return a.jobs.Close() })

	client, err := openRenderer(ctx, cfg.Renderer, a.logger, a.metrics, a.tracer)
	if err != nil {
		return nil, err
	}
	analyzer, err := analysis.New(cfg.Analysis, a.logger)
	if err != nil {
		return nil, fmt.Errorf("room analysis: %w", err)
	}

	a.hub = events.NewHub(eventBuffer)
	a.sessions = session.NewManager(session.ManagerOptions{
		MaxHistory:  cfg.Session.MaxHistory,
		IdleTimeout: cfg.Session.IdleTimeout,
		Publisher:   a.hub,
		Logger:      a.logger,
		Metrics:     a.metrics,
	})
	a.recovery = recovery.New(recovery.Options{
		Store:           a.store,
		StalenessWindow: cfg.Recovery.StalenessWindow,
		DraftTTL:        cfg.Recovery.DraftTTL,
		StoreListTTL:    cfg.Recovery.StoreListTTL,
		Stores:          client,
		Logger:          a.logger,
		Metrics:         a.metrics,
		Tracer:          a.tracer,
	})
	a.sessions.OnClose(maintenance.CaptureOnClose(a.recovery, a.logger))

	poller := jobs.PollerConfig{
		Interval:             cfg.Poller.Interval,
		MaxAttempts:          cfg.Poller.MaxAttempts,
		MaxConsecutiveErrors: cfg.Poller.MaxConsecutiveErrors,
	}
	a.preparer = roomprep.New(roomprep.Options{
		Remover: client,
		Jobs:    a.jobs,
		Store:   a.store,
		Poller:  poller,
		Image: imagedata.Options{
			MaxBytes:     cfg.Session.MaxUploadBytes,
			MaxDimension: cfg.Session.MaxImageDimension,
		},
		Logger:  a.logger,
		Metrics: a.metrics,
		Tracer:  a.tracer,
	})
	dispatcher := visualizer.New(visualizer.Options{
		Renderer: client,
		Analyzer: analyzer,
		Logger:   a.logger,
		Metrics:  a.metrics,
		Tracer:   a.tracer,
	})
	editor := editmode.New(editmode.Options{
		Segmenter:  client,
		Remover:    client,
		Dispatcher: dispatcher,
		Poller:     poller,
		Logger:     a.logger,
		Metrics:    a.metrics,
		Tracer:     a.tracer,
	})

	a.sched = maintenance.New(maintenance.Options{Logger: a.logger, Metrics: a.metrics})
	for _, task := range []maintenance.Task{
		maintenance.RecoveryPrune(a.recovery, cfg.Recovery.PruneSchedule),
		maintenance.JobsPrune(a.jobs, cfg.Jobs.Retention, cfg.Jobs.PruneSchedule),
		maintenance.SessionSweep(a.sessions, cfg.Session.SweepSchedule),
	} {
		if err := a.sched.Add(task); err != nil {
			return nil, err
		}
	}

	a.server, err = gateway.New(gateway.Options{
		Config:         cfg.Server,
		Auth:           buildAuth(cfg.Auth),
		Sessions:       a.sessions,
		Dispatcher:     dispatcher,
		Editor:         editor,
		Preparer:       a.preparer,
		Recovery:       a.recovery,
		Hub:            a.hub,
		Logger:         a.logger,
		Metrics:        a.metrics,
		Tracer:         a.tracer,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gateway: %w", err)
	}
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			slog.Warn("shutdown step failed", "error", err)
		}
	}
	a.closers = nil
}

func buildAuth(cfg config.AuthConfig) *auth.Service {
	if !cfg.Enabled {
		return nil
	}
	keys := make([]auth.APIKeyConfig, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		keys = append(keys, auth.APIKeyConfig{Key: k.Key, UserID: k.UserID, Email: k.Email, Name: k.Name})
	}
	return auth.NewService(auth.Config{
		JWTSecret:   cfg.JWTSecret,
		TokenExpiry: cfg.TokenExpiry,
		Issuer:      cfg.Issuer,
		APIKeys:     keys,
	})
}

func openJobStore(ctx context.Context, cfg *config.Config) (jobs.Store, error) {
	switch strings.ToLower(cfg.Jobs.Store) {
	case "", "memory":
		return jobs.NewMemoryStore(), nil
	case "postgres":
		pg := cfg.Storage.Postgres
		store, err := jobs.NewCockroachStoreFromDSN(ctx, pg.DSN, storage.PoolConfig(pg.MaxConnections, pg.ConnMaxLifetime))
		if err != nil {
			return nil, fmt.Errorf("open job store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported job store %q", cfg.Jobs.Store)
	}
}

func openRenderer(ctx context.Context, cfg config.RendererConfig, logger *slog.Logger, metrics *observability.Metrics, tracer *observability.Tracer) (renderer.Client, error) {
	httpClient, err := renderer.NewHTTPClient(renderer.HTTPConfig{
		BaseURL:             cfg.BaseURL,
		APIKey:              cfg.APIKey,
		Timeout:             cfg.Timeout,
		SegmentationTimeout: cfg.SegmentationTimeout,
		Retry: retry.Config{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Factor:       2,
			Jitter:       true,
		},
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	})
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(cfg.Backend, "gemini") {
		return httpClient, nil
	}
	gemini, err := renderer.NewGeminiRenderer(ctx, renderer.GeminiConfig{
		APIKey:  cfg.Gemini.APIKey,
		Model:   cfg.Gemini.Model,
		Timeout: cfg.Timeout,
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("gemini renderer enabled", "model", cfg.Gemini.Model)
	return renderer.WithRenderer(httpClient, gemini), nil
}
