package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/haasonsaas/roomviz/internal/config"
)

// =============================================================================
// Serve Command Handler
// =============================================================================

// runServe loads configuration, starts the server and maintenance, and
// blocks until a shutdown signal arrives.
func runServe(ctx context.Context, configPath string, debug, watch bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg, debug)
	if err != nil {
		return err
	}
	a.logger.Info("starting roomviz",
		"version", version,
		"commit", commit,
		"config", configPath,
		"storage", cfg.Storage.Backend,
		"renderer", cfg.Renderer.Backend,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if watch {
		if _, statErr := os.Stat(configPath); statErr == nil {
			err := config.Watch(ctx, configPath, a.logger, func(next *config.Config) {
				level := next.Logging.Level
				if debug {
					level = "debug"
				}
				a.log.SetLevel(level)
				a.logger.Info("log level updated", "level", level)
			})
			if err != nil {
				a.logger.Warn("config watch unavailable", "error", err)
			}
		}
	}

	if err := a.server.Start(ctx); err != nil {
		a.close(context.Background())
		return fmt.Errorf("failed to start server: %w", err)
	}
	a.sched.Start()
	a.logger.Info("roomviz started", "http_addr", a.server.Addr())

	<-ctx.Done()
	a.logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	return shutdown(shutdownCtx, a)
}

// shutdown stops accepting requests, snapshots open sessions through the
// close hooks, waits for background jobs and releases resources.
func shutdown(ctx context.Context, a *app) error {
	var errs []error
	if err := a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.sched.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("maintenance stop: %w", err))
	}
	a.sessions.CloseAll(ctx)

	done := make(chan struct{})
	go func() {
		a.preparer.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("background jobs still running at shutdown deadline")
	}

	a.close(ctx)
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	a.logger.Info("roomviz stopped")
	return nil
}
