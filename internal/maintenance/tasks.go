package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/haasonsaas/roomviz/internal/jobs"
	"github.com/haasonsaas/roomviz/internal/recovery"
	"github.com/haasonsaas/roomviz/internal/session"
)

// Task names.
const (
	TaskRecoveryPrune = "recovery.prune"
	TaskJobsPrune     = "jobs.prune"
	TaskSessionSweep  = "session.sweep"
)

// RecoveryPrune deletes snapshots older than the bridge's staleness window.
func RecoveryPrune(b *recovery.Bridge, schedule string) Task {
	return Task{
		Name:     TaskRecoveryPrune,
		Schedule: schedule,
		Run:      b.Prune,
	}
}

// JobsPrune deletes job records older than retention.
func JobsPrune(store jobs.Store, retention time.Duration, schedule string) Task {
	return Task{
		Name:     TaskJobsPrune,
		Schedule: schedule,
		Run: func(ctx context.Context) (int, error) {
			n, err := store.Prune(ctx, retention)
			return int(n), err
		},
	}
}

// SessionSweep closes sessions that have been idle past the manager's
// idle timeout.
func SessionSweep(m *session.Manager, schedule string) Task {
	return Task{
		Name:     TaskSessionSweep,
		Schedule: schedule,
		Run: func(ctx context.Context) (int, error) {
			return m.Sweep(ctx), nil
		},
	}
}

// CaptureOnClose returns a session hook that snapshots a session for its
// owner before it is torn down.
func CaptureOnClose(b *recovery.Bridge, logger *slog.Logger) session.Hook {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, s *session.Session) {
		if err := b.Capture(ctx, s.Owner(), s); err != nil {
			logger.Warn("recovery capture on close failed", "session_id", s.ID(), "error", err)
		}
	}
}
