package jobs

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/haasonsaas/roomviz/internal/renderer"
)

type scriptedChecker struct {
	steps []step
	calls int
}

type step struct {
	resp *renderer.JobStatusResponse
	err  error
}

func (s *scriptedChecker) FurnitureStatus(ctx context.Context, jobID string) (*renderer.JobStatusResponse, error) {
	i := s.calls
	s.calls++
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i].resp, s.steps[i].err
}

type instantScheduler struct {
	waits int
}

func (s *instantScheduler) Wait(ctx context.Context, d time.Duration) error {
	s.waits++
	return ctx.Err()
}

func pending() step {
	return step{resp: &renderer.JobStatusResponse{Status: renderer.JobPending}}
}

func transient() step {
	return step{err: &renderer.StatusError{StatusCode: http.StatusBadGateway}}
}

func TestPollerOutcomes(t *testing.T) {
	tests := []struct {
		name         string
		steps        []step
		maxAttempts  int
		want         Outcome
		wantAttempts int
	}{
		{
			name: "completed with image",
			steps: []step{
				pending(),
				{resp: &renderer.JobStatusResponse{Status: renderer.JobProcessing}},
				{resp: &renderer.JobStatusResponse{Status: renderer.JobCompleted, Image: "clean"}},
			},
			want:         OutcomeCompleted,
			wantAttempts: 3,
		},
		{
			name:         "failed",
			steps:        []step{pending(), {resp: &renderer.JobStatusResponse{Status: renderer.JobFailed, Error: "gpu oom"}}},
			want:         OutcomeFailed,
			wantAttempts: 2,
		},
		{
			name:         "not found is final",
			steps:        []step{{err: &renderer.StatusError{StatusCode: http.StatusNotFound}}},
			want:         OutcomeNotFound,
			wantAttempts: 1,
		},
		{
			name:         "three errors are tolerated",
			steps:        []step{transient(), transient(), transient(), {resp: &renderer.JobStatusResponse{Status: renderer.JobCompleted, Image: "x"}}},
			want:         OutcomeCompleted,
			wantAttempts: 4,
		},
		{
			name:         "fourth consecutive error gives up",
			steps:        []step{transient(), transient(), transient(), transient()},
			want:         OutcomeErrored,
			wantAttempts: 4,
		},
		{
			name:         "success resets the error streak",
			steps:        []step{transient(), transient(), transient(), pending(), transient(), transient(), transient(), {resp: &renderer.JobStatusResponse{Status: renderer.JobCompleted, Image: "x"}}},
			want:         OutcomeCompleted,
			wantAttempts: 8,
		},
		{
			name:         "attempt ceiling",
			steps:        []step{pending()},
			maxAttempts:  5,
			want:         OutcomeTimedOut,
			wantAttempts: 5,
		},
		{
			name:         "completed without image keeps polling",
			steps:        []step{{resp: &renderer.JobStatusResponse{Status: renderer.JobCompleted}}},
			maxAttempts:  3,
			want:         OutcomeTimedOut,
			wantAttempts: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &scriptedChecker{steps: tt.steps}
			sched := &instantScheduler{}
			p := NewPoller("job-1", checker, PollerConfig{MaxAttempts: tt.maxAttempts, Scheduler: sched})
			res := p.Run(context.Background())
			if res.Outcome != tt.want {
				t.Fatalf("Outcome = %s, want %s (last err %v)", res.Outcome, tt.want, res.LastErr)
			}
			if res.Attempts != tt.wantAttempts || checker.calls != tt.wantAttempts {
				t.Fatalf("Attempts = %d (calls %d), want %d", res.Attempts, checker.calls, tt.wantAttempts)
			}
			if sched.waits != tt.wantAttempts {
				t.Fatalf("expected one wait per attempt, got %d", sched.waits)
			}
		})
	}
}

func TestPollerDefaultCeiling(t *testing.T) {
	checker := &scriptedChecker{steps: []step{pending()}}
	p := NewPoller("job-1", checker, PollerConfig{Scheduler: &instantScheduler{}})
	res := p.Run(context.Background())
	if res.Outcome != OutcomeTimedOut || res.Attempts != DefaultMaxAttempts {
		t.Fatalf("Run() = %+v, want timed_out after %d attempts", res, DefaultMaxAttempts)
	}
	if res.Error == "" {
		t.Fatalf("timed out result should describe the failure")
	}
}

func TestPollerTickIsIdempotentWhenTerminal(t *testing.T) {
	checker := &scriptedChecker{steps: []step{{resp: &renderer.JobStatusResponse{Status: renderer.JobFailed}}}}
	p := NewPoller("job-1", checker, PollerConfig{})
	ctx := context.Background()
	if got := p.Tick(ctx); got != OutcomeFailed {
		t.Fatalf("Tick() = %s", got)
	}
	if got := p.Tick(ctx); got != OutcomeFailed || checker.calls != 1 {
		t.Fatalf("terminal Tick() = %s with %d calls", got, checker.calls)
	}
	if p.Result().Error != "furniture removal failed" {
		t.Fatalf("Error = %q", p.Result().Error)
	}
}

func TestPollerCancelled(t *testing.T) {
	checker := &scriptedChecker{steps: []step{pending()}}
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPoller("job-1", checker, PollerConfig{Scheduler: &instantScheduler{}})
	if got := p.Tick(ctx); got != OutcomePolling {
		t.Fatalf("Tick() = %s", got)
	}
	cancel()
	res := p.Run(ctx)
	if res.Outcome != OutcomeCancelled {
		t.Fatalf("Outcome = %s, want cancelled", res.Outcome)
	}
	if checker.calls != 1 {
		t.Fatalf("no requests expected after cancel, got %d", checker.calls)
	}
}

func TestPollerRealSchedulerHonoursCancel(t *testing.T) {
	checker := &scriptedChecker{steps: []step{pending()}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := NewPoller("job-1", checker, PollerConfig{Interval: time.Hour}).Run(ctx)
	if res.Outcome != OutcomeCancelled || checker.calls != 0 {
		t.Fatalf("Run() = %+v after %d calls", res, checker.calls)
	}
}

func TestWait(t *testing.T) {
	ok := &scriptedChecker{steps: []step{{resp: &renderer.JobStatusResponse{Status: renderer.JobCompleted, Image: "clean"}}}}
	img, err := Wait(context.Background(), ok, "job-1", PollerConfig{Scheduler: &instantScheduler{}})
	if err != nil || img != "clean" {
		t.Fatalf("Wait() = %q, %v", img, err)
	}

	bad := &scriptedChecker{steps: []step{{resp: &renderer.JobStatusResponse{Status: renderer.JobFailed, Error: "boom"}}}}
	_, err = Wait(context.Background(), bad, "job-1", PollerConfig{Scheduler: &instantScheduler{}})
	if !IsOutcome(err, OutcomeFailed) {
		t.Fatalf("expected failed outcome error, got %v", err)
	}
	var oe *OutcomeError
	if !errors.As(err, &oe) || oe.Message != "boom" {
		t.Fatalf("unexpected error %v", err)
	}
}
