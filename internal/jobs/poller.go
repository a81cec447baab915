package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/roomviz/internal/renderer"
	"github.com/haasonsaas/roomviz/internal/retry"
)

// Outcome is the poller state. Everything except OutcomePolling is terminal.
type Outcome string

const (
	OutcomePolling   Outcome = "polling"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeErrored   Outcome = "errored"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeCancelled Outcome = "cancelled"
)

// Terminal reports whether polling has stopped.
func (o Outcome) Terminal() bool {
	return o != OutcomePolling && o != ""
}

// Poller defaults.
const (
	DefaultInterval             = 2 * time.Second
	DefaultMaxAttempts          = 150
	DefaultMaxConsecutiveErrors = 3
)

// StatusChecker reads a job's status from the renderer.
type StatusChecker interface {
	FurnitureStatus(ctx context.Context, jobID string) (*renderer.JobStatusResponse, error)
}

// Scheduler waits between ticks. It returns the context error when
// cancelled.
type Scheduler interface {
	Wait(ctx context.Context, d time.Duration) error
}

type sleepScheduler struct{}

func (sleepScheduler) Wait(ctx context.Context, d time.Duration) error {
	return retry.Sleep(ctx, d)
}

// PollerConfig bounds a poll loop.
type PollerConfig struct {
	Interval             time.Duration
	MaxAttempts          int
	MaxConsecutiveErrors int
	Scheduler            Scheduler
}

// Result is the terminal state of a poll loop.
type Result struct {
	Outcome  Outcome
	Image    string
	Error    string
	Attempts int
	// LastErr is the most recent transport error, if any.
	LastErr error
}

// Poller is a single-job polling state machine. Each Tick makes at most one
// status request. A Poller is not safe for concurrent use.
type Poller struct {
	jobID   string
	checker StatusChecker
	cfg     PollerConfig

	outcome           Outcome
	attempts          int
	consecutiveErrors int
	image             string
	jobError          string
	lastErr           error
	lastStatus        renderer.JobStatus
}

// NewPoller creates a poller for jobID.
func NewPoller(jobID string, checker StatusChecker, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = sleepScheduler{}
	}
	return &Poller{
		jobID:   jobID,
		checker: checker,
		cfg:     cfg,
		outcome: OutcomePolling,
	}
}

// Tick performs one poll and returns the resulting state. Once terminal, Tick
// keeps returning the same outcome without further requests.
func (p *Poller) Tick(ctx context.Context) Outcome {
	if p.outcome.Terminal() {
		return p.outcome
	}
	if ctx.Err() != nil {
		p.outcome = OutcomeCancelled
		return p.outcome
	}

	p.attempts++
	resp, err := p.checker.FurnitureStatus(ctx, p.jobID)
	switch {
	case err != nil && ctx.Err() != nil:
		p.lastErr = err
		p.outcome = OutcomeCancelled
		return p.outcome
	case err != nil && renderer.IsNotFound(err):
		p.lastErr = err
		p.outcome = OutcomeNotFound
		return p.outcome
	case err != nil:
		p.lastErr = err
		p.consecutiveErrors++
		if p.consecutiveErrors > p.cfg.MaxConsecutiveErrors {
			p.outcome = OutcomeErrored
			return p.outcome
		}
	default:
		p.consecutiveErrors = 0
		p.lastStatus = resp.Status
		switch resp.Status {
		case renderer.JobCompleted:
			if resp.Image != "" {
				p.image = resp.Image
				p.outcome = OutcomeCompleted
				return p.outcome
			}
		case renderer.JobFailed:
			p.jobError = resp.Error
			if p.jobError == "" {
				p.jobError = "furniture removal failed"
			}
			p.outcome = OutcomeFailed
			return p.outcome
		}
	}

	if p.attempts >= p.cfg.MaxAttempts {
		p.outcome = OutcomeTimedOut
	}
	return p.outcome
}

// Run ticks until a terminal outcome, waiting Interval before every tick.
func (p *Poller) Run(ctx context.Context) Result {
	for !p.outcome.Terminal() {
		if err := p.cfg.Scheduler.Wait(ctx, p.cfg.Interval); err != nil {
			p.outcome = OutcomeCancelled
			break
		}
		p.Tick(ctx)
	}
	return p.Result()
}

// Result reports the current state.
func (p *Poller) Result() Result {
	res := Result{
		Outcome:  p.outcome,
		Image:    p.image,
		Error:    p.jobError,
		Attempts: p.attempts,
		LastErr:  p.lastErr,
	}
	if res.Error == "" {
		switch p.outcome {
		case OutcomeTimedOut:
			res.Error = fmt.Sprintf("furniture removal did not finish after %d attempts", p.attempts)
		case OutcomeErrored:
			res.Error = fmt.Sprintf("furniture removal status failed %d times in a row", p.consecutiveErrors)
		}
	}
	return res
}

// LastStatus is the most recent status the renderer reported.
func (p *Poller) LastStatus() renderer.JobStatus {
	return p.lastStatus
}

// Wait runs a poller for jobID to completion and returns the result image.
// Any terminal outcome other than completed is an error.
func Wait(ctx context.Context, checker StatusChecker, jobID string, cfg PollerConfig) (string, error) {
	res := NewPoller(jobID, checker, cfg).Run(ctx)
	if res.Outcome == OutcomeCompleted {
		return res.Image, nil
	}
	if res.Outcome == OutcomeCancelled && ctx.Err() != nil {
		return "", ctx.Err()
	}
	msg := res.Error
	if msg == "" && res.LastErr != nil {
		msg = res.LastErr.Error()
	}
	return "", &OutcomeError{Outcome: res.Outcome, Message: msg}
}

// OutcomeError reports a poll loop that ended without an image.
type OutcomeError struct {
	Outcome Outcome
	Message string
}

func (e *OutcomeError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("furniture removal %s", e.Outcome)
	}
	return fmt.Sprintf("furniture removal %s: %s", e.Outcome, e.Message)
}

// IsOutcome reports whether err is an OutcomeError with the given outcome.
func IsOutcome(err error, outcome Outcome) bool {
	var oe *OutcomeError
	return errors.As(err, &oe) && oe.Outcome == outcome
}
