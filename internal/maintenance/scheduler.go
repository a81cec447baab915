// Package maintenance runs the periodic housekeeping of a roomviz server:
// pruning stale recovery snapshots and finished job records, and closing
// idle sessions.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/roomviz/internal/config"
	"github.com/haasonsaas/roomviz/internal/observability"
)

// ErrUnknownTask is returned by RunNow for a name that was never added.
var ErrUnknownTask = errors.New("unknown maintenance task")

// Task is a named unit of housekeeping. Run reports how many items it
// removed or closed.
type Task struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) (int, error)
}

// Status describes the last run of a task.
type Status struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Runs      int       `json:"runs"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastCount int       `json:"last_count"`
	LastError string    `json:"last_error,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
}

// Options configures a Scheduler.
type Options struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
	// Timeout bounds a single task run. Zero means no limit.
	Timeout time.Duration
}

type entry struct {
	task   Task
	id     cron.EntryID
	status Status
}

// Scheduler runs tasks on cron schedules. Overlapping runs of the same task
// are skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a stopped scheduler.
func New(opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger.With("component", "maintenance")
	clog := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(config.ScheduleParser()),
			cron.WithLogger(clog),
			cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		),
		logger:  logger,
		metrics: opts.Metrics,
		now:     opts.Now,
		timeout: opts.Timeout,
		entries: make(map[string]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers a task. A task with an empty schedule is kept for RunNow
// but never scheduled.
func (s *Scheduler) Add(task Task) error {
	name := strings.TrimSpace(task.Name)
	if name == "" || task.Run == nil {
		return fmt.Errorf("maintenance task requires a name and a run function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("maintenance task %q already added", name)
	}
	e := &entry{task: task, status: Status{Name: name, Schedule: task.Schedule}}
	if strings.TrimSpace(task.Schedule) != "" {
		sched, err := config.ScheduleParser().Parse(task.Schedule)
		if err != nil {
			return fmt.Errorf("maintenance task %q: %w", name, err)
		}
		e.id = s.cron.Schedule(sched, cron.FuncJob(func() {
			_, _ = s.run(s.ctx, e) //nolint:errcheck
		}))
	}
	s.entries[name] = e
	return nil
}

// Start begins running scheduled tasks in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("maintenance scheduler started", "tasks", len(s.Status()))
}

// Stop halts scheduling and waits for running tasks until ctx is done.
// Tasks still running when ctx expires are cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// RunNow runs the named task immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (int, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return s.run(ctx, e)
}

// Status returns the state of every task, sorted by name.
func (s *Scheduler) Status() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.entries))
	for _, e := range s.entries {
		st := e.status
		if e.id != 0 {
			st.NextRun = s.cron.Entry(e.id).Next
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) run(ctx context.Context, e *entry) (int, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	started := s.now()
	n, err := e.task.Run(ctx)

	s.mu.Lock()
	e.status.Runs++
	e.status.LastRun = started
	e.status.LastCount = n
	e.status.LastError = ""
	if err != nil {
		e.status.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.metrics.RecordMaintenance(e.task.Name, "error")
		s.logger.Warn("maintenance task failed", "task", e.task.Name, "error", err)
		return n, err
	}
	s.metrics.RecordMaintenance(e.task.Name, "success")
	if n > 0 {
		s.logger.Info("maintenance task finished", "task", e.task.Name, "count", n, "duration", s.now().Sub(started))
	}
	return n, nil
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
