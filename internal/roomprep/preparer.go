// Package roomprep prepares uploaded rooms: the upload is normalized, a
// furniture-removal job is started and polled in the background, and the
// outcome decides the clean baseline used for full renders.
package roomprep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/roomviz/internal/events"
	"github.com/haasonsaas/roomviz/internal/imagedata"
	"github.com/haasonsaas/roomviz/internal/jobs"
	"github.com/haasonsaas/roomviz/internal/observability"
	"github.com/haasonsaas/roomviz/internal/renderer"
	"github.com/haasonsaas/roomviz/internal/session"
	"github.com/haasonsaas/roomviz/internal/storage"
)

// persistTimeout bounds bookkeeping writes made after a job's context has
// ended.
const persistTimeout = 10 * time.Second

// CleanRoomKey is where a session's prepared room is persisted.
func CleanRoomKey(sessionID string) string {
	return storage.Key("rooms", sessionID, "clean")
}

// Options configures a Preparer.
type Options struct {
	Remover renderer.FurnitureRemover
	Jobs    jobs.Store
	// Store persists prepared rooms. Optional.
	Store   storage.Store
	Poller  jobs.PollerConfig
	Image   imagedata.Options
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	Now     func() time.Time
}

// Preparer runs room uploads and their furniture-removal jobs.
type Preparer struct {
	remover renderer.FurnitureRemover
	jobs    jobs.Store
	store   storage.Store
	poller  jobs.PollerConfig
	image   imagedata.Options
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	now     func() time.Time

	wg sync.WaitGroup
}

// New creates a preparer.
func New(opts Options) *Preparer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Jobs == nil {
		opts.Jobs = jobs.NewMemoryStore()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Preparer{
		remover: opts.Remover,
		jobs:    opts.Jobs,
		store:   opts.Store,
		poller:  opts.Poller,
		image:   opts.Image,
		logger:  opts.Logger.With("component", "roomprep"),
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		now:     opts.Now,
	}
}

// UploadResult describes an accepted upload.
type UploadResult struct {
	// JobID is empty when furniture removal could not be started; the
	// original upload is then the baseline.
	JobID   string `json:"job_id,omitempty"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Resized bool   `json:"resized"`
}

// Upload installs image as the session's room and starts furniture removal.
// Any previous job is superseded. Polling continues in the background after
// Upload returns.
func (p *Preparer) Upload(ctx context.Context, s *session.Session, image string) (*UploadResult, error) {
	norm, err := imagedata.Normalize(image, p.image)
	if err != nil {
		return nil, err
	}
	original := norm.Image.DataURI()
	result := &UploadResult{Width: norm.Width, Height: norm.Height, Resized: norm.Resized}

	previous := s.ActiveJob()
	gen, err := s.BeginUpload(original)
	if err != nil {
		return nil, err
	}
	if previous != "" {
		p.cancelRecord(previous)
	}

	ctx, span := p.tracer.Start(ctx, "roomprep.upload", "session_id", s.ID())
	defer span.End()
	resp, err := p.remover.RemoveFurniture(ctx, renderer.RemoveFurnitureRequest{Image: original})
	if err == nil && resp.JobID == "" {
		err = errors.New("renderer returned no job id")
	}
	if err != nil {
		p.tracer.RecordError(span, err)
		p.logger.Warn("furniture removal not started, using original upload", "session_id", s.ID(), "error", err)
		s.Publish(events.RoomFallback, map[string]string{"reason": "start_failed"})
		return result, nil
	}

	now := p.now()
	job := &jobs.Job{
		ID:        resp.JobID,
		SessionID: s.ID(),
		Status:    jobs.StatusPending,
		Outcome:   jobs.OutcomePolling,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.jobs.Create(ctx, job); err != nil {
		p.logger.Warn("failed to record job", "job_id", job.ID, "error", err)
	}

	jobCtx, err := s.StartJob(gen, job.ID)
	if err != nil {
		// A newer upload won the race; this job is already superseded.
		p.cancelRecord(job.ID)
		return nil, err
	}
	result.JobID = job.ID
	s.Publish(events.JobStatus, map[string]string{"job_id": job.ID, "status": string(jobs.StatusPending)})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.watch(jobCtx, s, job)
	}()
	return result, nil
}

// watch polls job to a terminal outcome and applies it to the session.
func (p *Preparer) watch(ctx context.Context, s *session.Session, job *jobs.Job) {
	logger := p.logger.With("session_id", s.ID(), "job_id", job.ID)
	res := jobs.NewPoller(job.ID, p.remover, p.poller).Run(ctx)
	p.metrics.RecordPollOutcome(string(res.Outcome))
	logger.Info("furniture removal finished", "outcome", res.Outcome, "attempts", res.Attempts)

	p.record(job, res)

	var err error
	switch res.Outcome {
	case jobs.OutcomeCompleted:
		if err = s.CompleteJob(job.ID, res.Image); err == nil {
			p.persistClean(s.ID(), res.Image, logger)
			s.Publish(events.RoomPrepared, map[string]string{"job_id": job.ID})
		}
	case jobs.OutcomeFailed:
		if err = s.FallbackJob(job.ID); err == nil {
			s.Publish(events.RoomFallback, map[string]string{"job_id": job.ID, "reason": "failed", "error": res.Error})
		}
	case jobs.OutcomeTimedOut:
		if err = s.FallbackJob(job.ID); err == nil {
			s.Publish(events.RoomFallback, map[string]string{"job_id": job.ID, "reason": "timed_out"})
			s.Publish(events.Error, map[string]string{"code": "furniture_removal_timeout", "message": res.Error})
		}
	case jobs.OutcomeNotFound:
		err = s.EndJob(job.ID)
	case jobs.OutcomeErrored:
		if err = s.EndJob(job.ID); err == nil {
			s.Publish(events.Error, map[string]string{"code": "furniture_removal_unavailable", "message": res.Error})
		}
	case jobs.OutcomeCancelled:
		return
	}
	if errors.Is(err, session.ErrStaleJob) || errors.Is(err, session.ErrClosed) {
		logger.Debug("ignoring outcome of superseded job", "outcome", res.Outcome)
		return
	}
	if err != nil {
		logger.Warn("failed to apply job outcome", "error", err)
	}
}

func (p *Preparer) record(job *jobs.Job, res jobs.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	now := p.now()
	job.Outcome = res.Outcome
	job.Attempts = res.Attempts
	job.Error = res.Error
	job.UpdatedAt = now
	job.FinishedAt = now
	if res.Outcome == jobs.OutcomeCompleted {
		job.Status = jobs.StatusCompleted
		job.ResultImage = res.Image
	} else {
		job.Status = jobs.StatusFailed
		if job.Error == "" && res.Outcome == jobs.OutcomeCancelled {
			job.Error = "job cancelled"
		}
	}
	if err := p.jobs.Update(ctx, job); err != nil {
		p.logger.Warn("failed to update job", "job_id", job.ID, "error", err)
	}
}

func (p *Preparer) cancelRecord(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := p.jobs.Cancel(ctx, jobID); err != nil {
		p.logger.Warn("failed to cancel job", "job_id", jobID, "error", err)
	}
}

func (p *Preparer) persistClean(sessionID, image string, logger *slog.Logger) {
	if p.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := p.store.Put(ctx, CleanRoomKey(sessionID), []byte(image)); err != nil {
		logger.Warn("failed to persist clean room", "error", err)
	}
}

// LoadCleanRoom returns a persisted clean room for sessionID.
func (p *Preparer) LoadCleanRoom(ctx context.Context, sessionID string) (string, error) {
	if p.store == nil {
		return "", storage.ErrNotFound
	}
	data, err := p.store.Get(ctx, CleanRoomKey(sessionID))
	if err != nil {
		return "", fmt.Errorf("load clean room: %w", err)
	}
	return string(data), nil
}

// Wait blocks until every background poll has finished.
func (p *Preparer) Wait() {
	p.wg.Wait()
}
