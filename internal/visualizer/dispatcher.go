// Package visualizer turns canvas changes into renderer calls and commits
// the results to the session history.
package visualizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/haasonsaas/roomviz/internal/analysis"
	"github.com/haasonsaas/roomviz/internal/catalog"
	"github.com/haasonsaas/roomviz/internal/changes"
	"github.com/haasonsaas/roomviz/internal/events"
	"github.com/haasonsaas/roomviz/internal/history"
	"github.com/haasonsaas/roomviz/internal/observability"
	"github.com/haasonsaas/roomviz/internal/renderer"
	"github.com/haasonsaas/roomviz/internal/session"
)

var (
	ErrInvalidAction    = errors.New("clarification action must be replace_one, replace_all or add")
	ErrInvalidAngle     = errors.New("invalid angle name")
	ErrEmptyInstruction = errors.New("instruction is empty")
)

// Kinds beyond the change detector's, used for metrics and history labels.
const (
	KindQuality     = "quality"
	KindInstruction = "instruction"
	KindAngle       = "angle"
)

var angleName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// Result describes a visualize call.
type Result struct {
	Kind               changes.Kind                 `json:"kind"`
	Image              string                       `json:"image,omitempty"`
	NeedsClarification bool                         `json:"needs_clarification,omitempty"`
	Message            string                       `json:"message,omitempty"`
	ExistingFurniture  []renderer.ExistingFurniture `json:"existing_furniture,omitempty"`
	History            session.HistoryView          `json:"history"`
}

// Options configures a Dispatcher.
type Options struct {
	Renderer renderer.Renderer
	// Analyzer is optional. Its hints are added to full renders.
	Analyzer analysis.Analyzer
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
}

// Dispatcher chooses between incremental and full renders.
type Dispatcher struct {
	renderer renderer.Renderer
	analyzer analysis.Analyzer
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// New creates a dispatcher.
func New(opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		renderer: opts.Renderer,
		analyzer: opts.Analyzer,
		logger:   opts.Logger.With("component", "visualizer"),
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
	}
}

// Visualize renders whatever changed since the last visualization.
func (d *Dispatcher) Visualize(ctx context.Context, s *session.Session) (*Result, error) {
	r, err := s.BeginRender(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Done()

	kind := changes.Detect(r.Live, r.Visualized)
	if kind == changes.NoChange {
		return &Result{Kind: kind, Image: r.RenderedImage, History: s.History()}, nil
	}
	if kind == changes.Additive && r.RenderedImage == "" {
		kind = changes.Initial
	}

	req := renderer.VisualizeRequest{
		SessionID:            s.ID(),
		UserUploadedNewImage: r.UploadedNew,
	}
	switch kind {
	case changes.Additive:
		req.BaseImage = r.RenderedImage
		req.Products = changes.Delta(r.Live, r.Visualized)
		req.IsIncremental = true
	case changes.Initial, changes.Reset:
		baseline := r.Room.Baseline()
		if baseline == "" {
			return nil, session.ErrNoRoom
		}
		req.BaseImage = baseline
		req.Products = catalog.Expand(r.Live)
		req.ForceReset = kind == changes.Reset
		if len(r.Live) == 0 {
			return d.resetToBaseline(r, s, baseline)
		}
		req.Analysis = d.analyze(r.Ctx, baseline)
	}

	return d.submit(r, s, string(kind), kind, req, r.Live, r.Commit)
}

// resetToBaseline handles a canvas emptied after a render: the clean room
// becomes the current state without a renderer call.
func (d *Dispatcher) resetToBaseline(r *session.Render, s *session.Session, baseline string) (*Result, error) {
	if err := r.Commit(history.NewEntry(baseline, nil, string(changes.Reset))); err != nil {
		return nil, err
	}
	d.metrics.RecordRender(string(changes.Reset), "success", 0)
	s.Publish(events.RenderCompleted, map[string]any{"kind": changes.Reset, "renderer_call": false})
	return &Result{Kind: changes.Reset, Image: baseline, History: s.History()}, nil
}

// ResolveClarification resubmits the parked request with the user's choice.
func (d *Dispatcher) ResolveClarification(ctx context.Context, s *session.Session, action renderer.ClarificationAction) (*Result, error) {
	if !action.Valid() {
		return nil, ErrInvalidAction
	}
	r, err := s.BeginRender(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Done()

	parked, err := r.TakeClarification()
	if err != nil {
		return nil, err
	}
	req := parked.Request
	req.Action = action
	return d.submit(r, s, string(parked.Kind), parked.Kind, req, parked.Products, r.Commit)
}

// ImproveQuality re-renders every current product from the clean baseline at
// high quality. The result replaces the whole history.
func (d *Dispatcher) ImproveQuality(ctx context.Context, s *session.Session) (*Result, error) {
	r, err := s.BeginRender(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Done()

	if r.RenderedImage == "" {
		return nil, session.ErrNoRenderedImage
	}
	baseline := r.Room.Baseline()
	if baseline == "" {
		return nil, session.ErrNoRoom
	}
	req := renderer.VisualizeRequest{
		SessionID:  s.ID(),
		BaseImage:  baseline,
		Products:   catalog.Expand(r.Live),
		ForceReset: true,
		Quality:    renderer.QualityHigh,
		Analysis:   d.analyze(r.Ctx, baseline),
	}
	return d.submit(r, s, KindQuality, changes.Reset, req, r.Live, r.CommitReset)
}

func (d *Dispatcher) submit(r *session.Render, s *session.Session, label string, kind changes.Kind, req renderer.VisualizeRequest, products []catalog.Product, commit func(history.Entry) error) (*Result, error) {
	ctx, span := d.tracer.Start(r.Ctx, "visualizer.render", "kind", label, "products", len(req.Products))
	defer span.End()
	start := time.Now()
	s.Publish(events.RenderStarted, map[string]any{"kind": label, "products": len(req.Products)})

	resp, err := d.renderer.Visualize(ctx, req)
	if err != nil {
		d.tracer.RecordError(span, err)
		return nil, d.fail(s, label, start, err)
	}
	if resp.NeedsClarification {
		err := r.Park(session.Clarification{
			Request:    req,
			Kind:       kind,
			Products:   products,
			Message:    resp.Message,
			Candidates: resp.ExistingFurniture,
		})
		if err != nil {
			return nil, d.fail(s, label, start, err)
		}
		d.metrics.RecordRender(label, "clarification", time.Since(start).Seconds())
		return &Result{
			Kind:               kind,
			NeedsClarification: true,
			Message:            resp.Message,
			ExistingFurniture:  resp.ExistingFurniture,
			History:            s.History(),
		}, nil
	}

	if err := commit(history.NewEntry(resp.RenderedImage, products, label)); err != nil {
		return nil, d.fail(s, label, start, err)
	}
	d.metrics.RecordRender(label, "success", time.Since(start).Seconds())
	d.logger.Info("render completed", "session_id", s.ID(), "kind", label,
		"instances", len(req.Products), "duration_ms", time.Since(start).Milliseconds())
	s.Publish(events.RenderCompleted, map[string]any{"kind": label})
	return &Result{Kind: kind, Image: resp.RenderedImage, History: s.History()}, nil
}

func (d *Dispatcher) fail(s *session.Session, label string, start time.Time, err error) error {
	status := "error"
	if errors.Is(err, session.ErrStaleRender) {
		status = "stale"
	}
	d.metrics.RecordRender(label, status, time.Since(start).Seconds())
	d.logger.Warn("render failed", "session_id", s.ID(), "kind", label, "error", err)
	s.Publish(events.RenderFailed, map[string]string{"kind": label, "error": err.Error()})
	return err
}

// analyze returns hints for base. Failures are logged and ignored.
func (d *Dispatcher) analyze(ctx context.Context, base string) *renderer.RoomAnalysis {
	if d.analyzer == nil {
		return nil
	}
	hints, err := d.analyzer.Analyze(ctx, base)
	if err != nil {
		d.logger.Warn("room analysis failed", "error", err)
		return nil
	}
	return hints
}

// GenerateAngle returns a view of the current image from another angle.
// Views are cached per image and have no history effect.
func (d *Dispatcher) GenerateAngle(ctx context.Context, s *session.Session, angle string) (string, error) {
	angle = strings.ToLower(strings.TrimSpace(angle))
	if !angleName.MatchString(angle) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAngle, angle)
	}
	if img, ok := s.CachedAngle(angle); ok {
		return img, nil
	}

	r, err := s.BeginRender(ctx)
	if err != nil {
		return "", err
	}
	defer r.Done()
	if r.RenderedImage == "" {
		return "", session.ErrNoRenderedImage
	}

	ctx, span := d.tracer.Start(r.Ctx, "visualizer.angle", "angle", angle)
	defer span.End()
	start := time.Now()
	resp, err := d.renderer.VisualizeAngle(ctx, renderer.AngleRequest{
		BaseImage: r.RenderedImage,
		Angle:     angle,
		Products:  catalog.Expand(r.Depicted),
	})
	if err != nil {
		d.tracer.RecordError(span, err)
		d.metrics.RecordRender(KindAngle, "error", time.Since(start).Seconds())
		return "", err
	}
	d.metrics.RecordRender(KindAngle, "success", time.Since(start).Seconds())
	img := resp.Result()
	s.StoreAngle(r.RenderedImage, angle, img)
	return img, nil
}

// EditWithInstructions applies a free-text edit to the current image and
// pushes the result.
func (d *Dispatcher) EditWithInstructions(ctx context.Context, s *session.Session, instruction string) (*Result, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return nil, ErrEmptyInstruction
	}
	r, err := s.BeginRender(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Done()
	return d.Instruct(r, s, r.RenderedImage, instruction)
}

// Instruct runs an instruction edit on image inside a render slot the caller
// already holds. Edit mode uses it with its own base image. The edited image
// is recorded as depicting the same products as the one it came from.
func (d *Dispatcher) Instruct(r *session.Render, s *session.Session, image, instruction string) (*Result, error) {
	if image == "" {
		return nil, session.ErrNoRenderedImage
	}
	ctx, span := d.tracer.Start(r.Ctx, "visualizer.instruction")
	defer span.End()
	start := time.Now()
	s.Publish(events.RenderStarted, map[string]any{"kind": KindInstruction})

	resp, err := d.renderer.EditWithInstructions(ctx, renderer.EditRequest{
		Image:       image,
		Instruction: instruction,
		Products:    catalog.Expand(r.Depicted),
	})
	if err != nil {
		d.tracer.RecordError(span, err)
		return nil, d.fail(s, KindInstruction, start, err)
	}
	if err := r.Commit(history.NewEntry(resp.Result(), r.Depicted, KindInstruction)); err != nil {
		return nil, d.fail(s, KindInstruction, start, err)
	}
	d.metrics.RecordRender(KindInstruction, "success", time.Since(start).Seconds())
	s.Publish(events.RenderCompleted, map[string]any{"kind": KindInstruction})
	return &Result{Kind: changes.NoChange, Image: resp.Result(), History: s.History()}, nil
}

// Undo restores the previous rendered state.
func (d *Dispatcher) Undo(s *session.Session) (history.Entry, error) {
	return s.Undo()
}

// Redo re-applies the most recently undone state.
func (d *Dispatcher) Redo(s *session.Session) (history.Entry, error) {
	return s.Redo()
}
