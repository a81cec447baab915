// Package editmode implements the position editor: furniture is extracted
// as movable layers, moved directly or by instruction, and composited back
// into a new history entry.
package editmode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/roomviz/internal/catalog"
	"github.com/haasonsaas/roomviz/internal/events"
	"github.com/haasonsaas/roomviz/internal/history"
	"github.com/haasonsaas/roomviz/internal/jobs"
	"github.com/haasonsaas/roomviz/internal/observability"
	"github.com/haasonsaas/roomviz/internal/renderer"
	"github.com/haasonsaas/roomviz/internal/session"
	"github.com/haasonsaas/roomviz/internal/visualizer"
)

var (
	ErrNoPendingMove = errors.New("no pending move to finalize")
	// ErrPendingMove is returned for operations that conflict with an
	// unfinalized drag.
	ErrPendingMove  = errors.New("a move is pending; finalize or exit first")
	ErrUnknownLayer = errors.New("unknown layer")
	ErrInvalidPoint = errors.New("point coordinates must be within [0,1]")
	ErrNoLayers     = errors.New("edit mode has no layers to apply")
	ErrNoSegment    = errors.New("segmenter found nothing at that point")
)

// Labels used for history entries and metrics.
const (
	labelMove   = "move"
	labelLayout = "layout"
)

// Options configures an Editor.
type Options struct {
	Segmenter renderer.Segmenter
	// Remover provides the clean background when extraction fails.
	Remover    renderer.FurnitureRemover
	Dispatcher *visualizer.Dispatcher
	Poller     jobs.PollerConfig
	Logger     *slog.Logger
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
}

// Editor drives edit mode for sessions.
type Editor struct {
	segmenter  renderer.Segmenter
	remover    renderer.FurnitureRemover
	dispatcher *visualizer.Dispatcher
	poller     jobs.PollerConfig
	logger     *slog.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
}

// New creates an editor.
func New(opts Options) *Editor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Editor{
		segmenter:  opts.Segmenter,
		remover:    opts.Remover,
		dispatcher: opts.Dispatcher,
		poller:     opts.Poller,
		logger:     opts.Logger.With("component", "editmode"),
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
	}
}

// Result is the outcome of an operation that committed a new image.
type Result struct {
	Image   string              `json:"image"`
	History session.HistoryView `json:"history"`
}

// Enter opens edit mode on the current rendered image. Layer extraction is
// tried first; when it fails the room is cleaned by furniture removal and
// the products are laid out on a grid. When that fails too, edit mode opens
// on the current image alone.
func (e *Editor) Enter(ctx context.Context, s *session.Session) (session.EditState, error) {
	r, err := s.BeginRender(ctx)
	if err != nil {
		return session.EditState{}, err
	}
	defer r.Done()
	if r.RenderedImage == "" {
		return session.EditState{}, session.ErrNoRenderedImage
	}

	instances := catalog.Expand(r.Depicted)
	state, err := e.extract(r.Ctx, r.RenderedImage, instances)
	if err != nil {
		e.logger.Warn("layer extraction failed, using grid layout", "session_id", s.ID(), "error", err)
		state = e.gridFallback(r.Ctx, s, r.RenderedImage, instances)
	}
	state.BaseImage = r.RenderedImage

	if err := s.EnterEdit(state); err != nil {
		return session.EditState{}, err
	}
	s.Publish(events.EditEntered, map[string]any{"mode": state.Mode, "layers": len(state.Layers)})
	return state, nil
}

func (e *Editor) extract(ctx context.Context, image string, instances []catalog.Instance) (session.EditState, error) {
	if e.segmenter == nil {
		return session.EditState{}, errors.New("no segmenter configured")
	}
	ctx, span := e.tracer.Start(ctx, "editmode.extract", "instances", len(instances))
	defer span.End()

	resp, err := e.segmenter.ExtractLayers(ctx, renderer.ExtractLayersRequest{Image: image, Products: instances})
	if err != nil {
		e.tracer.RecordError(span, err)
		return session.EditState{}, err
	}
	if resp.CleanBackground == "" || len(resp.Layers) == 0 {
		return session.EditState{}, errors.New("extraction returned no layers")
	}
	layers := make([]session.Layer, len(resp.Layers))
	for i, l := range resp.Layers {
		id := l.ID
		if id == "" {
			id = uuid.NewString()
		}
		layers[i] = session.Layer{
			ID:        id,
			ProductID: l.ProductID,
			Name:      l.Name,
			Cutout:    l.Cutout,
			Mask:      l.Mask,
			X:         clamp(l.X),
			Y:         clamp(l.Y),
			Width:     l.Width,
			Height:    l.Height,
			Scale:     1,
			ZIndex:    i,
		}
	}
	return session.EditState{
		Mode:       session.ModeMagicGrab,
		Background: resp.CleanBackground,
		Layers:     layers,
	}, nil
}

func (e *Editor) gridFallback(ctx context.Context, s *session.Session, image string, instances []catalog.Instance) session.EditState {
	background, err := e.removeFurniture(ctx, image)
	if err != nil {
		e.logger.Warn("furniture removal failed, editing the image as is", "session_id", s.ID(), "error", err)
		return session.EditState{Mode: session.ModeImageOnly, Background: image}
	}
	return session.EditState{
		Mode:       session.ModeGrid,
		Background: background,
		Layers:     GridLayout(instances),
	}
}

func (e *Editor) removeFurniture(ctx context.Context, image string) (string, error) {
	if e.remover == nil {
		return "", errors.New("no furniture remover configured")
	}
	resp, err := e.remover.RemoveFurniture(ctx, renderer.RemoveFurnitureRequest{Image: image})
	if err != nil {
		return "", fmt.Errorf("start furniture removal: %w", err)
	}
	clean, err := jobs.Wait(ctx, e.remover, resp.JobID, e.poller)
	outcome := jobs.OutcomeCompleted
	var oe *jobs.OutcomeError
	if errors.As(err, &oe) {
		outcome = oe.Outcome
	} else if err != nil {
		outcome = jobs.OutcomeCancelled
	}
	e.metrics.RecordPollOutcome(string(outcome))
	return clean, err
}

// GridLayout spreads instances over the central 60% of the image, row by
// row, on a grid with ceil(sqrt(n)) columns.
func GridLayout(instances []catalog.Instance) []session.Layer {
	n := len(instances)
	if n == 0 {
		return nil
	}
	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := (n + cols - 1) / cols
	layers := make([]session.Layer, n)
	for i, in := range instances {
		row, col := i/cols, i%cols
		layers[i] = session.Layer{
			ID:        in.InstanceID,
			ProductID: in.ProductID,
			Name:      in.Name,
			X:         0.2 + float64(col+1)*0.6/float64(cols+1),
			Y:         0.2 + float64(row+1)*0.6/float64(rows+1),
			Scale:     1,
			ZIndex:    i,
		}
	}
	return layers
}

// Drag moves a layer locally. Moving a cutout layer records a pending move
// for Finalize; grid markers are only repositioned until ApplyLayout.
func (e *Editor) Drag(s *session.Session, layerID string, x, y float64) (session.Layer, error) {
	var moved session.Layer
	err := s.UpdateEdit(func(st *session.EditState) error {
		i, ok := st.Layer(layerID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownLayer, layerID)
		}
		layer := st.Layers[i]
		if layer.Cutout != "" {
			if st.Pending != nil && st.Pending.LayerID != layerID {
				return ErrPendingMove
			}
			if st.Pending == nil {
				background := layer.Inpainted
				if background == "" {
					background = st.Background
				}
				st.Pending = &session.PendingMove{
					LayerID:             layerID,
					OriginalImage:       st.BaseImage,
					Mask:                layer.Mask,
					Cutout:              layer.Cutout,
					OriginalPosition:    layer.Position(),
					Scale:               layer.Scale,
					InpaintedBackground: background,
					MatchedProductID:    layer.ProductID,
				}
			}
		}
		layer.X, layer.Y = clamp(x), clamp(y)
		st.Layers[i] = layer
		if st.Pending != nil {
			st.Pending.NewPosition = layer.Position()
		}
		st.Changed = true
		moved = layer
		return nil
	})
	if err != nil {
		return session.Layer{}, err
	}
	s.Publish(events.EditLayerMoved, map[string]any{"layer_id": layerID, "x": moved.X, "y": moved.Y})
	return moved, nil
}

// SegmentAt selects a piece the extraction missed by clicking on it.
func (e *Editor) SegmentAt(ctx context.Context, s *session.Session, x, y float64) (session.Layer, error) {
	if !inUnit(x) || !inUnit(y) {
		return session.Layer{}, ErrInvalidPoint
	}
	return e.segment(ctx, s, func(ctx context.Context, image string) (*renderer.SegmentResponse, error) {
		return e.segmenter.SegmentAtPoint(ctx, renderer.SegmentAtPointRequest{Image: image, X: x, Y: y})
	})
}

// SegmentAtPoints selects a piece from several clicks on it.
func (e *Editor) SegmentAtPoints(ctx context.Context, s *session.Session, points []renderer.Point) (session.Layer, error) {
	if len(points) == 0 {
		return session.Layer{}, ErrInvalidPoint
	}
	for _, p := range points {
		if !inUnit(p.X) || !inUnit(p.Y) {
			return session.Layer{}, ErrInvalidPoint
		}
	}
	return e.segment(ctx, s, func(ctx context.Context, image string) (*renderer.SegmentResponse, error) {
		return e.segmenter.SegmentAtPoints(ctx, renderer.SegmentAtPointsRequest{Image: image, Points: points})
	})
}

func (e *Editor) segment(ctx context.Context, s *session.Session, call func(context.Context, string) (*renderer.SegmentResponse, error)) (session.Layer, error) {
	state, ok := s.Edit()
	if !ok {
		return session.Layer{}, session.ErrNotEditing
	}
	if e.segmenter == nil {
		return session.Layer{}, errors.New("no segmenter configured")
	}
	ctx, span := e.tracer.Start(ctx, "editmode.segment")
	defer span.End()
	resp, err := call(ctx, state.BaseImage)
	if err != nil {
		e.tracer.RecordError(span, err)
		return session.Layer{}, err
	}
	if resp.Cutout == "" {
		return session.Layer{}, ErrNoSegment
	}

	layer := session.Layer{
		ID:        uuid.NewString(),
		ProductID: resp.MatchedProductID,
		Cutout:    resp.Cutout,
		Mask:      resp.Mask,
		Inpainted: resp.InpaintedBackground,
		X:         clamp(resp.X),
		Y:         clamp(resp.Y),
		Width:     resp.Width,
		Height:    resp.Height,
		Scale:     1,
	}
	err = s.UpdateEdit(func(st *session.EditState) error {
		layer.ZIndex = len(st.Layers)
		st.Layers = append(st.Layers, layer)
		return nil
	})
	if err != nil {
		return session.Layer{}, err
	}
	return layer, nil
}

// Finalize commits the pending move through the renderer and pushes the
// composited image. The move is consumed; it is put back if the renderer
// call fails.
func (e *Editor) Finalize(ctx context.Context, s *session.Session) (*Result, error) {
	r, err := s.BeginEditRender(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Done()

	var move session.PendingMove
	err = s.UpdateEdit(func(st *session.EditState) error {
		if st.Pending == nil {
			return ErrNoPendingMove
		}
		move = *st.Pending
		st.Pending = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	callCtx, span := e.tracer.Start(r.Ctx, "editmode.finalize", "layer_id", move.LayerID)
	defer span.End()
	resp, err := e.segmenter.FinalizeMove(callCtx, renderer.FinalizeMoveRequest{
		OriginalImage:       move.OriginalImage,
		Mask:                move.Mask,
		Cutout:              move.Cutout,
		OriginalPosition:    move.OriginalPosition,
		NewPosition:         move.NewPosition,
		Scale:               move.Scale,
		InpaintedBackground: move.InpaintedBackground,
		MatchedProductID:    move.MatchedProductID,
	})
	if err == nil && resp.Result() == "" {
		err = errors.New("finalize returned no image")
	}
	if err != nil {
		e.tracer.RecordError(span, err)
		e.metrics.RecordRender(labelMove, "error", time.Since(start).Seconds())
		_ = s.UpdateEdit(func(st *session.EditState) error {
			if st.Pending == nil {
				st.Pending = &move
			}
			return nil
		})
		return nil, err
	}

	return e.commit(r, s, resp.Result(), labelMove, start)
}

// ApplyLayout commits every layer position at once: cutouts are composited
// over the clean background, grid markers are re-rendered at their
// positions.
func (e *Editor) ApplyLayout(ctx context.Context, s *session.Session) (*Result, error) {
	r, err := s.BeginEditRender(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Done()

	state, ok := s.Edit()
	if !ok {
		return nil, session.ErrNotEditing
	}
	if len(state.Layers) == 0 {
		return nil, ErrNoLayers
	}
	background := state.Background
	if background == "" {
		background = state.BaseImage
	}

	start := time.Now()
	callCtx, span := e.tracer.Start(r.Ctx, "editmode.apply_layout", "mode", string(state.Mode), "layers", len(state.Layers))
	defer span.End()

	var resp *renderer.ImageResponse
	if state.Mode == session.ModeMagicGrab {
		placements := make([]renderer.LayerPlacement, len(state.Layers))
		for i, l := range state.Layers {
			placements[i] = renderer.LayerPlacement{
				ID:        l.ID,
				ProductID: l.ProductID,
				Cutout:    l.Cutout,
				X:         l.X,
				Y:         l.Y,
				Width:     l.Width,
				Height:    l.Height,
				Scale:     l.Scale,
				Rotation:  l.Rotation,
				ZIndex:    l.ZIndex,
			}
		}
		resp, err = e.segmenter.CompositeLayers(callCtx, renderer.CompositeLayersRequest{
			Background: background,
			Layers:     placements,
		})
	} else {
		positions := make([]renderer.Position, len(state.Layers))
		for i, l := range state.Layers {
			positions[i] = l.Position()
		}
		resp, err = e.segmenter.RevisualizeWithPositions(callCtx, renderer.RevisualizeRequest{
			BaseImage: background,
			Products:  catalog.Expand(r.Depicted),
			Positions: positions,
		})
	}
	if err == nil && resp.Result() == "" {
		err = errors.New("layout returned no image")
	}
	if err != nil {
		e.tracer.RecordError(span, err)
		e.metrics.RecordRender(labelLayout, "error", time.Since(start).Seconds())
		return nil, err
	}
	return e.commit(r, s, resp.Result(), labelLayout, start)
}

func (e *Editor) commit(r *session.Render, s *session.Session, image, label string, start time.Time) (*Result, error) {
	if err := r.Commit(history.NewEntry(image, r.Depicted, label)); err != nil {
		e.metrics.RecordRender(label, "stale", time.Since(start).Seconds())
		return nil, err
	}
	e.metrics.RecordRender(label, "success", time.Since(start).Seconds())
	s.Publish(events.RenderCompleted, map[string]any{"kind": label})
	return &Result{Image: image, History: s.History()}, nil
}

// ApplyInstruction edits the image from free text. It is refused while a
// dragged layer waits for Finalize.
func (e *Editor) ApplyInstruction(ctx context.Context, s *session.Session, instruction string) (*Result, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return nil, visualizer.ErrEmptyInstruction
	}
	state, ok := s.Edit()
	if !ok {
		return nil, session.ErrNotEditing
	}
	if state.Pending != nil {
		return nil, ErrPendingMove
	}
	r, err := s.BeginEditRender(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Done()

	res, err := e.dispatcher.Instruct(r, s, state.BaseImage, instruction)
	if err != nil {
		return nil, err
	}
	return &Result{Image: res.Image, History: res.History}, nil
}

// ExitReport describes what leaving edit mode discarded.
type ExitReport struct {
	Mode session.EditMode `json:"mode"`
	// DiscardedMove is set when a dragged layer was never finalized.
	DiscardedMove  bool `json:"discarded_move"`
	UnsavedChanges bool `json:"unsaved_changes"`
}

// Exit leaves edit mode. The rendered image is left as the last commit
// made it.
func (e *Editor) Exit(s *session.Session) (ExitReport, error) {
	state, ok := s.ExitEdit()
	if !ok {
		return ExitReport{}, session.ErrNotEditing
	}
	report := ExitReport{
		Mode:           state.Mode,
		DiscardedMove:  state.Pending != nil,
		UnsavedChanges: state.Pending != nil || state.Changed,
	}
	if report.UnsavedChanges {
		e.logger.Warn("leaving edit mode with unsaved changes", "session_id", s.ID(),
			"discarded_move", report.DiscardedMove)
	}
	s.Publish(events.EditExited, report)
	return report, nil
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}
