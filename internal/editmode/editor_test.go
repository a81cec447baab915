package editmode

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/roomviz/internal/catalog"
	"github.com/haasonsaas/roomviz/internal/jobs"
	"github.com/haasonsaas/roomviz/internal/renderer"
	"github.com/haasonsaas/roomviz/internal/session"
	"github.com/haasonsaas/roomviz/internal/visualizer"
)

type stubRenderer struct{}

func (stubRenderer) Visualize(ctx context.Context, req renderer.VisualizeRequest) (*renderer.VisualizeResponse, error) {
	return &renderer.VisualizeResponse{RenderedImage: "render"}, nil
}

func (stubRenderer) VisualizeAngle(ctx context.Context, req renderer.AngleRequest) (*renderer.ImageResponse, error) {
	return &renderer.ImageResponse{Image: "angle"}, nil
}

func (stubRenderer) EditWithInstructions(ctx context.Context, req renderer.EditRequest) (*renderer.ImageResponse, error) {
	return &renderer.ImageResponse{Image: "instructed-" + req.Image}, nil
}

type fakeSegmenter struct {
	mu          sync.Mutex
	extractErr  error
	finalizeErr error
	finalized   []renderer.FinalizeMoveRequest
	composited  []renderer.CompositeLayersRequest
	revisualize []renderer.RevisualizeRequest
}

func (f *fakeSegmenter) ExtractLayers(ctx context.Context, req renderer.ExtractLayersRequest) (*renderer.ExtractLayersResponse, error) {
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	return &renderer.ExtractLayersResponse{
		CleanBackground: "bg",
		Layers: []renderer.Layer{
			{ID: "l1", ProductID: "sofa-1", Cutout: "cut-1", Mask: "mask-1", X: 0.3, Y: 0.6, Width: 0.4, Height: 0.2},
			{ID: "l2", ProductID: "lamp-1", Cutout: "cut-2", Mask: "mask-2", X: 0.8, Y: 0.4, Width: 0.1, Height: 0.3},
		},
	}, nil
}

func (f *fakeSegmenter) SegmentAtPoint(ctx context.Context, req renderer.SegmentAtPointRequest) (*renderer.SegmentResponse, error) {
	return &renderer.SegmentResponse{Cutout: "cut-x", Mask: "mask-x", X: req.X, Y: req.Y, Width: 0.1, Height: 0.1, InpaintedBackground: "inpainted"}, nil
}

func (f *fakeSegmenter) SegmentAtPoints(ctx context.Context, req renderer.SegmentAtPointsRequest) (*renderer.SegmentResponse, error) {
	return &renderer.SegmentResponse{}, nil
}

func (f *fakeSegmenter) FinalizeMove(ctx context.Context, req renderer.FinalizeMoveRequest) (*renderer.ImageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finalizeErr != nil {
		return nil, f.finalizeErr
	}
	f.finalized = append(f.finalized, req)
	return &renderer.ImageResponse{Image: "moved"}, nil
}

func (f *fakeSegmenter) CompositeLayers(ctx context.Context, req renderer.CompositeLayersRequest) (*renderer.ImageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.composited = append(f.composited, req)
	return &renderer.ImageResponse{Image: "composited"}, nil
}

func (f *fakeSegmenter) RevisualizeWithPositions(ctx context.Context, req renderer.RevisualizeRequest) (*renderer.ImageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revisualize = append(f.revisualize, req)
	return &renderer.ImageResponse{RenderedImage: "repositioned"}, nil
}

type fakeRemover struct {
	startErr error
	status   renderer.JobStatusResponse
}

func (f *fakeRemover) RemoveFurniture(ctx context.Context, req renderer.RemoveFurnitureRequest) (*renderer.RemoveFurnitureResponse, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &renderer.RemoveFurnitureResponse{JobID: "job-edit"}, nil
}

func (f *fakeRemover) FurnitureStatus(ctx context.Context, jobID string) (*renderer.JobStatusResponse, error) {
	resp := f.status
	return &resp, nil
}

type instantScheduler struct{}

func (instantScheduler) Wait(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func newEditor(seg *fakeSegmenter, rem *fakeRemover) *Editor {
	return New(Options{
		Segmenter:  seg,
		Remover:    rem,
		Dispatcher: visualizer.New(visualizer.Options{Renderer: stubRenderer{}}),
		Poller:     jobs.PollerConfig{MaxAttempts: 3, Scheduler: instantScheduler{}},
	})
}

// renderedSession returns a session with sofa and lamp visualized as
// "render".
func renderedSession(t *testing.T) *session.Session {
	t.Helper()
	s := session.New(session.Options{ID: "s1"})
	if _, err := s.BeginUpload("original"); err != nil {
		t.Fatalf("BeginUpload() failed: %v", err)
	}
	for _, p := range []catalog.Product{
		{ID: "sofa-1", Name: "Oslo Sofa", ProductType: "sofa", Quantity: 1},
		{ID: "lamp-1", Name: "Arc Lamp", ProductType: "lamp", Quantity: 2},
	} {
		if _, err := s.AddProduct(p); err != nil {
			t.Fatalf("AddProduct() failed: %v", err)
		}
	}
	d := visualizer.New(visualizer.Options{Renderer: stubRenderer{}})
	if _, err := d.Visualize(context.Background(), s); err != nil {
		t.Fatalf("Visualize() failed: %v", err)
	}
	return s
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestGridLayout(t *testing.T) {
	instances := make([]catalog.Instance, 5)
	for i := range instances {
		instances[i] = catalog.Instance{InstanceID: string(rune('a' + i))}
	}
	layers := GridLayout(instances)
	if len(layers) != 5 {
		t.Fatalf("GridLayout() returned %d layers", len(layers))
	}
	// 5 instances: 3 columns, 2 rows.
	tests := []struct {
		idx  int
		x, y float64
	}{
		{0, 0.35, 0.4},
		{2, 0.65, 0.4},
		{3, 0.35, 0.6},
		{4, 0.5, 0.6},
	}
	for _, tt := range tests {
		l := layers[tt.idx]
		if !approx(l.X, tt.x) || !approx(l.Y, tt.y) {
			t.Errorf("layer %d at (%v,%v), want (%v,%v)", tt.idx, l.X, l.Y, tt.x, tt.y)
		}
	}
	if GridLayout(nil) != nil {
		t.Fatalf("empty input should produce no layers")
	}
}

func TestEnterModes(t *testing.T) {
	tests := []struct {
		name       string
		seg        *fakeSegmenter
		rem        *fakeRemover
		wantMode   session.EditMode
		wantBG     string
		wantLayers int
	}{
		{
			name:       "magic grab",
			seg:        &fakeSegmenter{},
			rem:        &fakeRemover{},
			wantMode:   session.ModeMagicGrab,
			wantBG:     "bg",
			wantLayers: 2,
		},
		{
			name:       "grid fallback",
			seg:        &fakeSegmenter{extractErr: errors.New("cold start")},
			rem:        &fakeRemover{status: renderer.JobStatusResponse{Status: renderer.JobCompleted, Image: "clean-bg"}},
			wantMode:   session.ModeGrid,
			wantBG:     "clean-bg",
			wantLayers: 3,
		},
		{
			name:     "removal timed out",
			seg:      &fakeSegmenter{extractErr: errors.New("cold start")},
			rem:      &fakeRemover{status: renderer.JobStatusResponse{Status: renderer.JobProcessing}},
			wantMode: session.ModeImageOnly,
			wantBG:   "render",
		},
		{
			name:     "both fail",
			seg:      &fakeSegmenter{extractErr: errors.New("cold start")},
			rem:      &fakeRemover{startErr: errors.New("down")},
			wantMode: session.ModeImageOnly,
			wantBG:   "render",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := renderedSession(t)
			state, err := newEditor(tt.seg, tt.rem).Enter(context.Background(), s)
			if err != nil {
				t.Fatalf("Enter() failed: %v", err)
			}
			if state.Mode != tt.wantMode || state.Background != tt.wantBG || len(state.Layers) != tt.wantLayers {
				t.Fatalf("Enter() = mode %s bg %q layers %d", state.Mode, state.Background, len(state.Layers))
			}
			if state.BaseImage != "render" {
				t.Fatalf("BaseImage = %q", state.BaseImage)
			}
			if _, ok := s.Edit(); !ok {
				t.Fatalf("session should be in edit mode")
			}
			if s.Busy() {
				t.Fatalf("Enter() should release the render slot")
			}
		})
	}
}

func TestEnterRequiresRenderedImage(t *testing.T) {
	s := session.New(session.Options{ID: "s1"})
	_, err := newEditor(&fakeSegmenter{}, &fakeRemover{}).Enter(context.Background(), s)
	if !errors.Is(err, session.ErrNoRenderedImage) {
		t.Fatalf("Enter() error = %v, want ErrNoRenderedImage", err)
	}
}

func TestDragAndFinalize(t *testing.T) {
	seg := &fakeSegmenter{}
	e := newEditor(seg, &fakeRemover{})
	s := renderedSession(t)
	ctx := context.Background()
	if _, err := e.Enter(ctx, s); err != nil {
		t.Fatalf("Enter() failed: %v", err)
	}
	if _, err := e.Finalize(ctx, s); !errors.Is(err, ErrNoPendingMove) {
		t.Fatalf("Finalize() without move = %v, want ErrNoPendingMove", err)
	}

	layer, err := e.Drag(s, "l1", 1.4, -0.2)
	if err != nil {
		t.Fatalf("Drag() failed: %v", err)
	}
	if layer.X != 1 || layer.Y != 0 {
		t.Fatalf("Drag() should clamp to [0,1], got (%v,%v)", layer.X, layer.Y)
	}
	if _, err := e.Drag(s, "l1", 0.5, 0.5); err != nil {
		t.Fatalf("second Drag() of the same layer failed: %v", err)
	}
	if _, err := e.Drag(s, "l2", 0.1, 0.1); !errors.Is(err, ErrPendingMove) {
		t.Fatalf("Drag() of another layer = %v, want ErrPendingMove", err)
	}
	if _, err := e.Drag(s, "nope", 0.1, 0.1); !errors.Is(err, ErrUnknownLayer) {
		t.Fatalf("Drag(unknown) = %v, want ErrUnknownLayer", err)
	}
	if _, err := e.ApplyInstruction(ctx, s, "move the lamp"); !errors.Is(err, ErrPendingMove) {
		t.Fatalf("ApplyInstruction() with pending move = %v, want ErrPendingMove", err)
	}

	res, err := e.Finalize(ctx, s)
	if err != nil {
		t.Fatalf("Finalize() failed: %v", err)
	}
	if res.Image != "moved" || res.History.Len != 2 {
		t.Fatalf("Finalize() = %+v", res)
	}
	req := seg.finalized[0]
	if req.OriginalImage != "render" || req.Cutout != "cut-1" || req.InpaintedBackground != "bg" {
		t.Fatalf("unexpected finalize request %+v", req)
	}
	if req.OriginalPosition.X != 0.3 || req.NewPosition.X != 0.5 || req.MatchedProductID != "sofa-1" {
		t.Fatalf("move positions = %+v -> %+v", req.OriginalPosition, req.NewPosition)
	}
	state, _ := s.Edit()
	if state.Pending != nil || state.BaseImage != "moved" || state.Changed {
		t.Fatalf("finalize should consume the move, got %+v", state)
	}
	if s.NeedsRerender() {
		t.Fatalf("moving furniture keeps the visualized set")
	}
	if _, err := e.Finalize(ctx, s); !errors.Is(err, ErrNoPendingMove) {
		t.Fatalf("second Finalize() = %v, want ErrNoPendingMove", err)
	}
}

func TestFinalizeFailureKeepsMove(t *testing.T) {
	seg := &fakeSegmenter{}
	e := newEditor(seg, &fakeRemover{})
	s := renderedSession(t)
	if _, err := e.Enter(context.Background(), s); err != nil {
		t.Fatalf("Enter() failed: %v", err)
	}
	if _, err := e.Drag(s, "l2", 0.2, 0.2); err != nil {
		t.Fatalf("Drag() failed: %v", err)
	}
	seg.finalizeErr = errors.New("timeout")
	if _, err := e.Finalize(context.Background(), s); err == nil {
		t.Fatalf("Finalize() should fail")
	}
	state, _ := s.Edit()
	if state.Pending == nil || state.Pending.LayerID != "l2" {
		t.Fatalf("failed finalize should keep the move, got %+v", state.Pending)
	}
	if s.RenderedImage() != "render" || s.History().Len != 1 {
		t.Fatalf("failed finalize changed the image")
	}
}

func TestApplyLayout(t *testing.T) {
	t.Run("composite", func(t *testing.T) {
		seg := &fakeSegmenter{}
		e := newEditor(seg, &fakeRemover{})
		s := renderedSession(t)
		if _, err := e.Enter(context.Background(), s); err != nil {
			t.Fatalf("Enter() failed: %v", err)
		}
		if _, err := e.Drag(s, "l1", 0.4, 0.7); err != nil {
			t.Fatalf("Drag() failed: %v", err)
		}
		res, err := e.ApplyLayout(context.Background(), s)
		if err != nil {
			t.Fatalf("ApplyLayout() failed: %v", err)
		}
		if res.Image != "composited" || len(seg.composited) != 1 {
			t.Fatalf("ApplyLayout() = %+v", res)
		}
		got := seg.composited[0]
		if got.Background != "bg" || len(got.Layers) != 2 || got.Layers[0].X != 0.4 {
			t.Fatalf("unexpected composite request %+v", got)
		}
		if state, _ := s.Edit(); state.Pending != nil {
			t.Fatalf("apply should clear the pending move")
		}
	})

	t.Run("grid", func(t *testing.T) {
		seg := &fakeSegmenter{extractErr: errors.New("cold start")}
		rem := &fakeRemover{status: renderer.JobStatusResponse{Status: renderer.JobCompleted, Image: "clean-bg"}}
		e := newEditor(seg, rem)
		s := renderedSession(t)
		state, err := e.Enter(context.Background(), s)
		if err != nil {
			t.Fatalf("Enter() failed: %v", err)
		}
		if _, err := e.Drag(s, state.Layers[0].ID, 0.1, 0.9); err != nil {
			t.Fatalf("Drag() failed: %v", err)
		}
		if st, _ := s.Edit(); st.Pending != nil || !st.Changed {
			t.Fatalf("grid drags have no pending move but mark changes")
		}
		res, err := e.ApplyLayout(context.Background(), s)
		if err != nil {
			t.Fatalf("ApplyLayout() failed: %v", err)
		}
		if res.Image != "repositioned" || len(seg.revisualize) != 1 {
			t.Fatalf("ApplyLayout() = %+v", res)
		}
		req := seg.revisualize[0]
		if req.BaseImage != "clean-bg" || len(req.Positions) != 3 || len(req.Products) != 3 {
			t.Fatalf("unexpected revisualize request %+v", req)
		}
		if req.Positions[0].X != 0.1 || req.Positions[0].Y != 0.9 {
			t.Fatalf("dragged position not sent: %+v", req.Positions[0])
		}
	})

	t.Run("no layers", func(t *testing.T) {
		seg := &fakeSegmenter{extractErr: errors.New("cold start")}
		e := newEditor(seg, &fakeRemover{startErr: errors.New("down")})
		s := renderedSession(t)
		if _, err := e.Enter(context.Background(), s); err != nil {
			t.Fatalf("Enter() failed: %v", err)
		}
		if _, err := e.ApplyLayout(context.Background(), s); !errors.Is(err, ErrNoLayers) {
			t.Fatalf("ApplyLayout() = %v, want ErrNoLayers", err)
		}
	})
}

func TestSegmentAt(t *testing.T) {
	e := newEditor(&fakeSegmenter{}, &fakeRemover{})
	s := renderedSession(t)
	if _, err := e.SegmentAt(context.Background(), s, 0.5, 0.5); !errors.Is(err, session.ErrNotEditing) {
		t.Fatalf("SegmentAt() outside edit mode = %v", err)
	}
	if _, err := e.Enter(context.Background(), s); err != nil {
		t.Fatalf("Enter() failed: %v", err)
	}
	if _, err := e.SegmentAt(context.Background(), s, 1.5, 0.5); !errors.Is(err, ErrInvalidPoint) {
		t.Fatalf("SegmentAt(out of range) = %v", err)
	}
	layer, err := e.SegmentAt(context.Background(), s, 0.25, 0.75)
	if err != nil {
		t.Fatalf("SegmentAt() failed: %v", err)
	}
	if layer.Cutout != "cut-x" || layer.ZIndex != 2 {
		t.Fatalf("unexpected layer %+v", layer)
	}
	state, _ := s.Edit()
	if len(state.Layers) != 3 {
		t.Fatalf("segmented layer not added, have %d", len(state.Layers))
	}

	if _, err := e.SegmentAtPoints(context.Background(), s, []renderer.Point{{X: 0.1, Y: 0.1}}); !errors.Is(err, ErrNoSegment) {
		t.Fatalf("SegmentAtPoints() with empty result = %v, want ErrNoSegment", err)
	}
	if _, err := e.SegmentAtPoints(context.Background(), s, nil); !errors.Is(err, ErrInvalidPoint) {
		t.Fatalf("SegmentAtPoints(nil) = %v", err)
	}

	// A segmented layer uses its own inpainted background.
	if _, err := e.Drag(s, layer.ID, 0.3, 0.3); err != nil {
		t.Fatalf("Drag() failed: %v", err)
	}
	state, _ = s.Edit()
	if state.Pending.InpaintedBackground != "inpainted" {
		t.Fatalf("pending background = %q", state.Pending.InpaintedBackground)
	}
}

func TestApplyInstructionAndExit(t *testing.T) {
	e := newEditor(&fakeSegmenter{}, &fakeRemover{})
	s := renderedSession(t)
	ctx := context.Background()
	if _, err := e.Enter(ctx, s); err != nil {
		t.Fatalf("Enter() failed: %v", err)
	}

	res, err := e.ApplyInstruction(ctx, s, "put the lamp next to the sofa")
	if err != nil {
		t.Fatalf("ApplyInstruction() failed: %v", err)
	}
	if res.Image != "instructed-render" || res.History.Len != 2 {
		t.Fatalf("ApplyInstruction() = %+v", res)
	}
	if state, _ := s.Edit(); state.BaseImage != "instructed-render" {
		t.Fatalf("edit base image not updated: %q", state.BaseImage)
	}

	if _, err := e.Drag(s, "l1", 0.9, 0.9); err != nil {
		t.Fatalf("Drag() failed: %v", err)
	}
	report, err := e.Exit(s)
	if err != nil {
		t.Fatalf("Exit() failed: %v", err)
	}
	if !report.DiscardedMove || !report.UnsavedChanges {
		t.Fatalf("Exit() = %+v, want discarded move", report)
	}
	if s.RenderedImage() != "instructed-render" {
		t.Fatalf("Exit() must not change the rendered image")
	}
	if _, err := e.Exit(s); !errors.Is(err, session.ErrNotEditing) {
		t.Fatalf("second Exit() = %v, want ErrNotEditing", err)
	}
	if _, err := e.ApplyLayout(ctx, s); !errors.Is(err, session.ErrNotEditing) {
		t.Fatalf("ApplyLayout() outside edit mode = %v, want ErrNotEditing", err)
	}
}

type imageRenderer struct {
	stubRenderer
	image string
}

func (r imageRenderer) Visualize(ctx context.Context, req renderer.VisualizeRequest) (*renderer.VisualizeResponse, error) {
	return &renderer.VisualizeResponse{RenderedImage: r.image}, nil
}

func TestRenderWhileEditingClosesEditMode(t *testing.T) {
	ctx := context.Background()
	seg := &fakeSegmenter{}
	e := newEditor(seg, &fakeRemover{})
	s := renderedSession(t)
	if _, err := e.Enter(ctx, s); err != nil {
		t.Fatalf("Enter() failed: %v", err)
	}

	planter := catalog.Product{ID: "plant-1", Name: "Fig Planter", ProductType: "plant", Quantity: 1}
	if _, err := s.AddProduct(planter); err != nil {
		t.Fatalf("AddProduct() failed: %v", err)
	}
	d := visualizer.New(visualizer.Options{Renderer: imageRenderer{image: "render-with-planter"}})
	if _, err := d.Visualize(ctx, s); err != nil {
		t.Fatalf("Visualize() failed: %v", err)
	}
	if _, ok := s.Edit(); ok {
		t.Fatalf("layers cut from the old image must not survive a new render")
	}
	if _, err := e.Drag(s, "l1", 0.5, 0.5); !errors.Is(err, session.ErrNotEditing) {
		t.Fatalf("Drag() after render = %v, want ErrNotEditing", err)
	}
	if _, err := e.Finalize(ctx, s); !errors.Is(err, session.ErrNotEditing) {
		t.Fatalf("Finalize() after render = %v, want ErrNotEditing", err)
	}
	if len(seg.finalized) != 0 {
		t.Fatalf("no finalize request should reach the renderer")
	}
	if s.RenderedImage() != "render-with-planter" || s.Visualized()["plant-1"] != 1 {
		t.Fatalf("image = %q visualized = %v", s.RenderedImage(), s.Visualized())
	}

	state, err := e.Enter(ctx, s)
	if err != nil {
		t.Fatalf("Enter() failed: %v", err)
	}
	if state.BaseImage != "render-with-planter" {
		t.Fatalf("re-entered edit mode on %q", state.BaseImage)
	}
	if _, err := e.Drag(s, "l1", 0.5, 0.5); err != nil {
		t.Fatalf("Drag() failed: %v", err)
	}
	if _, err := e.Finalize(ctx, s); err != nil {
		t.Fatalf("Finalize() failed: %v", err)
	}
	if got := seg.finalized[0].OriginalImage; got != "render-with-planter" {
		t.Fatalf("finalize sent %q, want the current image", got)
	}
}
