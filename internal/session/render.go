package session

import (
	"context"
	"sort"
	"sync"

	"github.com/haasonsaas/roomviz/internal/catalog"
	"github.com/haasonsaas/roomviz/internal/changes"
	"github.com/haasonsaas/roomviz/internal/events"
	"github.com/haasonsaas/roomviz/internal/history"
	"github.com/haasonsaas/roomviz/internal/renderer"
)

// Render is an exclusive render slot with a snapshot of the state it started
// from. Call Done when finished, whether or not it was committed.
type Render struct {
	// Ctx is cancelled by Done, by a new room upload and by Close.
	Ctx context.Context

	Live       []catalog.Product
	Visualized map[string]int
	// Depicted are the products shown in RenderedImage, as recorded by the
	// current history entry. They may include products since removed from
	// the canvas.
	Depicted      []catalog.Product
	RenderedImage string
	Room          RoomImages
	UploadedNew   bool

	s          *Session
	generation uint64
	edit       bool
	cancel     context.CancelFunc
	once       sync.Once
}

// BeginRender claims the session's single render slot. It fails with
// ErrBusy while another render is in flight.
func (s *Session) BeginRender(parent context.Context) (*Render, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beginRenderLocked(parent, false)
}

// BeginEditRender claims the render slot for an edit-mode commit. Its
// Commit moves the edit state onto the new image instead of closing edit
// mode. It fails with ErrNotEditing outside edit mode.
func (s *Session) BeginEditRender(parent context.Context) (*Render, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && s.active == nil && s.edit == nil {
		return nil, ErrNotEditing
	}
	return s.beginRenderLocked(parent, true)
}

func (s *Session) beginRenderLocked(parent context.Context, edit bool) (*Render, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.active != nil {
		return nil, ErrBusy
	}
	var depicted []catalog.Product
	if cur, ok := s.history.Current(); ok {
		depicted = cur.Products
	}
	ctx, cancel := context.WithCancel(parent)
	s.lastActivity = s.now()
	s.active = &Render{
		Ctx:           ctx,
		Live:          s.canvas.Products(),
		Visualized:    cloneCounts(s.visualized),
		Depicted:      depicted,
		RenderedImage: s.rendered,
		Room:          s.room,
		UploadedNew:   s.uploadedNew,
		s:             s,
		generation:    s.generation,
		edit:          edit,
		cancel:        cancel,
	}
	return s.active, nil
}

// Done releases the render slot.
func (r *Render) Done() {
	r.once.Do(func() {
		r.cancel()
		s := r.s
		s.mu.Lock()
		if s.active == r {
			s.active = nil
		}
		s.mu.Unlock()
	})
}

// Busy reports whether a render is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

func (s *Session) checkStaleLocked(r *Render) error {
	if s.closed {
		return ErrClosed
	}
	if r.generation != s.generation {
		return ErrStaleRender
	}
	return nil
}

// Commit pushes entry as the new current state. The redo stack is cleared,
// the visualized set becomes the entry's quantities, cached angles are
// dropped and any parked clarification is discarded. Edit mode follows the
// new image for edit renders and is closed otherwise, since its layers were
// cut from the old image. It fails with ErrStaleRender when a new room was
// uploaded after the render began.
func (r *Render) Commit(entry history.Entry) error {
	return r.commit(entry, false)
}

// CommitReset replaces the whole history with entry, as after a quality
// upgrade.
func (r *Render) CommitReset(entry history.Entry) error {
	return r.commit(entry, true)
}

func (r *Render) commit(entry history.Entry, reset bool) error {
	s := r.s
	s.mu.Lock()
	if err := s.checkStaleLocked(r); err != nil {
		s.mu.Unlock()
		return err
	}
	if reset {
		s.history.Reset(entry)
	} else {
		s.history.Push(entry)
	}
	s.applyEntryLocked(entry, false)
	s.uploadedNew = false
	s.pending = nil
	editClosed := false
	switch {
	case s.edit == nil:
	case r.edit:
		s.edit.BaseImage = entry.Image
		s.edit.Pending = nil
		s.edit.Changed = false
	default:
		s.edit = nil
		editClosed = true
	}
	view := s.historyViewLocked()
	s.mu.Unlock()

	s.metrics.ObserveHistoryDepth(view.Len)
	s.Publish(events.HistoryChanged, view)
	if editClosed {
		s.Publish(events.EditExited, map[string]any{"reason": "rendered"})
	}
	return nil
}

// applyEntryLocked writes an entry into the visualization state. When
// restoreCanvas is set the live canvas is replaced too, as for undo/redo.
func (s *Session) applyEntryLocked(entry history.Entry, restoreCanvas bool) {
	if entry.Image != s.rendered {
		s.angles = map[string]string{}
	}
	s.rendered = entry.Image
	s.visualized = cloneCounts(entry.Quantities)
	if restoreCanvas {
		s.canvas.Replace(entry.Products)
	}
	s.lastActivity = s.now()
}

// HistoryView summarizes the undo stack.
type HistoryView struct {
	Len           int    `json:"len"`
	CanUndo       bool   `json:"can_undo"`
	CanRedo       bool   `json:"can_redo"`
	Label         string `json:"label,omitempty"`
	NeedsRerender bool   `json:"needs_rerender"`
}

func (s *Session) historyViewLocked() HistoryView {
	v := HistoryView{
		Len:           s.history.Len(),
		CanUndo:       s.history.CanUndo(),
		CanRedo:       s.history.CanRedo(),
		NeedsRerender: changes.NeedsRerender(s.canvas.Products(), s.visualized),
	}
	if cur, ok := s.history.Current(); ok {
		v.Label = cur.Label
	}
	return v
}

// Undo restores the previous history entry into the visualization state and
// the live canvas.
func (s *Session) Undo() (history.Entry, error) {
	return s.step(s.history.Undo)
}

// Redo re-applies the most recently undone entry.
func (s *Session) Redo() (history.Entry, error) {
	return s.step(s.history.Redo)
}

func (s *Session) step(move func() (history.Entry, error)) (history.Entry, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return history.Entry{}, ErrClosed
	}
	if s.active != nil {
		s.mu.Unlock()
		return history.Entry{}, ErrBusy
	}
	entry, err := move()
	if err != nil {
		s.mu.Unlock()
		return history.Entry{}, err
	}
	s.applyEntryLocked(entry, true)
	s.edit = nil
	s.pending = nil
	view := s.historyViewLocked()
	s.mu.Unlock()

	s.Publish(events.HistoryChanged, view)
	return entry.Clone(), nil
}

// History returns the undo stack summary.
func (s *Session) History() HistoryView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyViewLocked()
}

// RenderedImage returns the current visualization, or "" before the first
// render.
func (s *Session) RenderedImage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rendered
}

// Clarification is a visualize request parked until the user decides what
// to do with furniture already in the room.
type Clarification struct {
	Request    renderer.VisualizeRequest    `json:"-"`
	Kind       changes.Kind                 `json:"kind"`
	Products   []catalog.Product            `json:"-"`
	Message    string                       `json:"message,omitempty"`
	Candidates []renderer.ExistingFurniture `json:"existing_furniture,omitempty"`
}

// Park stores a clarification request. It replaces any earlier one.
func (r *Render) Park(c Clarification) error {
	s := r.s
	s.mu.Lock()
	if err := s.checkStaleLocked(r); err != nil {
		s.mu.Unlock()
		return err
	}
	c.Products = catalog.CloneProducts(c.Products)
	s.pending = &c
	s.mu.Unlock()

	s.Publish(events.ClarificationRequired, c)
	return nil
}

// TakeClarification removes and returns the parked request.
func (r *Render) TakeClarification() (Clarification, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return Clarification{}, ErrNoClarification
	}
	c := *s.pending
	s.pending = nil
	return c, nil
}

// PendingClarification reports the parked request, if any.
func (s *Session) PendingClarification() (Clarification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return Clarification{}, false
	}
	return *s.pending, true
}

// CachedAngle returns a previously generated view of the current image.
func (s *Session) CachedAngle(angle string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.angles[angle]
	return img, ok
}

// StoreAngle caches a view generated from base. It is dropped when the
// current image has changed since.
func (s *Session) StoreAngle(base, angle, image string) bool {
	s.mu.Lock()
	if s.rendered == "" || s.rendered != base {
		s.mu.Unlock()
		return false
	}
	s.angles[angle] = image
	s.mu.Unlock()

	s.Publish(events.AngleReady, map[string]string{"angle": angle})
	return true
}

// Angles lists cached angle names.
func (s *Session) Angles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.angles))
	for name := range s.angles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
