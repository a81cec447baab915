package session

import (
	"github.com/haasonsaas/roomviz/internal/renderer"
)

// EditMode is how layers were obtained when edit mode opened.
type EditMode string

const (
	// ModeMagicGrab uses segmented cutouts over a clean background.
	ModeMagicGrab EditMode = "magic_grab"
	// ModeGrid places product markers on a grid over a clean background and
	// re-renders from positions.
	ModeGrid EditMode = "grid"
	// ModeImageOnly has neither layers nor a clean background.
	ModeImageOnly EditMode = "image_only"
)

// Layer is a movable piece of furniture. Coordinates are normalized to
// [0,1].
type Layer struct {
	ID        string  `json:"id"`
	ProductID string  `json:"product_id,omitempty"`
	Name      string  `json:"name,omitempty"`
	Cutout    string  `json:"cutout,omitempty"`
	Mask      string  `json:"mask,omitempty"`
	// Inpainted is the background with this piece removed, when the
	// segmenter returned one.
	Inpainted string  `json:"-"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	Scale     float64 `json:"scale"`
	Rotation  float64 `json:"rotation"`
	ZIndex    int     `json:"z_index"`
}

// Position returns the layer's placement.
func (l Layer) Position() renderer.Position {
	return renderer.Position{
		InstanceID: l.ID,
		ProductID:  l.ProductID,
		X:          l.X,
		Y:          l.Y,
		Width:      l.Width,
		Height:     l.Height,
	}
}

// PendingMove is a dragged layer awaiting finalize. It is consumed exactly
// once.
type PendingMove struct {
	LayerID             string            `json:"layer_id"`
	OriginalImage       string            `json:"-"`
	Mask                string            `json:"-"`
	Cutout              string            `json:"-"`
	OriginalPosition    renderer.Position `json:"original_position"`
	NewPosition         renderer.Position `json:"new_position"`
	Scale               float64           `json:"scale"`
	InpaintedBackground string            `json:"-"`
	MatchedProductID    string            `json:"matched_product_id,omitempty"`
}

// EditState is the position editor's state.
type EditState struct {
	Mode EditMode `json:"mode"`
	// BaseImage is the rendered image edit mode opened on.
	BaseImage  string       `json:"-"`
	Background string       `json:"-"`
	Layers     []Layer      `json:"layers"`
	Pending    *PendingMove `json:"pending,omitempty"`
	// Changed is set once any layer moved since the last commit.
	Changed bool `json:"changed"`
}

func (e *EditState) clone() *EditState {
	if e == nil {
		return nil
	}
	out := *e
	out.Layers = append([]Layer(nil), e.Layers...)
	if e.Pending != nil {
		pm := *e.Pending
		out.Pending = &pm
	}
	return &out
}

// Layer finds a layer by ID.
func (e *EditState) Layer(id string) (int, bool) {
	for i, l := range e.Layers {
		if l.ID == id {
			return i, true
		}
	}
	return -1, false
}

// EnterEdit opens edit mode with state. It replaces any earlier edit state.
func (s *Session) EnterEdit(state EditState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.rendered == "" {
		return ErrNoRenderedImage
	}
	s.edit = state.clone()
	s.lastActivity = s.now()
	return nil
}

// Edit returns a copy of the edit state.
func (s *Session) Edit() (EditState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.edit == nil {
		return EditState{}, false
	}
	return *s.edit.clone(), true
}

// UpdateEdit applies fn to the edit state. Changes are discarded when fn
// returns an error.
func (s *Session) UpdateEdit(fn func(*EditState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.edit == nil {
		return ErrNotEditing
	}
	draft := s.edit.clone()
	if err := fn(draft); err != nil {
		return err
	}
	s.edit = draft
	s.lastActivity = s.now()
	return nil
}

// ExitEdit closes edit mode and returns the state it held.
func (s *Session) ExitEdit() (EditState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.edit == nil {
		return EditState{}, false
	}
	state := *s.edit
	s.edit = nil
	s.lastActivity = s.now()
	return state, true
}
