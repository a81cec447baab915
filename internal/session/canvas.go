package session

import (
	"github.com/haasonsaas/roomviz/internal/catalog"
	"github.com/haasonsaas/roomviz/internal/changes"
	"github.com/haasonsaas/roomviz/internal/events"
)

type canvasChanged struct {
	Products      []catalog.Product `json:"products"`
	NeedsRerender bool              `json:"needs_rerender"`
	Replaced      *catalog.Product  `json:"replaced,omitempty"`
}

// AddProduct places p on the live canvas under its quantity policy.
func (s *Session) AddProduct(p catalog.Product) (catalog.AddResult, error) {
	var res catalog.AddResult
	err := s.mutateCanvas(func(c *catalog.Canvas) error {
		var err error
		res, err = c.Add(p)
		return err
	}, func(evt *canvasChanged) { evt.Replaced = res.Replaced })
	return res, err
}

func (s *Session) RemoveProduct(id string) error {
	return s.mutateCanvas(func(c *catalog.Canvas) error { return c.Remove(id) }, nil)
}

func (s *Session) IncrementProduct(id string) error {
	return s.mutateCanvas(func(c *catalog.Canvas) error { return c.Increment(id) }, nil)
}

func (s *Session) DecrementProduct(id string) error {
	return s.mutateCanvas(func(c *catalog.Canvas) error { return c.Decrement(id) }, nil)
}

// SetQuantity sets an absolute quantity; zero or less removes the product.
func (s *Session) SetQuantity(id string, n int) error {
	return s.mutateCanvas(func(c *catalog.Canvas) error { return c.SetQuantity(id, n) }, nil)
}

// ClearProducts empties the live canvas. The rendered image is kept until
// the next render.
func (s *Session) ClearProducts() error {
	return s.mutateCanvas(func(c *catalog.Canvas) error {
		c.Clear()
		return nil
	}, nil)
}

// Products returns a copy of the live canvas.
func (s *Session) Products() []catalog.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canvas.Products()
}

// Visualized returns the product quantities depicted by the rendered image.
func (s *Session) Visualized() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneCounts(s.visualized)
}

// NeedsRerender reports whether the live canvas differs from the visualized
// set.
func (s *Session) NeedsRerender() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return changes.NeedsRerender(s.canvas.Products(), s.visualized)
}

func (s *Session) mutateCanvas(fn func(*catalog.Canvas) error, decorate func(*canvasChanged)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if err := fn(s.canvas); err != nil {
		s.mu.Unlock()
		return err
	}
	s.lastActivity = s.now()
	live := s.canvas.Products()
	evt := canvasChanged{
		Products:      live,
		NeedsRerender: changes.NeedsRerender(live, s.visualized),
	}
	s.mu.Unlock()

	if decorate != nil {
		decorate(&evt)
	}
	s.Publish(events.CanvasChanged, evt)
	return nil
}
