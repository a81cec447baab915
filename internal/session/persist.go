package session

import (
	"encoding/json"

	"github.com/haasonsaas/roomviz/internal/catalog"
	"github.com/haasonsaas/roomviz/internal/history"
)

// Persisted is the part of a session that survives an expiry.
type Persisted struct {
	Room          RoomImages        `json:"room"`
	Products      []catalog.Product `json:"products,omitempty"`
	RenderedImage string            `json:"rendered_image,omitempty"`
	Visualized    map[string]int    `json:"visualized,omitempty"`
	// Depicted are the products shown in RenderedImage.
	Depicted      []catalog.Product `json:"depicted,omitempty"`
	ChatSessionID string            `json:"chat_session_id,omitempty"`
	Curation      json.RawMessage   `json:"curation,omitempty"`
}

// Export returns the persistable state.
func (s *Session) Export() Persisted {
	s.mu.Lock()
	defer s.mu.Unlock()
	var depicted []catalog.Product
	if cur, ok := s.history.Current(); ok {
		depicted = cur.Products
	}
	return Persisted{
		Room:          s.room,
		Products:      s.canvas.Products(),
		RenderedImage: s.rendered,
		Visualized:    cloneCounts(s.visualized),
		Depicted:      depicted,
		ChatSessionID: s.chatSessionID,
		Curation:      cloneRaw(s.curation),
	}
}

// Import replaces the session state with p. A restored visualization becomes
// the single history entry, so there is nothing to undo past it.
func (s *Session) Import(p Persisted) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.active != nil {
		return ErrBusy
	}
	s.room = p.Room
	s.canvas.Replace(p.Products)
	s.chatSessionID = p.ChatSessionID
	s.curation = cloneRaw(p.Curation)
	s.angles = map[string]string{}
	s.edit = nil
	s.pending = nil
	s.uploadedNew = false

	if p.RenderedImage == "" {
		s.rendered = ""
		s.visualized = map[string]int{}
		s.history.Clear()
	} else {
		entry := history.NewEntry(p.RenderedImage, depictedProducts(p), "restored")
		s.history.Reset(entry)
		s.rendered = entry.Image
		s.visualized = cloneCounts(entry.Quantities)
	}
	s.lastActivity = s.now()
	return nil
}

// depictedProducts returns the products shown in p's rendered image. Older
// snapshots carry only the live canvas, which is narrowed to the visualized
// counts.
func depictedProducts(p Persisted) []catalog.Product {
	if len(p.Depicted) > 0 {
		return p.Depicted
	}
	if p.Visualized == nil {
		return p.Products
	}
	var out []catalog.Product
	for _, prod := range p.Products {
		n := p.Visualized[prod.ID]
		if n <= 0 {
			continue
		}
		prod = prod.Clone()
		prod.Quantity = n
		out = append(out, prod)
	}
	return out
}
