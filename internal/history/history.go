// Package history implements the undo/redo stack of rendered states.
package history

import (
	"errors"
	"sort"
	"time"

	"github.com/haasonsaas/roomviz/internal/catalog"
)

var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// State is the coarse state of a store.
type State string

const (
	StateEmpty      State = "empty"
	StateHasHistory State = "has_history"
)

// Entry is one fully materialized rendered state.
type Entry struct {
	Image      string            `json:"image"`
	Products   []catalog.Product `json:"products"`
	ProductIDs []string          `json:"product_ids"`
	Quantities map[string]int    `json:"quantities"`
	// Label describes the operation that produced the entry ("initial",
	// "additive", "finalize_move", ...).
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewEntry builds an entry for image depicting products. The product IDs and
// quantities are derived from products.
func NewEntry(image string, products []catalog.Product, label string) Entry {
	products = catalog.CloneProducts(products)
	quantities := catalog.Quantities(products)
	ids := make([]string, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return Entry{
		Image:      image,
		Products:   products,
		ProductIDs: ids,
		Quantities: quantities,
		Label:      label,
		CreatedAt:  time.Now().UTC(),
	}
}

// Clone returns a deep copy of the entry.
func (e Entry) Clone() Entry {
	out := e
	out.Products = catalog.CloneProducts(e.Products)
	if e.ProductIDs != nil {
		out.ProductIDs = append([]string(nil), e.ProductIDs...)
	}
	if e.Quantities != nil {
		out.Quantities = make(map[string]int, len(e.Quantities))
		for k, v := range e.Quantities {
			out.Quantities[k] = v
		}
	}
	return out
}

// Store holds past states (most recent last) and undone states. It is not
// safe for concurrent use; the owning session serializes access.
type Store struct {
	history  []Entry
	redo     []Entry
	maxDepth int
}

// NewStore creates a store. maxDepth bounds the number of past states kept;
// zero means unbounded.
func NewStore(maxDepth int) *Store {
	if maxDepth < 0 {
		maxDepth = 0
	}
	return &Store{maxDepth: maxDepth}
}

// Push appends a copy of entry and clears the redo stack. When the depth
// limit is exceeded the oldest entries are dropped.
func (s *Store) Push(entry Entry) {
	s.history = append(s.history, entry.Clone())
	s.redo = nil
	if s.maxDepth > 0 && len(s.history) > s.maxDepth {
		drop := len(s.history) - s.maxDepth
		s.history = append([]Entry(nil), s.history[drop:]...)
	}
}

// Undo moves the current entry to the redo stack and returns a copy of the
// new current entry. It fails when fewer than two entries exist.
func (s *Store) Undo() (Entry, error) {
	if len(s.history) <= 1 {
		return Entry{}, ErrNothingToUndo
	}
	last := len(s.history) - 1
	s.redo = append(s.redo, s.history[last])
	s.history = s.history[:last]
	return s.history[len(s.history)-1].Clone(), nil
}

// Redo moves the most recently undone entry back onto the history and
// returns a copy of it.
func (s *Store) Redo() (Entry, error) {
	if len(s.redo) == 0 {
		return Entry{}, ErrNothingToRedo
	}
	last := len(s.redo) - 1
	entry := s.redo[last]
	s.redo = s.redo[:last]
	s.history = append(s.history, entry)
	return entry.Clone(), nil
}

// CanUndo reports whether a prior state exists.
func (s *Store) CanUndo() bool {
	return len(s.history) > 1
}

// CanRedo reports whether an undone state exists.
func (s *Store) CanRedo() bool {
	return len(s.redo) > 0
}

// Current returns a copy of the current entry.
func (s *Store) Current() (Entry, bool) {
	if len(s.history) == 0 {
		return Entry{}, false
	}
	return s.history[len(s.history)-1].Clone(), true
}

// Len returns the number of past states including the current one.
func (s *Store) Len() int {
	return len(s.history)
}

// RedoLen returns the number of undone states.
func (s *Store) RedoLen() int {
	return len(s.redo)
}

// State returns empty or has_history.
func (s *Store) State() State {
	if len(s.history) == 0 {
		return StateEmpty
	}
	return StateHasHistory
}

// Reset replaces the whole history with a single entry.
func (s *Store) Reset(entry Entry) {
	s.history = []Entry{entry.Clone()}
	s.redo = nil
}

// Clear empties both stacks.
func (s *Store) Clear() {
	s.history = nil
	s.redo = nil
}
