// Package events fans session events out to realtime subscribers.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Type names an event.
type Type string

const (
	RenderStarted         Type = "render.started"
	RenderCompleted       Type = "render.completed"
	RenderFailed          Type = "render.failed"
	ClarificationRequired Type = "render.clarification_required"
	HistoryChanged        Type = "history.changed"
	AngleReady            Type = "angle.ready"
	CanvasChanged         Type = "canvas.changed"
	RoomUploaded          Type = "room.uploaded"
	RoomPrepared          Type = "room.prepared"
	RoomFallback          Type = "room.fallback"
	JobStatus             Type = "job.status"
	EditEntered           Type = "edit.entered"
	EditLayerMoved        Type = "edit.layer_moved"
	EditExited            Type = "edit.exited"
	RecoveryCaptured      Type = "recovery.captured"
	RecoveryRestored      Type = "recovery.restored"
	SessionClosed         Type = "session.closed"
	// Error carries soft, user-visible errors such as poll timeouts.
	Error Type = "error"
)

// Event is the envelope sent over the session stream.
type Event struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"ts"`
}

// New builds an event with a fresh ULID. Payloads that fail to marshal are
// dropped from the event.
func New(sessionID string, typ Type, payload any) Event {
	evt := Event{
		ID:        ulid.Make().String(),
		Type:      typ,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			evt.Payload = raw
		}
	}
	return evt
}

// Publisher accepts session events.
type Publisher interface {
	Publish(evt Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(Event) {}

// Hub manages realtime subscribers per session.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	buffer      int
}

// NewHub creates a new hub. Subscribers get a buffered channel of the given
// size; slow subscribers drop events instead of blocking publishers.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{subscribers: make(map[string]map[chan Event]struct{}), buffer: buffer}
}

// Subscribe registers a listener for a session. The returned cancel func
// unregisters and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	listeners := h.subscribers[sessionID]
	if listeners == nil {
		listeners = make(map[chan Event]struct{})
		h.subscribers[sessionID] = listeners
	}
	listeners[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			listeners := h.subscribers[sessionID]
			if listeners != nil {
				if _, ok := listeners[ch]; ok {
					delete(listeners, ch)
					close(ch)
				}
				if len(listeners) == 0 {
					delete(h.subscribers, sessionID)
				}
			}
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers for its session.
func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	for ch := range h.subscribers[evt.SessionID] {
		select {
		case ch <- evt:
		default:
		}
	}
	h.mu.RUnlock()
}

// CloseSession closes every subscriber of a session.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	for ch := range h.subscribers[sessionID] {
		close(ch)
	}
	delete(h.subscribers, sessionID)
	h.mu.Unlock()
}

// Subscribers returns the number of listeners for a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[sessionID])
}
