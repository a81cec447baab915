// Package session holds the per-session visualization state. A Session owns
// the live canvas, the visualized set, undo history, room images, the angle
// cache, edit mode, the active furniture-removal job and any parked
// clarification. Every mutation goes through its methods under one mutex.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/roomviz/internal/catalog"
	"github.com/haasonsaas/roomviz/internal/events"
	"github.com/haasonsaas/roomviz/internal/history"
	"github.com/haasonsaas/roomviz/internal/observability"
)

var (
	// ErrBusy is returned while a render is in flight.
	ErrBusy = errors.New("a render is already in progress")
	// ErrStaleRender is returned when a render finishes after a new room
	// upload superseded it.
	ErrStaleRender = errors.New("render superseded by a newer room upload")
	// ErrStaleJob is returned for results of a job that is no longer active.
	ErrStaleJob = errors.New("job is no longer active")
	ErrClosed   = errors.New("session is closed")
	ErrNoRoom   = errors.New("no room image uploaded")
	// ErrNoRenderedImage is returned by operations that need a visualization.
	ErrNoRenderedImage = errors.New("no rendered image")
	ErrNotEditing      = errors.New("edit mode is not active")
	ErrNoClarification = errors.New("no clarification is pending")
)

// RoomImages is the room image triplet.
type RoomImages struct {
	// Room is the image shown to the user.
	Room string `json:"room_image,omitempty"`
	// Clean is the furniture-free baseline used for full resets.
	Clean string `json:"clean_room_image,omitempty"`
	// Original is the upload as received.
	Original string `json:"original_upload,omitempty"`
}

// Baseline returns the image full renders start from: the clean room, or the
// original upload while no clean room is available.
func (r RoomImages) Baseline() string {
	if r.Clean != "" {
		return r.Clean
	}
	return r.Original
}

// Options configures a Session.
type Options struct {
	ID         string
	Owner      string
	MaxHistory int
	Publisher  events.Publisher
	Logger     *slog.Logger
	Metrics    *observability.Metrics
	Now        func() time.Time
}

// Session is one user's visualization workspace.
type Session struct {
	id      string
	owner   string
	created time.Time
	now     func() time.Time

	publisher events.Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	closed        bool
	lastActivity  time.Time
	canvas        *catalog.Canvas
	rendered      string
	visualized    map[string]int
	room          RoomImages
	uploadedNew   bool
	history       *history.Store
	angles        map[string]string
	edit          *EditState
	pending       *Clarification
	chatSessionID string
	curation      json.RawMessage

	// active is the in-flight render, if any.
	active     *Render
	generation uint64

	jobID     string
	jobCancel context.CancelFunc
}

// New creates a session. Most callers go through Manager.Create.
func New(opts Options) *Session {
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	now := opts.Now()
	return &Session{
		id:           opts.ID,
		owner:        opts.Owner,
		created:      now,
		now:          opts.Now,
		publisher:    opts.Publisher,
		logger:       opts.Logger.With("session_id", opts.ID),
		metrics:      opts.Metrics,
		ctx:          ctx,
		cancel:       cancel,
		lastActivity: now,
		canvas:       catalog.NewCanvas(),
		visualized:   map[string]int{},
		history:      history.NewStore(opts.MaxHistory),
		angles:       map[string]string{},
	}
}

func (s *Session) ID() string    { return s.id }
func (s *Session) Owner() string { return s.owner }

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context { return s.ctx }

// Logger returns the session-scoped logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Metrics returns the session's metrics sink, which may be nil.
func (s *Session) Metrics() *observability.Metrics { return s.metrics }

// Publish sends an event on the session stream.
func (s *Session) Publish(typ events.Type, payload any) {
	s.publisher.Publish(events.New(s.id, typ, payload))
}

// Touch records activity for the idle sweep.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = s.now()
	s.mu.Unlock()
}

// LastActivity reports when the session was last used.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close cancels any in-flight render and job. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancelWorkLocked()
	s.mu.Unlock()
	s.cancel()
}

func (s *Session) cancelWorkLocked() {
	if s.active != nil {
		s.active.cancel()
		s.active = nil
	}
	if s.jobCancel != nil {
		s.jobCancel()
		s.jobCancel = nil
	}
	s.jobID = ""
}

// ChatSessionID is the external chat assistant's conversation ID.
func (s *Session) ChatSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatSessionID
}

func (s *Session) SetChatSessionID(id string) {
	s.mu.Lock()
	s.chatSessionID = id
	s.lastActivity = s.now()
	s.mu.Unlock()
}

// Curation returns the opaque curation metadata attached by the client.
func (s *Session) Curation() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRaw(s.curation)
}

func (s *Session) SetCuration(raw json.RawMessage) {
	s.mu.Lock()
	s.curation = cloneRaw(raw)
	s.lastActivity = s.now()
	s.mu.Unlock()
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
