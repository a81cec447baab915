package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/roomviz/internal/events"
	"github.com/haasonsaas/roomviz/internal/observability"
)

var (
	ErrNotFound  = errors.New("session not found")
	ErrForbidden = errors.New("session belongs to another user")
)

// Hook runs before a session is closed, while its state is still readable.
type Hook func(ctx context.Context, s *Session)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	MaxHistory  int
	IdleTimeout time.Duration
	Publisher   events.Publisher
	Logger      *slog.Logger
	Metrics     *observability.Metrics
	Now         func() time.Time
}

// Manager creates, looks up and tears down sessions.
type Manager struct {
	opts   ManagerOptions
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	hooks    []Hook
}

// NewManager creates a session manager.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		opts:     opts,
		logger:   opts.Logger.With("component", "session"),
		sessions: make(map[string]*Session),
	}
}

// OnClose registers a teardown hook. Hooks run in registration order.
func (m *Manager) OnClose(hook Hook) {
	m.mu.Lock()
	m.hooks = append(m.hooks, hook)
	m.mu.Unlock()
}

// Create opens a new session for owner.
func (m *Manager) Create(owner string) *Session {
	s := New(Options{
		ID:         uuid.NewString(),
		Owner:      owner,
		MaxHistory: m.opts.MaxHistory,
		Publisher:  m.opts.Publisher,
		Logger:     m.opts.Logger,
		Metrics:    m.opts.Metrics,
		Now:        m.opts.Now,
	})
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.opts.Metrics.SessionOpened()
	m.logger.Info("session created", "session_id", s.ID(), "owner", owner)
	return s
}

// Get returns an open session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// GetOwned returns a session only if owner matches. An empty owner on the
// session (auth disabled) matches anyone.
func (m *Manager) GetOwned(id, owner string) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if s.Owner() != "" && s.Owner() != owner {
		return nil, ErrForbidden
	}
	return s, nil
}

// List returns open sessions ordered by ID.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close runs the teardown hooks and closes the session.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	hooks := append([]Hook(nil), m.hooks...)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	m.teardown(ctx, s, hooks, "closed")
	return nil
}

// Sweep closes sessions idle for longer than the idle timeout and returns
// how many were closed.
func (m *Manager) Sweep(ctx context.Context) int {
	if m.opts.IdleTimeout <= 0 {
		return 0
	}
	cutoff := m.opts.Now().Add(-m.opts.IdleTimeout)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.LastActivity().Before(cutoff) && !s.Busy() {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	hooks := append([]Hook(nil), m.hooks...)
	m.mu.Unlock()

	for _, s := range idle {
		m.teardown(ctx, s, hooks, "idle")
	}
	return len(idle)
}

// CloseAll tears down every session, as on shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	hooks := append([]Hook(nil), m.hooks...)
	m.mu.Unlock()

	for _, s := range all {
		m.teardown(ctx, s, hooks, "shutdown")
	}
}

func (m *Manager) teardown(ctx context.Context, s *Session, hooks []Hook, reason string) {
	for _, hook := range hooks {
		hook(ctx, s)
	}
	s.Close()
	s.Publish(events.SessionClosed, map[string]string{"reason": reason})
	if closer, ok := m.opts.Publisher.(interface{ CloseSession(string) }); ok {
		closer.CloseSession(s.ID())
	}
	m.opts.Metrics.SessionClosed(m.opts.Now().Sub(s.created).Seconds())
	m.logger.Info("session closed", "session_id", s.ID(), "reason", reason)
}
