// Package recovery snapshots session state to durable storage before it is
// lost (token expiry, idle close, shutdown) and restores it on the next
// session for the same owner.
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/roomviz/internal/cache"
	"github.com/haasonsaas/roomviz/internal/catalog"
	"github.com/haasonsaas/roomviz/internal/events"
	"github.com/haasonsaas/roomviz/internal/observability"
	"github.com/haasonsaas/roomviz/internal/renderer"
	"github.com/haasonsaas/roomviz/internal/roomprep"
	"github.com/haasonsaas/roomviz/internal/session"
	"github.com/haasonsaas/roomviz/internal/storage"
)

const (
	DefaultStalenessWindow = time.Hour
	DefaultDraftTTL        = 24 * time.Hour
	DefaultStoreListTTL    = 24 * time.Hour

	snapshotPrefix = "session-recovery"
	draftPrefix    = "curation-draft"
	roomsPrefix    = "rooms"
	// StoreListKey caches the retailer list.
	StoreListKey = "store-list"
)

// AnonymousOwner keys snapshots when authentication is disabled.
const AnonymousOwner = "anonymous"

// SnapshotKey is the storage key of owner's recovery snapshot.
func SnapshotKey(owner string) string {
	return storage.Key(snapshotPrefix, ownerKey(owner))
}

// DraftKey is the storage key of owner's curation draft.
func DraftKey(owner string) string {
	return storage.Key(draftPrefix, ownerKey(owner))
}

func ownerKey(owner string) string {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return AnonymousOwner
	}
	return strings.ReplaceAll(owner, "/", "_")
}

// Snapshot is the recoverable part of a session.
type Snapshot struct {
	SessionID     string             `json:"session_id"`
	Room          session.RoomImages `json:"room"`
	Products      []catalog.Product  `json:"products,omitempty"`
	RenderedImage string             `json:"rendered_image,omitempty"`
	Visualized    map[string]int     `json:"visualized,omitempty"`
	Depicted      []catalog.Product  `json:"depicted,omitempty"`
	ChatSessionID string             `json:"chat_session_id,omitempty"`
	Curation      json.RawMessage    `json:"curation,omitempty"`
	CapturedAt    time.Time          `json:"captured_at"`
	// Dropped lists image fields left out to fit the storage quota.
	Dropped []string `json:"dropped,omitempty"`
}

func (s *Snapshot) empty() bool {
	return s.Room.Original == "" && s.Room.Room == "" && len(s.Products) == 0 &&
		s.ChatSessionID == "" && len(s.Curation) == 0
}

// dropLargest clears the largest image field and returns its name, or ""
// when no image is left.
func (s *Snapshot) dropLargest() string {
	fields := []struct {
		name string
		ptr  *string
	}{
		{"rendered_image", &s.RenderedImage},
		{"room_image", &s.Room.Room},
		{"clean_room_image", &s.Room.Clean},
		{"original_upload", &s.Room.Original},
	}
	best := -1
	for i, f := range fields {
		if *f.ptr == "" {
			continue
		}
		if best < 0 || len(*f.ptr) > len(*fields[best].ptr) {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	*fields[best].ptr = ""
	if fields[best].name == "rendered_image" {
		s.Visualized = nil
		s.Depicted = nil
	}
	s.Dropped = append(s.Dropped, fields[best].name)
	return fields[best].name
}

// Options configures a Bridge.
type Options struct {
	Store           storage.Store
	StalenessWindow time.Duration
	DraftTTL        time.Duration
	StoreListTTL    time.Duration
	// Stores backs the cached store list. Optional.
	Stores  renderer.StoreLister
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	Now     func() time.Time
}

// Bridge moves session state to and from durable storage.
type Bridge struct {
	store     storage.Store
	window    time.Duration
	draftTTL  time.Duration
	snapshots *cache.Durable
	drafts    *cache.Durable
	storeList *cache.Durable
	stores    renderer.StoreLister
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	now       func() time.Time
}

// New creates a bridge.
func New(opts Options) *Bridge {
	if opts.StalenessWindow <= 0 {
		opts.StalenessWindow = DefaultStalenessWindow
	}
	if opts.DraftTTL <= 0 {
		opts.DraftTTL = DefaultDraftTTL
	}
	if opts.StoreListTTL <= 0 {
		opts.StoreListTTL = DefaultStoreListTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	b := &Bridge{
		store:     opts.Store,
		window:    opts.StalenessWindow,
		draftTTL:  opts.DraftTTL,
		snapshots: cache.NewDurable(opts.Store, opts.StalenessWindow),
		drafts:    cache.NewDurable(opts.Store, opts.DraftTTL),
		storeList: cache.NewDurable(opts.Store, opts.StoreListTTL),
		stores:    opts.Stores,
		logger:    opts.Logger.With("component", "recovery"),
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		now:       opts.Now,
	}
	for _, d := range []*cache.Durable{b.snapshots, b.drafts, b.storeList} {
		d.SetClock(opts.Now)
	}
	return b
}

// Capture stores a snapshot of s for owner. When the store is over quota the
// largest image is dropped and the write retried; quota failures are logged
// and never returned. Sessions with nothing worth restoring are skipped so
// an earlier snapshot is not overwritten.
func (b *Bridge) Capture(ctx context.Context, owner string, s *session.Session) error {
	p := s.Export()
	snap := Snapshot{
		SessionID:     s.ID(),
		Room:          p.Room,
		Products:      p.Products,
		RenderedImage: p.RenderedImage,
		Visualized:    p.Visualized,
		Depicted:      p.Depicted,
		ChatSessionID: p.ChatSessionID,
		Curation:      p.Curation,
		CapturedAt:    b.now().UTC(),
	}
	if snap.empty() {
		return nil
	}

	ctx, span := b.tracer.Start(ctx, "recovery.capture", "session_id", s.ID())
	defer span.End()
	key := SnapshotKey(owner)
	for {
		err := b.snapshots.Save(ctx, key, snap)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrQuotaExceeded) {
			b.tracer.RecordError(span, err)
			b.metrics.RecordRecovery("capture", "error")
			return fmt.Errorf("capture snapshot: %w", err)
		}
		field := snap.dropLargest()
		if field == "" {
			b.logger.Warn("snapshot does not fit storage quota even without images", "session_id", s.ID())
			b.metrics.RecordRecovery("capture", "quota_failed")
			return nil
		}
		b.logger.Warn("storage quota exceeded, dropping image from snapshot", "session_id", s.ID(), "field", field)
		b.metrics.RecordRecovery("capture", "quota_drop")
	}

	b.metrics.RecordRecovery("capture", "success")
	b.logger.Info("session snapshot captured", "session_id", s.ID(), "dropped", snap.Dropped)
	s.Publish(events.RecoveryCaptured, map[string]any{"dropped": snap.Dropped})
	return nil
}

// Restore applies owner's snapshot to s when it is younger than the
// staleness window, then deletes it. Stale snapshots are deleted without
// touching s. The boolean reports whether anything was restored.
func (b *Bridge) Restore(ctx context.Context, owner string, s *session.Session) (bool, error) {
	ctx, span := b.tracer.Start(ctx, "recovery.restore", "session_id", s.ID())
	defer span.End()

	key := SnapshotKey(owner)
	var snap Snapshot
	_, err := b.snapshots.Load(ctx, key, &snap)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	case errors.Is(err, cache.ErrExpired):
		b.logger.Debug("discarded stale snapshot", "owner", owner)
		b.metrics.RecordRecovery("restore", "stale")
		return false, nil
	case err != nil:
		b.tracer.RecordError(span, err)
		b.metrics.RecordRecovery("restore", "error")
		return false, fmt.Errorf("load snapshot: %w", err)
	}

	if snap.Room.Clean == "" && snap.SessionID != "" {
		if data, err := b.store.Get(ctx, roomprep.CleanRoomKey(snap.SessionID)); err == nil {
			snap.Room.Clean = string(data)
			if snap.Room.Room == "" {
				snap.Room.Room = snap.Room.Clean
			}
		}
	}

	err = s.Import(session.Persisted{
		Room:          snap.Room,
		Products:      snap.Products,
		RenderedImage: snap.RenderedImage,
		Visualized:    snap.Visualized,
		Depicted:      snap.Depicted,
		ChatSessionID: snap.ChatSessionID,
		Curation:      snap.Curation,
	})
	if err != nil {
		return false, err
	}
	if err := b.snapshots.Delete(ctx, key); err != nil {
		b.logger.Warn("failed to clear restored snapshot", "owner", owner, "error", err)
	}

	b.metrics.RecordRecovery("restore", "success")
	b.logger.Info("session restored from snapshot", "session_id", s.ID(), "from_session", snap.SessionID)
	s.Publish(events.RecoveryRestored, map[string]any{
		"from_session": snap.SessionID,
		"captured_at":  snap.CapturedAt,
		"products":     len(snap.Products),
	})
	return true, nil
}

// Discard deletes owner's snapshot.
func (b *Bridge) Discard(ctx context.Context, owner string) error {
	return b.snapshots.Delete(ctx, SnapshotKey(owner))
}

// SaveDraft stores an in-progress curation for owner.
func (b *Bridge) SaveDraft(ctx context.Context, owner string, draft json.RawMessage) error {
	if !json.Valid(draft) {
		return errors.New("draft is not valid JSON")
	}
	return b.drafts.Save(ctx, DraftKey(owner), draft)
}

// LoadDraft returns owner's draft. Missing and expired drafts report false.
func (b *Bridge) LoadDraft(ctx context.Context, owner string) (json.RawMessage, bool, error) {
	var draft json.RawMessage
	_, err := b.drafts.Load(ctx, DraftKey(owner), &draft)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, cache.ErrExpired) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return draft, true, nil
}

// ClearDraft deletes owner's draft.
func (b *Bridge) ClearDraft(ctx context.Context, owner string) error {
	return b.drafts.Delete(ctx, DraftKey(owner))
}

// Stores returns the retailer list, served from the durable cache while it
// is fresh.
func (b *Bridge) Stores(ctx context.Context) ([]string, error) {
	var stores []string
	_, err := b.storeList.Load(ctx, StoreListKey, &stores)
	if err == nil {
		return stores, nil
	}
	if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, cache.ErrExpired) {
		b.logger.Warn("store list cache unreadable", "error", err)
	}
	if b.stores == nil {
		return nil, errors.New("no store lister configured")
	}
	stores, err = b.stores.Stores(ctx)
	if err != nil {
		return nil, err
	}
	if err := b.storeList.Save(ctx, StoreListKey, stores); err != nil {
		b.logger.Warn("failed to cache store list", "error", err)
	}
	return stores, nil
}

// Entry describes a stored snapshot or draft.
type Entry struct {
	Kind      string    `json:"kind"`
	Owner     string    `json:"owner"`
	Key       string    `json:"key"`
	Size      int       `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
	Stale     bool      `json:"stale"`
}

// List returns stored snapshots and drafts.
func (b *Bridge) List(ctx context.Context) ([]Entry, error) {
	var out []Entry
	for _, kind := range []struct {
		prefix string
		ttl    time.Duration
	}{
		{snapshotPrefix, b.window},
		{draftPrefix, b.draftTTL},
	} {
		metas, err := b.store.List(ctx, kind.prefix+"/")
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", kind.prefix, err)
		}
		for _, m := range metas {
			out = append(out, Entry{
				Kind:      kind.prefix,
				Owner:     strings.TrimPrefix(m.Key, kind.prefix+"/"),
				Key:       m.Key,
				Size:      m.Size,
				UpdatedAt: m.UpdatedAt,
				Stale:     b.now().Sub(m.UpdatedAt) >= kind.ttl,
			})
		}
	}
	return out, nil
}

// Prune deletes snapshots and persisted clean rooms older than the
// staleness window and drafts older than the draft TTL.
func (b *Bridge) Prune(ctx context.Context) (int, error) {
	pruned := 0
	for _, kind := range []struct {
		prefix string
		ttl    time.Duration
	}{
		{snapshotPrefix, b.window},
		{draftPrefix, b.draftTTL},
		{roomsPrefix, b.window},
	} {
		metas, err := b.store.List(ctx, kind.prefix+"/")
		if err != nil {
			return pruned, fmt.Errorf("list %s: %w", kind.prefix, err)
		}
		for _, m := range metas {
			if b.now().Sub(m.UpdatedAt) < kind.ttl {
				continue
			}
			if err := b.store.Delete(ctx, m.Key); err != nil {
				return pruned, fmt.Errorf("delete %s: %w", m.Key, err)
			}
			pruned++
		}
	}
	if pruned > 0 {
		b.metrics.RecordRecovery("prune", "success")
		b.logger.Info("pruned recovery data", "count", pruned)
	}
	return pruned, nil
}
