package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/roomviz/internal/catalog"
	"github.com/haasonsaas/roomviz/internal/history"
	"github.com/haasonsaas/roomviz/internal/roomprep"
	"github.com/haasonsaas/roomviz/internal/session"
	"github.com/haasonsaas/roomviz/internal/storage"
)

var sofa = catalog.Product{ID: "sofa-1", Name: "Oslo Sofa", ProductType: "sofa", Quantity: 1}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newBridge(store storage.Store, c *clock) *Bridge {
	return New(Options{Store: store, Now: c.Now})
}

// populatedSession returns a session with a room, a sofa on the canvas and
// a rendered image depicting it.
func populatedSession(t *testing.T, id, room, rendered string) *session.Session {
	t.Helper()
	s := session.New(session.Options{ID: id})
	if _, err := s.BeginUpload(room); err != nil {
		t.Fatalf("BeginUpload() failed: %v", err)
	}
	if _, err := s.AddProduct(sofa); err != nil {
		t.Fatalf("AddProduct() failed: %v", err)
	}
	r, err := s.BeginRender(context.Background())
	if err != nil {
		t.Fatalf("BeginRender() failed: %v", err)
	}
	defer r.Done()
	if err := r.Commit(history.NewEntry(rendered, r.Live, "initial")); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	s.SetChatSessionID("chat-42")
	s.SetCuration(json.RawMessage(`{"title":"Cozy"}`))
	return s
}

func TestCaptureAndRestore(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := storage.NewMemoryStore(0)
	b := newBridge(store, c)

	old := populatedSession(t, "s-old", "room-img", "rendered-img")
	if err := b.Capture(ctx, "user-1", old); err != nil {
		t.Fatalf("Capture() failed: %v", err)
	}

	c.Advance(30 * time.Minute)
	fresh := session.New(session.Options{ID: "s-new"})
	restored, err := b.Restore(ctx, "user-1", fresh)
	if err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}
	if !restored {
		t.Fatalf("Restore() = false, want a fresh snapshot restored")
	}
	v := fresh.View()
	if v.RoomImage != "room-img" || v.RenderedImage != "rendered-img" || v.ChatSessionID != "chat-42" {
		t.Fatalf("restored view = %+v", v)
	}
	if len(v.Products) != 1 || v.Products[0].ID != "sofa-1" || v.NeedsRerender {
		t.Fatalf("restored canvas = %+v needs_rerender=%v", v.Products, v.NeedsRerender)
	}
	if string(v.Curation) != `{"title":"Cozy"}` {
		t.Fatalf("restored curation = %s", v.Curation)
	}
	if v.History.Len != 1 || v.History.CanUndo {
		t.Fatalf("restored history = %+v", v.History)
	}

	again, err := b.Restore(ctx, "user-1", session.New(session.Options{ID: "s-3"}))
	if err != nil || again {
		t.Fatalf("second Restore() = %v, %v; snapshot should be cleared", again, err)
	}
}

func TestRestoreStaleness(t *testing.T) {
	tests := []struct {
		name    string
		age     time.Duration
		restore bool
	}{
		{"just captured", 0, true},
		{"inside window", 59 * time.Minute, true},
		{"two hours old", 2 * time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
			store := storage.NewMemoryStore(0)
			b := newBridge(store, c)
			if err := b.Capture(ctx, "user-1", populatedSession(t, "s-old", "room", "img")); err != nil {
				t.Fatalf("Capture() failed: %v", err)
			}
			c.Advance(tt.age)

			target := session.New(session.Options{ID: "s-new"})
			got, err := b.Restore(ctx, "user-1", target)
			if err != nil {
				t.Fatalf("Restore() failed: %v", err)
			}
			if got != tt.restore {
				t.Fatalf("Restore() = %v, want %v", got, tt.restore)
			}
			if !tt.restore {
				v := target.View()
				if v.RoomImage != "" || len(v.Products) != 0 || v.RenderedImage != "" {
					t.Fatalf("stale snapshot mutated the session: %+v", v)
				}
			}
			if _, err := store.Get(ctx, SnapshotKey("user-1")); !errors.Is(err, storage.ErrNotFound) {
				t.Fatalf("snapshot should be deleted after Restore(), got %v", err)
			}
		})
	}
}

func TestCaptureDropsLargestImageOverQuota(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: time.Now()}
	store := storage.NewMemoryStore(1500)
	b := newBridge(store, c)

	rendered := "data:image/png;base64," + strings.Repeat("R", 4000)
	if err := b.Capture(ctx, "user-1", populatedSession(t, "s-old", "small-room", rendered)); err != nil {
		t.Fatalf("Capture() returned %v, quota errors must not surface", err)
	}

	target := session.New(session.Options{ID: "s-new"})
	ok, err := b.Restore(ctx, "user-1", target)
	if err != nil || !ok {
		t.Fatalf("Restore() = %v, %v", ok, err)
	}
	v := target.View()
	if v.RenderedImage != "" {
		t.Fatalf("largest image should have been dropped")
	}
	if v.RoomImage != "small-room" || len(v.Products) != 1 {
		t.Fatalf("the rest of the snapshot should survive: %+v", v)
	}
	if !v.NeedsRerender {
		t.Fatalf("without the image the canvas needs a render")
	}
}

func TestCaptureGivesUpQuietly(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(10)
	b := newBridge(store, &clock{now: time.Now()})

	if err := b.Capture(ctx, "user-1", populatedSession(t, "s-old", "room", "img")); err != nil {
		t.Fatalf("Capture() = %v, want nil", err)
	}
	if _, err := store.Get(ctx, SnapshotKey("user-1")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("nothing should be stored, got %v", err)
	}
}

func TestCaptureSkipsEmptySession(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(0)
	b := newBridge(store, &clock{now: time.Now()})

	if err := b.Capture(ctx, "user-1", populatedSession(t, "s-old", "room", "img")); err != nil {
		t.Fatalf("Capture() failed: %v", err)
	}
	if err := b.Capture(ctx, "user-1", session.New(session.Options{ID: "empty"})); err != nil {
		t.Fatalf("Capture() failed: %v", err)
	}
	target := session.New(session.Options{ID: "s-new"})
	if ok, _ := b.Restore(ctx, "user-1", target); !ok || target.Room().Room != "room" {
		t.Fatalf("empty session overwrote the earlier snapshot")
	}
}

func TestRestoreUsesPersistedCleanRoom(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(0)
	b := newBridge(store, &clock{now: time.Now()})

	if err := store.Put(ctx, roomprep.CleanRoomKey("s-old"), []byte("persisted-clean")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := b.Capture(ctx, "user-1", populatedSession(t, "s-old", "room", "img")); err != nil {
		t.Fatalf("Capture() failed: %v", err)
	}
	target := session.New(session.Options{ID: "s-new"})
	if ok, err := b.Restore(ctx, "user-1", target); err != nil || !ok {
		t.Fatalf("Restore() = %v, %v", ok, err)
	}
	if got := target.Room().Clean; got != "persisted-clean" {
		t.Fatalf("clean room = %q, want the persisted one", got)
	}
}

func TestRestoreWhileBusy(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(0)
	b := newBridge(store, &clock{now: time.Now()})
	if err := b.Capture(ctx, "user-1", populatedSession(t, "s-old", "room", "img")); err != nil {
		t.Fatalf("Capture() failed: %v", err)
	}

	target := session.New(session.Options{ID: "s-new"})
	r, err := target.BeginRender(ctx)
	if err != nil {
		t.Fatalf("BeginRender() failed: %v", err)
	}
	defer r.Done()
	if _, err := b.Restore(ctx, "user-1", target); !errors.Is(err, session.ErrBusy) {
		t.Fatalf("Restore() while busy = %v, want ErrBusy", err)
	}
}

func TestDrafts(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: time.Now()}
	b := newBridge(storage.NewMemoryStore(0), c)

	if _, ok, err := b.LoadDraft(ctx, "user-1"); err != nil || ok {
		t.Fatalf("LoadDraft() on empty store = %v, %v", ok, err)
	}
	if err := b.SaveDraft(ctx, "user-1", json.RawMessage(`{not json`)); err == nil {
		t.Fatalf("SaveDraft() should reject invalid JSON")
	}
	if err := b.SaveDraft(ctx, "user-1", json.RawMessage(`{"style":"boho"}`)); err != nil {
		t.Fatalf("SaveDraft() failed: %v", err)
	}
	draft, ok, err := b.LoadDraft(ctx, "user-1")
	if err != nil || !ok || string(draft) != `{"style":"boho"}` {
		t.Fatalf("LoadDraft() = %s, %v, %v", draft, ok, err)
	}

	c.Advance(25 * time.Hour)
	if _, ok, _ := b.LoadDraft(ctx, "user-1"); ok {
		t.Fatalf("draft older than its TTL should be discarded")
	}

	if err := b.SaveDraft(ctx, "user-1", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("SaveDraft() failed: %v", err)
	}
	if err := b.ClearDraft(ctx, "user-1"); err != nil {
		t.Fatalf("ClearDraft() failed: %v", err)
	}
	if _, ok, _ := b.LoadDraft(ctx, "user-1"); ok {
		t.Fatalf("cleared draft still present")
	}
}

type countingLister struct {
	calls int
	err   error
}

func (l *countingLister) Stores(ctx context.Context) ([]string, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return []string{"ikea", "west elm"}, nil
}

func TestStoresCached(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: time.Now()}
	lister := &countingLister{}
	b := New(Options{Store: storage.NewMemoryStore(0), Stores: lister, Now: c.Now})

	for i := 0; i < 3; i++ {
		stores, err := b.Stores(ctx)
		if err != nil || len(stores) != 2 {
			t.Fatalf("Stores() = %v, %v", stores, err)
		}
	}
	if lister.calls != 1 {
		t.Fatalf("lister calls = %d, want 1", lister.calls)
	}
	c.Advance(DefaultStoreListTTL)
	if _, err := b.Stores(ctx); err != nil {
		t.Fatalf("Stores() failed: %v", err)
	}
	if lister.calls != 2 {
		t.Fatalf("expired cache should refetch, calls = %d", lister.calls)
	}
}

func TestListAndPrune(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(0)
	c := &clock{now: time.Now()}
	b := newBridge(store, c)

	if err := b.Capture(ctx, "user-1", populatedSession(t, "s-old", "room", "img")); err != nil {
		t.Fatalf("Capture() failed: %v", err)
	}
	if err := b.SaveDraft(ctx, "user-1", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("SaveDraft() failed: %v", err)
	}
	if err := store.Put(ctx, roomprep.CleanRoomKey("s-old"), []byte("clean")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	entries, err := b.List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Owner != "user-1" || entries[0].Stale {
		t.Fatalf("List() = %+v", entries)
	}

	if n, err := b.Prune(ctx); err != nil || n != 0 {
		t.Fatalf("Prune() of fresh data = %d, %v", n, err)
	}
	c.Advance(2 * time.Hour)
	n, err := b.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("Prune() = %d, want snapshot and clean room pruned", n)
	}
	if _, ok, _ := b.LoadDraft(ctx, "user-1"); !ok {
		t.Fatalf("draft inside its TTL should survive the prune")
	}
}
