package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/roomviz/internal/storage"
)

func TestNewTTLCache(t *testing.T) {
	t.Run("normalizes negative TTL to zero", func(t *testing.T) {
		c := NewTTLCache[string](TTLCacheOptions{TTL: -time.Minute, MaxSize: 10})
		if c.ttl != 0 {
			t.Errorf("expected TTL 0, got %v", c.ttl)
		}
	})

	t.Run("normalizes negative maxSize to zero", func(t *testing.T) {
		c := NewTTLCache[string](TTLCacheOptions{TTL: time.Minute, MaxSize: -1})
		if c.maxSize != 0 {
			t.Errorf("expected maxSize 0, got %d", c.maxSize)
		}
	})
}

func TestTTLCache_Expiry(t *testing.T) {
	c := NewTTLCache[int](TTLCacheOptions{TTL: time.Minute, MaxSize: 10})
	base := time.Unix(1_700_000_000, 0)

	c.SetAt("k", 42, base)
	if v, ok := c.GetAt("k", base.Add(30*time.Second)); !ok || v != 42 {
		t.Fatalf("expected hit within TTL, got %v %v", v, ok)
	}
	if _, ok := c.GetAt("k", base.Add(time.Minute)); ok {
		t.Fatalf("expected miss at TTL")
	}
	if c.Size() != 0 {
		t.Fatalf("expired entry not evicted on read")
	}
}

func TestTTLCache_MaxSize(t *testing.T) {
	c := NewTTLCache[string](TTLCacheOptions{MaxSize: 2})
	base := time.Unix(1_700_000_000, 0)
	c.SetAt("a", "1", base)
	c.SetAt("b", "2", base.Add(time.Second))
	c.SetAt("c", "3", base.Add(2*time.Second))

	if c.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", c.Size())
	}
	if _, ok := c.GetAt("a", base.Add(3*time.Second)); ok {
		t.Fatalf("expected oldest entry evicted")
	}
	if _, ok := c.GetAt("c", base.Add(3*time.Second)); !ok {
		t.Fatalf("expected newest entry kept")
	}
}

func TestTTLCache_EmptyKey(t *testing.T) {
	c := NewTTLCache[string](TTLCacheOptions{})
	c.Set("", "x")
	if c.Size() != 0 {
		t.Fatalf("empty key should not be stored")
	}
	if _, ok := c.Get(""); ok {
		t.Fatalf("empty key should miss")
	}
}

func TestDurable(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(0)
	d := NewDurable(store, 24*time.Hour)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	d.SetClock(func() time.Time { return now })

	if err := d.Save(ctx, "store-list", []string{"IKEA", "West Elm"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	var stores []string
	storedAt, err := d.Load(ctx, "store-list", &stores)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(stores) != 2 || !storedAt.Equal(now) {
		t.Fatalf("Load() = %v at %v", stores, storedAt)
	}

	now = now.Add(25 * time.Hour)
	if _, err := d.Load(ctx, "store-list", &stores); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if _, err := store.Get(ctx, "store-list"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expired entry should be deleted, got %v", err)
	}
	if _, err := d.Load(ctx, "store-list", &stores); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
