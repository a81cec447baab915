package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/roomviz/internal/storage"
)

// ErrExpired is returned by Durable.Load for entries older than the TTL.
// The entry is deleted before returning.
var ErrExpired = errors.New("cache entry expired")

type envelope struct {
	StoredAt time.Time       `json:"stored_at"`
	Value    json.RawMessage `json:"value"`
}

// Durable keeps JSON values in a storage.Store stamped with their write time
// and treats entries older than the TTL as missing.
type Durable struct {
	store storage.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewDurable creates a durable cache over store. ttl <= 0 disables expiry.
func NewDurable(store storage.Store, ttl time.Duration) *Durable {
	return &Durable{store: store, ttl: ttl, now: time.Now}
}

// SetClock overrides the time source.
func (d *Durable) SetClock(now func() time.Time) {
	if now != nil {
		d.now = now
	}
}

// Save stores value under key.
func (d *Durable) Save(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	data, err := json.Marshal(envelope{StoredAt: d.now().UTC(), Value: raw})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return d.store.Put(ctx, key, data)
}

// Load decodes the value under key into out and returns its write time.
// Missing entries return storage.ErrNotFound; stale ones are deleted and
// return ErrExpired.
func (d *Durable) Load(ctx context.Context, key string, out any) (time.Time, error) {
	data, err := d.store.Get(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		_ = d.store.Delete(ctx, key)
		return time.Time{}, fmt.Errorf("decode %s: %w", key, err)
	}
	if d.ttl > 0 && d.now().Sub(env.StoredAt) >= d.ttl {
		_ = d.store.Delete(ctx, key)
		return env.StoredAt, ErrExpired
	}
	if err := json.Unmarshal(env.Value, out); err != nil {
		return env.StoredAt, fmt.Errorf("decode %s: %w", key, err)
	}
	return env.StoredAt, nil
}

// Delete removes key.
func (d *Durable) Delete(ctx context.Context, key string) error {
	return d.store.Delete(ctx, key)
}
