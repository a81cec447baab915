package storage

import (
	"context"
	"fmt"
)

// QuotaStore rejects values larger than a per-value limit before they reach
// the wrapped store.
type QuotaStore struct {
	Store
	maxValueBytes int
}

// WithQuota wraps store with a per-value byte limit. A non-positive limit
// returns store unchanged.
func WithQuota(store Store, maxValueBytes int) Store {
	if maxValueBytes <= 0 {
		return store
	}
	return &QuotaStore{Store: store, maxValueBytes: maxValueBytes}
}

func (q *QuotaStore) Put(ctx context.Context, key string, value []byte) error {
	if len(value) > q.maxValueBytes {
		return fmt.Errorf("%w: %s is %d bytes (max %d)", ErrQuotaExceeded, key, len(value), q.maxValueBytes)
	}
	return q.Store.Put(ctx, key, value)
}
