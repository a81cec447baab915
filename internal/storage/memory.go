package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	updatedAt time.Time
}

// MemoryStore is an in-process Store. An optional capacity bounds the total
// bytes held, like a browser storage quota.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]memoryEntry
	capacity int
	used     int
	now      func() time.Time
}

// NewMemoryStore creates a memory store. capacity <= 0 means unbounded.
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]memoryEntry),
		capacity: capacity,
		now:      time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), entry.value...), nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := len(s.entries[key].value)
	if s.capacity > 0 && s.used-prev+len(value) > s.capacity {
		return fmt.Errorf("%w: %d bytes would exceed capacity %d", ErrQuotaExceeded, s.used-prev+len(value), s.capacity)
	}
	s.entries[key] = memoryEntry{value: append([]byte(nil), value...), updatedAt: s.now().UTC()}
	s.used += len(value) - prev
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key]; ok {
		s.used -= len(entry.value)
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Meta, 0)
	for key, entry := range s.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, Meta{Key: key, Size: len(entry.value), UpdatedAt: entry.updatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Used returns the total bytes held.
func (s *MemoryStore) Used() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used
}

func (s *MemoryStore) Close() error {
	return nil
}
