package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/haasonsaas/roomviz/internal/cache"
	"github.com/haasonsaas/roomviz/internal/renderer"
)

const maxCachedAnalyses = 256

// Cached memoizes analyses by image content so repeated resets of the same
// room do not pay for another model call.
type Cached struct {
	next  Analyzer
	cache *cache.TTLCache[renderer.RoomAnalysis]
}

// NewCached wraps next with a TTL cache.
func NewCached(next Analyzer, ttl time.Duration) *Cached {
	return &Cached{
		next:  next,
		cache: cache.NewTTLCache[renderer.RoomAnalysis](cache.TTLCacheOptions{TTL: ttl, MaxSize: maxCachedAnalyses}),
	}
}

func (c *Cached) Analyze(ctx context.Context, image string) (*renderer.RoomAnalysis, error) {
	sum := sha256.Sum256([]byte(image))
	key := hex.EncodeToString(sum[:])
	if hit, ok := c.cache.Get(key); ok {
		return &hit, nil
	}
	out, err := c.next.Analyze(ctx, image)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, *out)
	return out, nil
}
