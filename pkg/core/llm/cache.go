package llm

import (
	"context"
	"sync"
	"time"
)

// ModelCache holds a model list and its expiry instant. It is owned by the
// provider instance rather than living at package level, so expiry is
// testable by injecting a clock and two clients never share hidden state.
type ModelCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	models  []string
	expires time.Time
}

// NewModelCache creates a cache with the given time-to-live.
func NewModelCache(ttl time.Duration) *ModelCache {
	return &ModelCache{ttl: ttl, now: time.Now}
}

// SetClock overrides the cache's clock (used by tests).
func (c *ModelCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the cached model list, calling fetch to refill when the cache
// is empty or expired. A failed refill leaves the cache unchanged.
func (c *ModelCache) Get(ctx context.Context, fetch func(ctx context.Context) ([]string, error)) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.models != nil && c.now().Before(c.expires) {
		return c.models, nil
	}

	models, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.models = models
	c.expires = c.now().Add(c.ttl)
	return models, nil
}
