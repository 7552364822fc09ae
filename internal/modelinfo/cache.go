// Package modelinfo implements the model-info cache (spec §4.D): a
// read-mostly, TTL-expiring map from model id to its capabilities, lazily
// populated by a single in-flight fetch per missing key.
package modelinfo

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kirogateway/kiro-gateway/internal/chatmodel"
)

// DefaultTTL is the cache lifetime for a fetched entry (spec §4.D).
const DefaultTTL = time.Hour

// Fetcher retrieves the full model list from the upstream ListAvailableModels
// endpoint. Implemented by internal/upstream; declared here to avoid an
// import cycle.
type Fetcher interface {
	ListModels(ctx context.Context) ([]chatmodel.ModelInfo, error)
}

// Cache is safe for concurrent use. A miss triggers exactly one in-flight
// fetch regardless of how many goroutines ask for the same (or a different)
// model id concurrently, since one ListAvailableModels call populates every
// entry at once.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]chatmodel.ModelInfo
	ttl     time.Duration
	fetcher Fetcher
	group   singleflight.Group
}

func New(fetcher Fetcher, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{entries: make(map[string]chatmodel.ModelInfo), ttl: ttl, fetcher: fetcher}
}

func (c *Cache) lookup(id string) (chatmodel.ModelInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.entries[id]
	if !ok {
		return chatmodel.ModelInfo{}, false
	}
	if time.Since(info.FetchedAt) > c.ttl {
		return chatmodel.ModelInfo{}, false
	}
	return info, true
}

// Get returns the cached entry for id, refreshing the whole table via one
// in-flight fetch on a miss or expiry.
func (c *Cache) Get(ctx context.Context, id string) (chatmodel.ModelInfo, error) {
	if info, ok := c.lookup(id); ok {
		return info, nil
	}

	_, err, _ := c.group.Do("refresh-all", func() (interface{}, error) {
		models, err := c.fetcher.ListModels(ctx)
		if err != nil {
			return nil, err
		}
		now := time.Now()
		c.mu.Lock()
		for _, m := range models {
			m.FetchedAt = now
			c.entries[m.ID] = m
		}
		c.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return chatmodel.ModelInfo{}, err
	}

	if info, ok := c.lookup(id); ok {
		return info, nil
	}
	return chatmodel.ModelInfo{}, &UnknownModelError{ModelID: id}
}

// List returns every currently cached entry, refreshing first if the cache
// is empty or fully expired.
func (c *Cache) List(ctx context.Context) ([]chatmodel.ModelInfo, error) {
	if c.stale() {
		if _, err := c.Get(ctx, ""); err != nil {
			if _, ok := err.(*UnknownModelError); !ok {
				return nil, err
			}
		}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]chatmodel.ModelInfo, 0, len(c.entries))
	for _, m := range c.entries {
		out = append(out, m)
	}
	return out, nil
}

// stale reports whether the cache is empty or every entry has aged past the
// TTL, in which case List should trigger a refresh before returning.
func (c *Cache) stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.entries) == 0 {
		return true
	}
	for _, m := range c.entries {
		if time.Since(m.FetchedAt) <= c.ttl {
			return false
		}
	}
	return true
}

// UnknownModelError indicates a model id that the upstream does not report.
type UnknownModelError struct{ ModelID string }

func (e *UnknownModelError) Error() string { return "unknown model: " + e.ModelID }
