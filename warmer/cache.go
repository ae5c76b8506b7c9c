package warmer

import (
	"context"
	"sync"
	"time"
)

// Fragment is one pre-loaded knowledge item in the prefetch buffer. It
// exists purely to avoid a store round-trip and expires on a fixed
// freshness window regardless of tier state.
type Fragment struct {
	Path            string    `json:"path"`
	Content         string    `json:"content"`
	EstimatedTokens int       `json:"estimated_tokens"`
	WarmedAt        time.Time `json:"warmed_at"`
}

// FragmentCache stores warmed fragments. Implementations expire
// entries after the TTL supplied on Put.
type FragmentCache interface {
	Get(ctx context.Context, path string) (Fragment, bool, error)
	Put(ctx context.Context, frag Fragment, ttl time.Duration) error
	Invalidate(ctx context.Context, paths ...string) error
	Flush(ctx context.Context) error
	Len(ctx context.Context) (int, error)
}

// MemoryFragmentCache is the default in-process FragmentCache.
type MemoryFragmentCache struct {
	mu    sync.RWMutex
	items map[string]memoryFragment
	now   func() time.Time
}

type memoryFragment struct {
	frag      Fragment
	expiresAt time.Time
}

// NewMemoryFragmentCache creates an in-memory fragment cache. now may
// be nil.
func NewMemoryFragmentCache(now func() time.Time) *MemoryFragmentCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryFragmentCache{
		items: make(map[string]memoryFragment),
		now:   now,
	}
}

// Get returns the fragment for path if present and unexpired.
func (c *MemoryFragmentCache) Get(_ context.Context, path string) (Fragment, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[path]
	if !ok || c.now().After(item.expiresAt) {
		return Fragment{}, false, nil
	}
	return item.frag, true, nil
}

// Put stores a fragment with the given TTL.
func (c *MemoryFragmentCache) Put(_ context.Context, frag Fragment, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[frag.Path] = memoryFragment{
		frag:      frag,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Invalidate drops the named fragments.
func (c *MemoryFragmentCache) Invalidate(_ context.Context, paths ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range paths {
		delete(c.items, p)
	}
	return nil
}

// Flush drops every fragment.
func (c *MemoryFragmentCache) Flush(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]memoryFragment)
	return nil
}

// Len counts unexpired fragments.
func (c *MemoryFragmentCache) Len(_ context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	n := 0
	for _, item := range c.items {
		if !now.After(item.expiresAt) {
			n++
		}
	}
	return n, nil
}

var _ FragmentCache = (*MemoryFragmentCache)(nil)
