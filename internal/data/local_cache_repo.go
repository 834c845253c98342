package data

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/target/taskmanager-api/internal/core"
)

// LocalCacheRepo is an in-process LRU cache with per-entry TTL. It backs the
// job status cache when no redis is configured and is private to the process.
type LocalCacheRepo struct {
	mu    sync.Mutex
	cap   int
	ll    *list.List               // front = most-recently used
	items map[string]*list.Element // key -> element
	now   func() time.Time
}

var _ core.CacheRepository = (*LocalCacheRepo)(nil)

type lruEntry struct {
	key    string
	value  []byte
	expiry time.Time // zero means no expiry
}

// LocalCacheConfig configures NewLocalCacheRepo.
type LocalCacheConfig struct {
	Capacity int
	Now      func() time.Time
}

const defaultLocalCacheCapacity = 1024

// NewLocalCacheRepo creates a LocalCacheRepo.
func NewLocalCacheRepo(cfg LocalCacheConfig) *LocalCacheRepo {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultLocalCacheCapacity
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &LocalCacheRepo{
		cap:   capacity,
		ll:    list.New(),
		items: make(map[string]*list.Element, capacity),
		now:   nowFn,
	}
}

// Get returns nil, nil for absent or expired keys.
func (c *LocalCacheRepo) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, found := c.items[key]
	if !found {
		return nil, nil
	}
	ent := el.Value.(*lruEntry) //nolint:forcetypeassert // only lruEntry values are stored
	if c.isExpired(ent) {
		c.removeElement(el)
		return nil, nil
	}
	c.ll.MoveToFront(el)
	return ent.value, nil
}

// Set inserts or updates a value. A ttl <= 0 never expires.
func (c *LocalCacheRepo) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}

	if el, found := c.items[key]; found {
		ent := el.Value.(*lruEntry) //nolint:forcetypeassert // only lruEntry values are stored
		ent.value = value
		ent.expiry = exp
		c.ll.MoveToFront(el)
		return nil
	}

	c.items[key] = c.ll.PushFront(&lruEntry{key: key, value: value, expiry: exp})
	for c.ll.Len() > c.cap {
		c.removeElement(c.ll.Back())
	}
	return nil
}

// Delete removes key and reports whether it was present.
func (c *LocalCacheRepo) Delete(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
		return true, nil
	}
	return false, nil
}

// Health always succeeds.
func (c *LocalCacheRepo) Health(context.Context) error { return nil }

// Len returns the current number of entries, expired ones included.
func (c *LocalCacheRepo) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// caller must hold c.mu.
func (c *LocalCacheRepo) isExpired(e *lruEntry) bool {
	return !e.expiry.IsZero() && c.now().After(e.expiry)
}

// caller must hold c.mu.
func (c *LocalCacheRepo) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*lruEntry).key) //nolint:forcetypeassert // only lruEntry values are stored
}
