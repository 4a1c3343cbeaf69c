package optimizer

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/tasksync-dev/tasksync/internal/task"
)

// cacheEntry remembers a successful per-item sync so an unchanged task can
// skip its remote call.
type cacheEntry struct {
	key       string
	updatedAt time.Time // task UpdatedAt at cache time
	cachedAt  time.Time
}

// Cache is a bounded TTL cache of recent sync results. Entries expire
// after the TTL or as soon as the task's UpdatedAt advances past the
// cached timestamp, whichever comes first. The oldest entry is evicted on
// overflow. Only successes are cached.
type Cache struct {
	ttl      time.Duration
	capacity int
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = oldest
}

// NewCache returns a cache holding up to capacity entries for at most ttl.
func NewCache(ttl time.Duration, capacity int) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if capacity <= 0 {
		capacity = 1000
	}
	return &Cache{
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// SetClock overrides the cache's time source. Intended for tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Key builds the composite cache key for a task: id, last-sync
// fingerprint, and remote id (or "new" before the first push).
func Key(t *task.Task) string {
	remote := "new"
	if t.RemoteID != nil {
		remote = fmt.Sprintf("%d", *t.RemoteID)
	}
	return fmt.Sprintf("%d:%s:%s", t.ID, t.LastSyncHash, remote)
}

// Hit reports whether a fresh entry exists for the task. A stale entry
// (expired, or invalidated by a newer UpdatedAt) is removed on the spot.
func (c *Cache) Hit(t *task.Task) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[Key(t)]
	if !ok {
		return false
	}
	e := el.Value.(*cacheEntry)
	if c.now().Sub(e.cachedAt) >= c.ttl || t.UpdatedAt.After(e.updatedAt) {
		c.removeLocked(el)
		return false
	}
	return true
}

// Put records a successful sync of the task.
func (c *Cache) Put(t *task.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key(t)
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
	for c.order.Len() >= c.capacity {
		c.removeLocked(c.order.Front())
	}
	el := c.order.PushBack(&cacheEntry{
		key:       key,
		updatedAt: t.UpdatedAt,
		cachedAt:  c.now(),
	})
	c.entries[key] = el
}

// Sweep evicts all expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	cutoff := c.now().Add(-c.ttl)
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*cacheEntry).cachedAt.Before(cutoff) {
			c.removeLocked(el)
			removed++
		}
		el = next
	}
	return removed
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*cacheEntry)
	delete(c.entries, e.key)
	c.order.Remove(el)
}
