// ABOUTME: Thread-safe TTL cache of seen entity IDs for event de-duplication
// ABOUTME: Subscribers use it to collapse at-least-once delivery into one observation

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// seenEntry stores the timestamp and list element for a cached entity ID.
type seenEntry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache tracks entity IDs that have already been delivered to a subscriber.
// Delivery is at-least-once and possibly out of order, so consumers collapse
// duplicates here by entity ID instead of trusting the transport. The cache
// is TTL-based and size-limited; insertion order is kept in a doubly-linked
// list for O(1) eviction.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*seenEntry
	order   *list.List // entity IDs in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a dedupe cache with the specified TTL and maximum size.
// A background goroutine periodically removes expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*seenEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// FirstSight atomically checks whether the entity ID is new and marks it
// seen. Returns true exactly once per ID within the TTL window; redelivered
// events return false and must be dropped by the caller.
func (c *Cache) FirstSight(entityID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[entityID]; ok {
		if time.Since(entry.seenAt) < c.ttl {
			// Refresh so a slow redelivery storm keeps the ID pinned
			entry.seenAt = time.Now()
			c.order.MoveToBack(entry.element)
			return false
		}
		// Expired but not yet swept; drop the stale order element so a
		// later eviction cannot pop it and delete the fresh entry.
		c.order.Remove(entry.element)
		delete(c.seen, entityID)
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(entityID)
	c.seen[entityID] = &seenEntry{seenAt: time.Now(), element: elem}
	return true
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, id)
}

// cleanupLoop periodically removes expired entries until Close.
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

// removeExpired drops all entries older than the TTL.
func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, entry := range c.seen {
		if now.Sub(entry.seenAt) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, id)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
