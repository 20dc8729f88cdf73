package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/HanTheDev/embedding-service/internal/models"
)

// LRU is the in-process L1 cache: a bounded map from fingerprint to
// cache entry with strict least-recently-used eviction. Get counts as a
// touch. All operations are O(1) and never perform I/O.
type LRU struct {
	capacity int
	mu       sync.Mutex
	items    map[Key]*list.Element
	order    *list.List

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type lruEntry struct {
	key   Key
	entry *models.CacheEntry
}

// NewLRU creates an L1 cache holding at most capacity entries.
func NewLRU(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRU{
		capacity: capacity,
		items:    make(map[Key]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get returns the entry for key if present, refreshing its recency.
func (c *LRU) Get(key Key) (*models.CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.order.MoveToFront(elem)
	c.hits.Add(1)
	return elem.Value.(*lruEntry).entry, true
}

// Put inserts or refreshes an entry, evicting the least-recently-touched
// entry when at capacity.
func (c *LRU) Put(key Key, entry *models.CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*lruEntry).entry = entry
		return
	}

	elem := c.order.PushFront(&lruEntry{key: key, entry: entry})
	c.items[key] = elem

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry).key)
			c.evictions.Add(1)
		}
	}
}

// Len returns the current entry count.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity returns the configured maximum entry count.
func (c *LRU) Capacity() int {
	return c.capacity
}

// Stats reports hit/miss/eviction counters since construction.
func (c *LRU) Stats() (hits, misses, evictions int64) {
	return c.hits.Load(), c.misses.Load(), c.evictions.Load()
}
