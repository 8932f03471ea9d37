// pageio/cache.go
package pageio

import (
	"container/list"
	"strconv"
	"sync"
	"time"
)

// decayMaxAge is how long an entry may go unaccessed before evictOldest
// considers its priority stale and lets DecayPriorities step it down.
const decayMaxAge = 30 * time.Second

// Cache is a bounded, keyed-by-offset cache of deserialized logical pages.
// Entries are immutable once inserted — exactly the pages the CoW
// discipline hands out, since a page once written at an offset is never
// mutated there (spec.md §3 "Immutability by revision"). Eviction is pure
// memory reclamation: correctness never depends on whether an entry is
// still resident, only on whether the caller can still read its bytes
// back from storage.
type Cache struct {
	mu       sync.Mutex
	capacity int
	lru      *list.List
	entries  map[uint64]*list.Element
	budget   *MemoryBudget
}

type cacheItem struct {
	offset uint64
	value  any
	size   int64
}

// NewCache creates a page cache holding up to capacity entries. A capacity
// of 0 disables caching (every Get misses).
func NewCache(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		lru:      list.New(),
		entries:  make(map[uint64]*list.Element),
	}
}

// SetBudget attaches a MemoryBudget so the cache reports tracked bytes to
// it and takes its eviction order from the budget's priority ranking;
// optional, nil by default.
func (c *Cache) SetBudget(b *MemoryBudget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.budget = b
	if b != nil {
		b.RegisterComponent("pageio.cache")
	}
}

// Get returns the cached value for offset, promoting it to most-recently
// used, and reports whether it was present.
func (c *Cache) Get(offset uint64) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[offset]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(el)
	if c.budget != nil {
		c.budget.RecordAccess("pageio.cache", itoa(offset))
	}
	return el.Value.(*cacheItem).value, true
}

// Put inserts or replaces the cached value for offset. size is an
// approximate byte cost used only for the memory budget hint.
func (c *Cache) Put(offset uint64, value any, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity <= 0 {
		return
	}

	if el, ok := c.entries[offset]; ok {
		c.lru.MoveToFront(el)
		el.Value.(*cacheItem).value = value
		return
	}

	el := c.lru.PushFront(&cacheItem{offset: offset, value: value, size: size})
	c.entries[offset] = el
	if c.budget != nil {
		// Starts cold; RecordAccess promotes it on reuse, DecayPriorities
		// steps it back down if it goes stale before eviction needs it.
		c.budget.TrackWithPriority("pageio.cache", itoa(offset), size, PriorityCold)
	}

	for c.lru.Len() > c.capacity {
		c.evictOldest()
	}
}

// Invalidate removes offset from the cache, if present. Used when a page
// offset is reclaimed onto the free list and must never be served stale.
func (c *Cache) Invalidate(offset uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[offset]
	if !ok {
		return
	}
	c.lru.Remove(el)
	delete(c.entries, offset)
	if c.budget != nil {
		c.budget.ReleaseItem("pageio.cache", itoa(offset))
	}
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// BudgetStats reports the attached MemoryBudget's current usage. ok is
// false when no budget was attached via SetBudget.
func (c *Cache) BudgetStats() (stats MemoryBudgetStats, ok bool) {
	c.mu.Lock()
	b := c.budget
	c.mu.Unlock()
	if b == nil {
		return MemoryBudgetStats{}, false
	}
	return b.Stats(), true
}

// evictOldest drops one entry. With a budget attached, the choice follows
// the budget's priority ranking (coldest, least-recently-used first,
// after stepping down anything that has gone quiet for decayMaxAge)
// rather than plain recency, so a page that's merely old but still hot
// survives over one that's both old and cold. Without a budget it falls
// back to plain LRU. Must be called with c.mu held.
func (c *Cache) evictOldest() {
	if c.budget != nil {
		c.budget.DecayPriorities("pageio.cache", decayMaxAge)
		for _, key := range c.budget.GetEvictionCandidates("pageio.cache", 1) {
			offset, ok := parseOffset(key)
			if !ok {
				continue
			}
			el, ok := c.entries[offset]
			if !ok {
				continue
			}
			c.lru.Remove(el)
			delete(c.entries, offset)
			c.budget.ReleaseItem("pageio.cache", key)
			return
		}
	}

	el := c.lru.Back()
	if el == nil {
		return
	}
	item := el.Value.(*cacheItem)
	c.lru.Remove(el)
	delete(c.entries, item.offset)
	if c.budget != nil {
		c.budget.ReleaseItem("pageio.cache", itoa(item.offset))
	}
}

func itoa(offset uint64) string {
	return strconv.FormatUint(offset, 16)
}

func parseOffset(key string) (uint64, bool) {
	v, err := strconv.ParseUint(key, 16, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
