package embedding

import (
	"container/list"
	"sync"
)

// Cache is a fixed-capacity LRU keyed by content hash. Vectors are copied on
// the way in and out so callers can never mutate a cached entry.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	hash   string
	vector []float32
}

func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns a copy of the cached vector for hash, if present.
func (c *Cache) Get(hash string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[hash]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(el)
	return cloneVector(el.Value.(*cacheEntry).vector), true
}

// Put stores a copy of vector under hash, evicting the least recently used
// entry when over capacity.
func (c *Cache) Put(hash string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[hash]; ok {
		el.Value.(*cacheEntry).vector = cloneVector(vector)
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&cacheEntry{hash: hash, vector: cloneVector(vector)})
	c.entries[hash] = el

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).hash)
	}
}

// Len returns the number of cached vectors.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
