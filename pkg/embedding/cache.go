package embedding

import (
	"container/list"
	"sync"
)

// DefaultCacheSize is the number of vectors kept in memory.
const DefaultCacheSize = 10000

type cacheEntry struct {
	text   string
	vector []float32
}

// Cache is a bounded text → vector map. When full, the oldest inserted text
// is evicted; reads do not refresh a text's position.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List
	items   map[string]*list.Element
}

// NewCache creates a Cache holding at most maxSize vectors.
func NewCache(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	return &Cache{
		maxSize: maxSize,
		order:   list.New(),
		items:   make(map[string]*list.Element),
	}
}

// Get returns the cached vector for text. The returned slice is shared and
// must not be modified.
func (c *Cache) Get(text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[text]
	if !ok {
		return nil, false
	}
	return el.Value.(*cacheEntry).vector, true
}

// Put stores vector for text. Re-putting a known text replaces its vector
// without changing its eviction position.
func (c *Cache) Put(text string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[text]; ok {
		el.Value.(*cacheEntry).vector = vector
		return
	}
	for c.order.Len() >= c.maxSize {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).text)
	}
	c.items[text] = c.order.PushBack(&cacheEntry{text: text, vector: vector})
}

// Len returns the number of cached vectors.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear drops every cached vector.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	clear(c.items)
}
