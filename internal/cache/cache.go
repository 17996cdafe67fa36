package cache

import (
	"sync"
)

// Cache defines a generic memoization interface keyed by a comparable
// identity (for example a reflect.Type).
type Cache[K comparable, V any] interface {
	// Get retrieves a value from the cache.
	Get(key K) (V, bool)
	// Put stores a value in the cache.
	Put(key K, v V)
	// GetOrCompute returns the cached value or stores and returns compute().
	GetOrCompute(key K, compute func() V) V
	// Size returns the number of items in the cache.
	Size() int
}

// MapCache is a simple in-memory implementation of Cache.
// Values are stored as given; callers must treat them as immutable.
type MapCache[K comparable, V any] struct {
	data map[K]V
	mu   sync.RWMutex
	name string
}

// NewMapCache creates an empty cache. name labels its hit/miss metrics.
func NewMapCache[K comparable, V any](name string) *MapCache[K, V] {
	return &MapCache[K, V]{
		data: make(map[K]V),
		name: name,
	}
}

func (c *MapCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.data[key]
	if ok {
		cacheHits.WithLabelValues(c.name).Inc()
	} else {
		cacheMisses.WithLabelValues(c.name).Inc()
	}
	return v, ok
}

func (c *MapCache[K, V]) Put(key K, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = v
}

func (c *MapCache[K, V]) GetOrCompute(key K, compute func() V) V {
	if v, ok := c.Get(key); ok {
		return v
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have won the race.
	if v, ok := c.data[key]; ok {
		return v
	}
	v := compute()
	c.data[key] = v
	cacheEntries.WithLabelValues(c.name).Set(float64(len(c.data)))
	return v
}

func (c *MapCache[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
