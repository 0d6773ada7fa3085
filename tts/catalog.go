package tts

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// catalog caches a lazily fetched voice listing for the process lifetime.
// Concurrent first accesses share a single fetch; a failed fetch is retried
// on the next access. The stored value is read-only once loaded.
type catalog[T any] struct {
	group  singleflight.Group
	mu     sync.RWMutex
	value  T
	loaded bool
}

// get returns the cached value, fetching it first if necessary.
func (c *catalog[T]) get(fetch func() (T, error)) (T, error) {
	c.mu.RLock()
	if c.loaded {
		value := c.value
		c.mu.RUnlock()
		return value, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.group.Do("fetch", func() (any, error) {
		c.mu.RLock()
		if c.loaded {
			value := c.value
			c.mu.RUnlock()
			return value, nil
		}
		c.mu.RUnlock()

		value, err := fetch()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.value = value
		c.loaded = true
		c.mu.Unlock()
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}
