// Package cache provides the bounded in-memory store backing loader
// memoization: LRU eviction with an optional sliding idle window per entry.
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

type entry[K comparable, V any] struct {
	key        K
	value      V
	lastAccess time.Time
}

// Cache is a bounded associative store. Every access refreshes both the LRU
// position and the sliding-expiration window of the touched entry, so the
// recency list stays ordered by last access and expired entries always form
// a suffix of it. All operations are serialized behind one mutex.
type Cache[K comparable, V any] struct {
	mtx sync.Mutex

	cfg     Config
	entries map[K]*list.Element
	lru     *list.List
	nowFn   func() time.Time // overridden in tests
}

func New[K comparable, V any](cfg Config) (*Cache[K, V], error) {
	if cfg.MaxEntries <= 0 {
		return nil, fmt.Errorf("max entries must be positive, got %d", cfg.MaxEntries)
	}
	if cfg.SlidingExpiration < 0 {
		return nil, fmt.Errorf("sliding expiration must not be negative, got %s", cfg.SlidingExpiration)
	}

	return &Cache[K, V]{
		cfg:     cfg,
		entries: make(map[K]*list.Element, cfg.MaxEntries),
		lru:     list.New(),
		nowFn:   time.Now,
	}, nil
}

// Get returns the stored value if present and not expired, refreshing its
// recency and idle window on hit.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	var zero V

	el, ok := c.entries[key]
	if !ok {
		metricMisses.Inc()
		return zero, false
	}

	e := el.Value.(*entry[K, V])
	if c.expired(e) {
		c.remove(el)
		metricEvictions.WithLabelValues(reasonExpired).Inc()
		metricMisses.Inc()
		return zero, false
	}

	e.lastAccess = c.nowFn()
	c.lru.MoveToFront(el)
	metricHits.Inc()
	return e.value, true
}

// Set inserts or overwrites, evicting expired entries first and then the
// least recently used entry when over capacity.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.set(key, value)
}

// Add inserts only if the key is absent (an expired entry counts as absent)
// and reports whether the insert happened.
func (c *Cache[K, V]) Add(key K, value V) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry[K, V])
		if !c.expired(e) {
			return false
		}
		c.remove(el)
		metricEvictions.WithLabelValues(reasonExpired).Inc()
	}

	c.set(key, value)
	return true
}

func (c *Cache[K, V]) set(key K, value V) {
	now := c.nowFn()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value = value
		e.lastAccess = now
		c.lru.MoveToFront(el)
		return
	}

	c.purgeExpired()
	for c.lru.Len() >= c.cfg.MaxEntries {
		c.remove(c.lru.Back())
		metricEvictions.WithLabelValues(reasonFull).Inc()
	}

	c.entries[key] = c.lru.PushFront(&entry[K, V]{
		key:        key,
		value:      value,
		lastAccess: now,
	})
}

// Remove drops the entry if present.
func (c *Cache[K, V]) Remove(key K) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return false
	}
	c.remove(el)
	return true
}

// Clear drops all entries.
func (c *Cache[K, V]) Clear() {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.entries = make(map[K]*list.Element, c.cfg.MaxEntries)
	c.lru.Init()
}

func (c *Cache[K, V]) Len() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.lru.Len()
}

// PurgeExpired proactively sweeps entries whose idle window has lapsed and
// returns how many were dropped. Expiration is otherwise lazy on access.
func (c *Cache[K, V]) PurgeExpired() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	purged := c.purgeExpired()
	for i := 0; i < purged; i++ {
		metricEvictions.WithLabelValues(reasonExpired).Inc()
	}
	return purged
}

// purgeExpired removes the expired suffix of the recency list. Must be called
// with the mutex held.
func (c *Cache[K, V]) purgeExpired() int {
	if c.cfg.SlidingExpiration <= 0 {
		return 0
	}

	purged := 0
	for {
		el := c.lru.Back()
		if el == nil {
			break
		}
		e := el.Value.(*entry[K, V])
		if !c.expired(e) {
			break
		}
		c.remove(el)
		purged++
	}
	return purged
}

func (c *Cache[K, V]) expired(e *entry[K, V]) bool {
	if c.cfg.SlidingExpiration <= 0 {
		return false
	}
	return c.nowFn().Sub(e.lastAccess) >= c.cfg.SlidingExpiration
}

func (c *Cache[K, V]) remove(el *list.Element) {
	e := el.Value.(*entry[K, V])
	c.lru.Remove(el)
	delete(c.entries, e.key)
}
