package cache

import "container/list"

type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

// LRU is a strict least-recently-used map. The front of the order list is the
// most recently used entry. LRU is not safe for concurrent use; callers hold
// their own lock.
type LRU[K comparable, V any] struct {
	maxSize int
	order   *list.List
	items   map[K]*list.Element
	onEvict func(K, V)
}

// NewLRU creates an LRU holding at most maxSize entries. maxSize <= 0 means
// unbounded.
func NewLRU[K comparable, V any](opts ...MemoryOption) *LRU[K, V] {
	cfg := &MemoryConfig{
		MaxSize: 1000,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return &LRU[K, V]{
		maxSize: cfg.MaxSize,
		order:   list.New(),
		items:   make(map[K]*list.Element),
	}
}

// OnEvict registers a callback for capacity evictions. Remove does not call it.
func (c *LRU[K, V]) OnEvict(fn func(K, V)) {
	c.onEvict = fn
}

// Get returns the value and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*lruEntry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Peek returns the value without touching recency.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	if el, ok := c.items[key]; ok {
		return el.Value.(*lruEntry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Contains does not touch recency.
func (c *LRU[K, V]) Contains(key K) bool {
	_, ok := c.items[key]
	return ok
}

// Set inserts or replaces key, marks it most recently used and evicts from the
// least recently used end until the size is back within bound. It returns the
// number of evicted entries.
func (c *LRU[K, V]) Set(key K, value V) int {
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry[K, V]).value = value
		c.order.MoveToFront(el)
		return 0
	}
	c.items[key] = c.order.PushFront(&lruEntry[K, V]{key: key, value: value})

	evicted := 0
	for c.maxSize > 0 && c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		e := oldest.Value.(*lruEntry[K, V])
		c.removeElement(oldest)
		if c.onEvict != nil {
			c.onEvict(e.key, e.value)
		}
		evicted++
	}
	return evicted
}

// Remove deletes key and reports whether it was present.
func (c *LRU[K, V]) Remove(key K) bool {
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
		return true
	}
	return false
}

// RemoveFunc deletes every entry whose key matches and returns the count.
func (c *LRU[K, V]) RemoveFunc(match func(K) bool) int {
	n := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if match(el.Value.(*lruEntry[K, V]).key) {
			c.removeElement(el)
			n++
		}
		el = next
	}
	return n
}

// Keys returns keys from least to most recently used.
func (c *LRU[K, V]) Keys() []K {
	keys := make([]K, 0, c.order.Len())
	for el := c.order.Back(); el != nil; el = el.Prev() {
		keys = append(keys, el.Value.(*lruEntry[K, V]).key)
	}
	return keys
}

func (c *LRU[K, V]) Len() int {
	return c.order.Len()
}

func (c *LRU[K, V]) MaxSize() int {
	return c.maxSize
}

// Clear drops every entry.
func (c *LRU[K, V]) Clear() {
	c.items = make(map[K]*list.Element)
	c.order.Init()
}

func (c *LRU[K, V]) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*lruEntry[K, V]).key)
}
