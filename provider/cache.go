package provider

import (
	"sync"

	"github.com/google/btree"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/alloy-rs/alloy-sub000/metrics"
)

// LRUCache wraps hashicorp/golang-lru to track metrics of the caching process.
type LRUCache[K comparable, V any] struct {
	m     metrics.CacheMetrics
	label string
	inner *lru.Cache[K, V]
}

// NewLRUCache creates a LRU cache of the given size, reporting cache metrics
// under the given label. The metrics sink may be nil.
func NewLRUCache[K comparable, V any](m metrics.CacheMetrics, label string, maxSize int) *LRUCache[K, V] {
	// no errors if the size is positive
	cache, _ := lru.New[K, V](max(maxSize, 1))
	return &LRUCache[K, V]{
		m:     m,
		label: label,
		inner: cache,
	}
}

func (c *LRUCache[K, V]) Get(key K) (value V, ok bool) {
	value, ok = c.inner.Get(key)
	if c.m != nil {
		c.m.CacheGet(c.label, ok)
	}
	return value, ok
}

func (c *LRUCache[K, V]) Add(key K, value V) (evicted bool) {
	evicted = c.inner.Add(key, value)
	if c.m != nil {
		c.m.CacheAdd(c.label, c.inner.Len(), evicted)
	}
	return evicted
}

type orderItem[V any] struct {
	number uint64
	value  V
}

func (a orderItem[V]) Less(b btree.Item) bool {
	return a.number < b.(orderItem[V]).number
}

// OrderCache keeps values keyed by block number in a btree, so that a reorg
// or a finality update can drop a whole contiguous range at once.
type OrderCache[V any] struct {
	m       metrics.CacheMetrics
	label   string
	data    *btree.BTree
	lock    sync.Mutex
	maxSize int
}

func NewOrderCache[V any](m metrics.CacheMetrics, label string, maxSize int) *OrderCache[V] {
	return &OrderCache[V]{
		m:       m,
		label:   label,
		data:    btree.New(32),
		maxSize: maxSize,
	}
}

// Add inserts the value, evicting the lowest-numbered entry when full.
func (v *OrderCache[V]) Add(key uint64, value V) {
	defer v.lock.Unlock()
	v.lock.Lock()

	if v.data.Len() >= v.maxSize {
		v.data.DeleteMin()
	}
	v.data.ReplaceOrInsert(orderItem[V]{
		number: key,
		value:  value,
	})
	if v.m != nil {
		v.m.CacheAdd(v.label, v.data.Len(), false)
	}
}

func (v *OrderCache[V]) Get(key uint64) (V, bool) {
	defer v.lock.Unlock()
	v.lock.Lock()

	i := v.data.Get(orderItem[V]{number: key})
	if v.m != nil {
		v.m.CacheGet(v.label, i != nil)
	}
	if i == nil {
		var zero V
		return zero, false
	}
	return i.(orderItem[V]).value, true
}

func (v *OrderCache[V]) Len() int {
	defer v.lock.Unlock()
	v.lock.Lock()
	return v.data.Len()
}

// RemoveGreaterOrEqual drops all entries at or above the given number.
// Used when a reorg invalidates the canonical chain from that height on.
func (v *OrderCache[V]) RemoveGreaterOrEqual(p uint64) (isRemoved bool) {
	defer v.lock.Unlock()
	v.lock.Lock()

	for {
		i := v.data.Max()
		if i == nil || i.(orderItem[V]).number < p {
			return
		}
		v.data.Delete(i)
		isRemoved = true
	}
}

// RemoveLessThan drops all entries below the given number,
// e.g. once they are finalized and no longer of interest.
func (v *OrderCache[V]) RemoveLessThan(p uint64) (isRemoved bool) {
	defer v.lock.Unlock()
	v.lock.Lock()

	for {
		i := v.data.Min()
		if i == nil || i.(orderItem[V]).number >= p {
			return
		}
		v.data.Delete(i)
		isRemoved = true
	}
}

func (v *OrderCache[V]) RemoveAll() {
	defer v.lock.Unlock()
	v.lock.Lock()
	v.data.Clear(false)
}
