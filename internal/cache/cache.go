// Package cache holds short-lived computed results keyed by explicit key
// functions. Callers own invalidation.
package cache

import (
	"encoding/hex"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/crypto/blake2b"
)

const (
	defaultSize = 128
	defaultTTL  = 30 * time.Second
	separator   = "\x1f"
)

// Cache stores values under string-like keys.
type Cache[K ~string, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V)
	Invalidate(key K)
	InvalidatePrefix(prefix string) int
}

// Stats counts lookups since construction.
type Stats struct {
	Hits   uint64
	Misses uint64
	Size   int
}

// LRU is a size-bounded cache whose entries expire after a fixed TTL.
type LRU[K ~string, V any] struct {
	lru    *expirable.LRU[K, V]
	clone  func(V) V
	hits   atomic.Uint64
	misses atomic.Uint64
}

// Option configures an LRU.
type Option[V any] func(*options[V])

type options[V any] struct {
	clone func(V) V
}

// WithClone copies values on the way in and out so callers cannot mutate
// cached state.
func WithClone[V any](clone func(V) V) Option[V] {
	return func(o *options[V]) { o.clone = clone }
}

// NewLRU builds an LRU holding at most size entries for ttl each. Non-positive
// arguments fall back to 128 entries and 30 seconds.
func NewLRU[K ~string, V any](size int, ttl time.Duration, opts ...Option[V]) *LRU[K, V] {
	if size <= 0 {
		size = defaultSize
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	var o options[V]
	for _, opt := range opts {
		opt(&o)
	}
	return &LRU[K, V]{
		lru:   expirable.NewLRU[K, V](size, nil, ttl),
		clone: o.clone,
	}
}

func (c *LRU[K, V]) Get(key K) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	value, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return zero, false
	}
	c.hits.Add(1)
	return c.copy(value), true
}

func (c *LRU[K, V]) Set(key K, value V) {
	if c == nil {
		return
	}
	c.lru.Add(key, c.copy(value))
}

func (c *LRU[K, V]) Invalidate(key K) {
	if c == nil {
		return
	}
	c.lru.Remove(key)
}

// InvalidatePrefix drops every entry whose key starts with prefix and returns
// how many were removed.
func (c *LRU[K, V]) InvalidatePrefix(prefix string) int {
	if c == nil {
		return 0
	}
	removed := 0
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(string(key), prefix) && c.lru.Remove(key) {
			removed++
		}
	}
	return removed
}

// Purge empties the cache.
func (c *LRU[K, V]) Purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

// Stats reports hit and miss counters.
func (c *LRU[K, V]) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Size: c.lru.Len()}
}

func (c *LRU[K, V]) copy(value V) V {
	if c.clone == nil {
		return value
	}
	return c.clone(value)
}

// Noop never stores anything.
type Noop[K ~string, V any] struct{}

func (Noop[K, V]) Get(K) (V, bool) {
	var zero V
	return zero, false
}

func (Noop[K, V]) Set(K, V) {}

func (Noop[K, V]) Invalidate(K) {}

func (Noop[K, V]) InvalidatePrefix(string) int { return 0 }

// Prefix joins scope segments into an invalidation prefix ending in a
// separator, so "evt-1" never matches "evt-10".
func Prefix(segments ...string) string {
	return strings.Join(segments, separator) + separator
}

// Key appends a blake2b digest of parts to prefix. Parts are joined with a
// separator that cannot appear in IDs or RFC 3339 timestamps.
func Key(prefix string, parts ...string) string {
	sum := blake2b.Sum256([]byte(strings.Join(parts, separator)))
	return prefix + hex.EncodeToString(sum[:16])
}
