package fdsn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/couchcryptid/seismic-locator/internal/domain"
	"github.com/couchcryptid/seismic-locator/internal/observability"
)

// CachedClient wraps a Source with an in-memory LRU cache.
type CachedClient struct {
	inner    Source
	stations *lruCache[[]StationInfo]
	waves    *lruCache[[]byte]
	metrics  *observability.Metrics
}

// NewCachedClient creates a cache decorator around a source. Station lists
// and waveforms each keep up to maxEntries results.
func NewCachedClient(inner Source, maxEntries int, metrics *observability.Metrics) *CachedClient {
	return &CachedClient{
		inner:    inner,
		stations: newLRUCache[[]StationInfo](maxEntries),
		waves:    newLRUCache[[]byte](maxEntries),
		metrics:  metrics,
	}
}

func (c *CachedClient) Stations(ctx context.Context, q StationQuery) ([]StationInfo, error) {
	key := fmt.Sprintf("sta:%.4f,%.4f|%g|%s|%d|%d", q.Lat, q.Lon, q.MaxRadius, q.Channel, q.Start.Unix(), q.End.Unix())
	if result, ok := c.stations.get(key); ok {
		c.metrics.FDSNCache.WithLabelValues("hit").Inc()
		return result, nil
	}
	c.metrics.FDSNCache.WithLabelValues("miss").Inc()
	result, err := c.inner.Stations(ctx, q)
	if err != nil {
		return result, err
	}
	// Only cache non-empty results so a later request can find new stations.
	if len(result) > 0 {
		c.stations.put(key, result)
	}
	return result, nil
}

func (c *CachedClient) Waveform(ctx context.Context, st domain.Station, ch domain.Channel, start, end time.Time) ([]byte, error) {
	key := fmt.Sprintf("wf:%s|%s|%d|%d", st.Key(), ch, start.UnixNano(), end.UnixNano())
	if result, ok := c.waves.get(key); ok {
		c.metrics.FDSNCache.WithLabelValues("hit").Inc()
		return result, nil
	}
	c.metrics.FDSNCache.WithLabelValues("miss").Inc()
	result, err := c.inner.Waveform(ctx, st, ch, start, end)
	if err != nil {
		return result, err
	}
	if len(result) > 0 {
		c.waves.put(key, result)
	}
	return result, nil
}

// lruCache is a thread-safe LRU cache.
type lruCache[V any] struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry[V]
	head       *entry[V] // most recently used
	tail       *entry[V] // least recently used
}

type entry[V any] struct {
	key   string
	value V
	prev  *entry[V]
	next  *entry[V]
}

func newLRUCache[V any](maxEntries int) *lruCache[V] {
	return &lruCache[V]{
		maxEntries: max(maxEntries, 1),
		entries:    make(map[string]*entry[V]),
	}
}

func (c *lruCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry[V]{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache[V]) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache[V]) moveToFront(e *entry[V]) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache[V]) addToFront(e *entry[V]) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache[V]) remove(e *entry[V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache[V]) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
