// Package endpointcache caches node-id-to-endpoint mappings with a TTL.
// The runtime records endpoints here as it learns peers; its sends are
// addressed by node id and do not read from the cache.
package endpointcache

import (
	"container/heap"
	"sync"
	"time"
)

// entry is a single cached endpoint with its expiry time.
type entry struct {
	NodeID     string
	Endpoint   string
	ExpiryTime time.Time
	index      int
}

// NewCache creates a new Cache with the given per-entry TTL.
func NewCache(ttl time.Duration) *Cache {
	h := make(entryHeap, 0)
	heap.Init(&h)
	return &Cache{
		ttl:     ttl,
		items:   map[string]*entry{},
		evictor: h,
	}
}

// Cache is a TTL-expiring cache of peer endpoints, touched only by the
// node runtime — subsystems never call it directly.
type Cache struct {
	ttl time.Duration

	mu      sync.RWMutex
	items   map[string]*entry
	evictor entryHeap
}

// Put caches or refreshes a node's endpoint, resetting its TTL.
func (c *Cache) Put(nodeID, endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.items[nodeID]; ok {
		heap.Remove(&c.evictor, existing.index)
		delete(c.items, nodeID)
	}

	e := &entry{
		NodeID:     nodeID,
		Endpoint:   endpoint,
		ExpiryTime: time.Now().Add(c.ttl),
	}
	c.items[nodeID] = e
	heap.Push(&c.evictor, e)
}

// Get returns a node's cached endpoint, if present and unexpired.
func (c *Cache) Get(nodeID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[nodeID]
	if !ok || time.Now().After(e.ExpiryTime) {
		return "", false
	}
	return e.Endpoint, true
}

// EvictExpired removes every entry whose TTL has lapsed. Called once per
// runtime poll iteration alongside the gossip table's own aging.
func (c *Cache) EvictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for len(c.evictor) > 0 && now.After(c.evictor[0].ExpiryTime) {
		e := heap.Pop(&c.evictor).(*entry)
		delete(c.items, e.NodeID)
	}
}

// entryHeap implements heap.Interface, ordering by soonest expiry first.
type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].ExpiryTime.Before(h[j].ExpiryTime) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(v any) {
	e := v.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
