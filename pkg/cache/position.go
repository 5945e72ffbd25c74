package cache

import (
	"container/list"
	"sync"
	"unsafe"

	"go.uber.org/atomic"

	"github.com/corvidchess/corvid/pkg/board"
)

// PositionEntry is one cached Position, reference-counted by pins held by nodes that point at
// it (for transposition coalescing: many Nodes across the tree may share one PositionEntry).
type PositionEntry struct {
	Key      board.ZobristHash // the cache key: Hash, or Hash^address after GetMakeUnique
	Hash     board.ZobristHash // the position's true Zobrist hash, always
	Position *board.Position

	pins atomic.Uint32
}

// IsPinned reports whether any node currently holds a pin on this entry.
func (e *PositionEntry) IsPinned() bool {
	return e.pins.Load() > 0
}

// PositionCache is a fixed-capacity, pin-aware LRU cache of positions keyed by Zobrist hash.
// Eviction always prefers the least-recently-touched unpinned entry; if every entry is pinned,
// NewEntry fails rather than evicting a pinned position out from under a live node.
//
// Grounded on the fixed-size position cache's doubly-linked ObjectInfo list plus hash map,
// reimplemented with container/list for the LRU order and go.uber.org/atomic for pin counts
// (the same library the teacher reaches for on hot struct-embedded counters).
type PositionCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // MRU at Front
	byKey    map[board.ZobristHash]*list.Element
}

// NewPositionCache constructs a cache holding at most capacity positions.
func NewPositionCache(capacity int) *PositionCache {
	return &PositionCache{
		capacity: capacity,
		order:    list.New(),
		byKey:    make(map[board.ZobristHash]*list.Element, capacity),
	}
}

func (c *PositionCache) Size() int {
	return c.capacity
}

func (c *PositionCache) Used() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Contains reports whether hash is present, without affecting LRU order.
func (c *PositionCache) Contains(hash board.ZobristHash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byKey[hash]
	return ok
}

// Get returns the entry for hash, touching it as most-recently-used.
func (c *PositionCache) Get(hash board.ZobristHash) (*PositionEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.byKey[hash]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*PositionEntry), true
}

// NewEntry returns the entry already cached at hash if pos is the identical physical position
// (a genuine transposition hit: many Nodes across the tree then share that one PositionEntry,
// touched as most-recently-used), or else inserts a freshly computed entry, evicting the
// LRU-unpinned tail if the cache is full. Returns ok=false if hash already addresses a
// *different* position (the caller must resolve the collision via GetMakeUnique) or if the
// cache is full and every entry is pinned.
func (c *PositionCache) NewEntry(hash board.ZobristHash, pos *board.Position) (*PositionEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.byKey[hash]; ok {
		e := el.Value.(*PositionEntry)
		if !e.Position.Equals(pos) {
			return nil, false
		}
		c.order.MoveToFront(el)
		return e, true
	}

	if c.order.Len() >= c.capacity {
		if !c.evictLocked() {
			return nil, false
		}
	}

	e := &PositionEntry{Key: hash, Hash: hash, Position: pos}
	el := c.order.PushFront(e)
	c.byKey[hash] = el
	return e, true
}

// GetMakeUnique resolves a Zobrist hash collision: hash already addresses a cached entry whose
// Position differs from pos. The existing entry is re-keyed to hash^address, off the plain hash
// key -- its own Hash/Position fields are untouched, only which key finds it changes -- freeing
// hash to address a freshly inserted entry for pos. Evicts the LRU-unpinned tail if the cache is
// full; returns ok=false if full and every entry is pinned.
func (c *PositionCache) GetMakeUnique(hash board.ZobristHash, pos *board.Position) (*PositionEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.byKey[hash]; ok {
		existing := el.Value.(*PositionEntry)
		delete(c.byKey, hash)
		existing.Key = hash ^ board.ZobristHash(uintptr(unsafe.Pointer(existing)))
		c.byKey[existing.Key] = el
	}

	if c.order.Len() >= c.capacity {
		if !c.evictLocked() {
			return nil, false
		}
	}

	e := &PositionEntry{Key: hash, Hash: hash, Position: pos}
	el := c.order.PushFront(e)
	c.byKey[hash] = el
	return e, true
}

// Unlink removes the entry for key regardless of pin state; callers must only do this once they
// know no node still references it.
func (c *PositionCache) Unlink(key board.ZobristHash) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.byKey[key]
	if !ok {
		return
	}
	c.order.Remove(el)
	delete(c.byKey, key)
}

// evictLocked removes the least-recently-used unpinned entry. Caller must hold c.mu.
func (c *PositionCache) evictLocked() bool {
	for el := c.order.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*PositionEntry)
		if e.IsPinned() {
			continue
		}
		c.order.Remove(el)
		delete(c.byKey, e.Key)
		return true
	}
	return false
}

// Pin increments the entry's pin count, preventing its eviction.
func (c *PositionCache) Pin(e *PositionEntry) {
	e.pins.Inc()
}

// Unpin decrements the entry's pin count.
func (c *PositionCache) Unpin(e *PositionEntry) {
	e.pins.Dec()
}

// PercentFull returns the fraction of capacity currently occupied.
func (c *PositionCache) PercentFull() float64 {
	return float64(c.Used()) / float64(c.capacity)
}
