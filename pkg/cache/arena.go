// Package cache implements the search core's three bounded-size storage structures: the fixed
// node arena, the pin-aware position LRU, and the larger lossy transposition hash.
package cache

import (
	"sync"

	"go.uber.org/atomic"
)

// Pinned is implemented by anything storable in an Arena that the arena's Reset needs to
// partition into "keep" (pinned, part of the retained tree spine) and "reclaim" (unpinned).
type Pinned interface {
	IsPinned() bool
}

// Arena is a fixed-capacity pool of *T, allocated once and reused for the engine's lifetime. It
// never grows past its initial capacity: once full, NewObject reports exhaustion via its ok
// return instead of panicking, since a too-small Hash option value is reachable from ordinary
// user input, not a programming error.
//
// Grounded on the fixed-size node arena's reset-via-partition scheme: pinned entries are kept in
// place, unpinned entries are returned to the free list, preserving the pinned subtree across a
// tree-reuse boundary without copying it.
type Arena[T Pinned] struct {
	mu sync.Mutex

	slots []T
	free  []uint32 // stack of free slot indices
	used  atomic.Uint32
}

// NewArena constructs an arena with capacity for exactly n objects, each produced by alloc.
func NewArena[T Pinned](n int, alloc func() T) *Arena[T] {
	slots := make([]T, n)
	free := make([]uint32, n)
	for i := 0; i < n; i++ {
		slots[i] = alloc()
		free[i] = uint32(n - 1 - i) // pop from the end, so index 0 is handed out first
	}
	return &Arena[T]{slots: slots, free: free}
}

// Size returns the arena's fixed capacity.
func (a *Arena[T]) Size() int {
	return len(a.slots)
}

// Used returns the number of slots currently allocated.
func (a *Arena[T]) Used() int {
	return int(a.used.Load())
}

// PercentFull returns the fraction of the arena's capacity currently in use.
func (a *Arena[T]) PercentFull() float64 {
	return float64(a.Used()) / float64(a.Size())
}

// NewObject returns a freshly allocated slot, or ok=false if the arena is exhausted -- the
// caller (the search worker) is expected to abort just the in-flight playout on a false, the
// same way PositionCache.NewEntry signals a full-and-pinned cache.
func (a *Arena[T]) NewObject() (t T, idx uint32, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.free) == 0 {
		return t, 0, false
	}

	idx = a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	a.used.Inc()
	return a.slots[idx], idx, true
}

// SlotAt returns the object occupying the given arena slot, regardless of whether it is
// currently allocated. Callers that hold a valid index (e.g. a Child.Index from a still-live
// parent) may read it without separately tracking liveness themselves.
func (a *Arena[T]) SlotAt(idx uint32) T {
	return a.slots[idx]
}

// Unlink returns a slot to the free list. The caller must not use the object afterwards.
func (a *Arena[T]) Unlink(idx uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.free = append(a.free, idx)
	a.used.Dec()
}

// Reset partitions the arena into pinned (kept as-is, part of the reused subtree) and unpinned
// (returned to the free list). Called once per move, after the search tree's new root has been
// pinned down to the reused spine.
func (a *Arena[T]) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.free = a.free[:0]
	var used uint32
	for i, slot := range a.slots {
		if !slot.IsPinned() {
			a.free = append(a.free, uint32(i))
		} else {
			used++
		}
	}
	a.used.Store(used)
}
