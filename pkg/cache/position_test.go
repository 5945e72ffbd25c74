package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/corvidchess/corvid/pkg/board"
)

// TestPositionCacheNeverEvictsPinnedEntries fills a cache of N slots, pins K of them, then
// allocates N-K+1 fresh entries -- one more than the number of unpinned slots available. Every
// pinned original must survive; every unpinned original must be reclaimed; and the final
// allocation, having no unpinned original left to take, must evict the least-recently-used
// unpinned slot among the batch it is itself part of.
func TestPositionCacheNeverEvictsPinnedEntries(t *testing.T) {
	const n, k = 10, 4
	c := NewPositionCache(n)

	originals := make([]*PositionEntry, 0, n)
	for i := 0; i < n; i++ {
		e, ok := c.NewEntry(board.ZobristHash(i+1), nil)
		assert.True(t, ok, "initial fill entry %d", i)
		originals = append(originals, e)
	}
	for i := 0; i < k; i++ {
		c.Pin(originals[i])
	}

	for i := 0; i < n-k+1; i++ {
		_, ok := c.NewEntry(board.ZobristHash(1000+i), nil)
		assert.True(t, ok, "allocation %d should reclaim some unpinned slot", i)
	}

	for i := 0; i < k; i++ {
		assert.True(t, c.Contains(board.ZobristHash(i+1)), "pinned original %d must survive", i+1)
	}
	for i := k; i < n; i++ {
		assert.False(t, c.Contains(board.ZobristHash(i+1)), "unpinned original %d should have been evicted", i+1)
	}

	// By the (n-k+1)th allocation, every unpinned original is already gone, so it must fall back
	// to the oldest entry of this very batch -- the least-recently-used slot among the unpinned set.
	assert.False(t, c.Contains(board.ZobristHash(1000)), "oldest of the new batch should be evicted")
	for i := 1; i < n-k+1; i++ {
		assert.True(t, c.Contains(board.ZobristHash(1000+i)), "newer batch entry %d should survive", i)
	}

	assert.Equal(t, n, c.Used())
}

// TestPositionCacheFullyPinnedRejectsNewEntry confirms NewEntry fails rather than evicting a
// pinned position out from under a live node once every slot is pinned.
func TestPositionCacheFullyPinnedRejectsNewEntry(t *testing.T) {
	c := NewPositionCache(2)

	e1, ok := c.NewEntry(board.ZobristHash(1), nil)
	assert.True(t, ok)
	e2, ok := c.NewEntry(board.ZobristHash(2), nil)
	assert.True(t, ok)
	c.Pin(e1)
	c.Pin(e2)

	_, ok = c.NewEntry(board.ZobristHash(3), nil)
	assert.False(t, ok)
}

// TestPositionCacheGetMakeUniqueRekeysCollidingEntry exercises the hash-collision path: a second,
// physically distinct position arriving at an already-occupied key must be resolvable by
// re-keying the existing entry off its address rather than either overwriting or rejecting it.
func TestPositionCacheGetMakeUniqueRekeysCollidingEntry(t *testing.T) {
	c := NewPositionCache(4)

	hash := board.ZobristHash(42)
	posA, err := board.NewPosition([]board.Placement{
		{Square: board.E1, Color: board.White, Piece: board.King},
		{Square: board.E8, Color: board.Black, Piece: board.King},
	}, 0, board.ZeroSquare)
	assert.NoError(t, err)
	posB, err := board.NewPosition([]board.Placement{
		{Square: board.D1, Color: board.White, Piece: board.King},
		{Square: board.E8, Color: board.Black, Piece: board.King},
	}, 0, board.ZeroSquare)
	assert.NoError(t, err)

	first, ok := c.NewEntry(hash, posA)
	assert.True(t, ok)

	// Same hash, a different physical position: NewEntry alone cannot resolve this.
	_, ok = c.NewEntry(hash, posB)
	assert.False(t, ok)

	second, ok := c.GetMakeUnique(hash, posB)
	assert.True(t, ok)
	assert.NotEqual(t, first, second)
	assert.Same(t, posB, second.Position)

	// The original entry is still reachable, just re-keyed off its own address.
	assert.True(t, c.Contains(first.Key))
	assert.NotEqual(t, hash, first.Key)
	assert.Same(t, posA, first.Position)

	// The plain hash now addresses the new entry.
	got, ok := c.Get(hash)
	assert.True(t, ok)
	assert.Same(t, posB, got.Position)
}
