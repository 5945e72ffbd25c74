package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/corvidchess/corvid/pkg/board"
)

// TestTranspositionHashRoundTripIsBitExact evaluates a position once, inserts it, and reads it
// back for a second node sharing the same Zobrist key: the read-back value and every prior must
// match the written ones exactly, since a transposition hit is meant to stand in for a real NN
// evaluation without any loss of precision.
func TestTranspositionHashRoundTripIsBitExact(t *testing.T) {
	th, err := NewTranspositionHash(1 << 20)
	assert.NoError(t, err)
	defer th.Close()

	hash := board.ZobristHash(0xC0FFEE)
	want := Eval{Q: 0.1234567, Priors: []float32{0.05, 0.15, 0.3, 0.5}}

	th.Set(hash, want)
	th.c.Wait() // ristretto admits writes asynchronously; make the insert visible before Get.

	got, hit := th.Get(hash)
	assert.True(t, hit)
	assert.Equal(t, want.Q, got.Q)
	assert.Equal(t, want.Priors, got.Priors)
	for i := range want.Priors {
		assert.Equal(t, want.Priors[i], got.Priors[i], "prior %d must be index-equal", i)
	}
}

func TestTranspositionHashMissReportsNotFound(t *testing.T) {
	th, err := NewTranspositionHash(1 << 20)
	assert.NoError(t, err)
	defer th.Close()

	_, hit := th.Get(board.ZobristHash(1))
	assert.False(t, hit)
}
