package cache

import (
	"github.com/dgraph-io/ristretto/v2"

	"github.com/corvidchess/corvid/pkg/board"
)

// Eval is a cached NN evaluation: the value estimate and prior probability vector over the
// position's legal moves, in the order of the legal move list (rules.LegalMoves) the evaluation
// was made for.
type Eval struct {
	Q      float32
	Priors []float32
}

// cost of one Eval entry in ristretto's cost units -- proportional to the size of the prior
// vector, since that dominates the struct's memory footprint.
func (e Eval) cost() int64 {
	return int64(8 + 4*len(e.Priors))
}

// TranspositionHash is the larger, lossy, best-effort cache of (Zobrist hash -> Eval), distinct
// from PositionCache: entries here may vanish under memory pressure even while pinned, because
// nothing downstream depends on a transposition hit for correctness, only for avoiding a
// redundant NN evaluation. Backed by ristretto's cost-aware TinyLFU admission policy, the
// corpus's own choice (via hailam-chessplay's dependency stack) for exactly this "bounded size,
// keep the hottest" cache shape.
type TranspositionHash struct {
	c       *ristretto.Cache[board.ZobristHash, Eval]
	maxCost int64
}

// NewTranspositionHash constructs a hash with roughly maxCost bytes of capacity.
func NewTranspositionHash(maxCost int64) (*TranspositionHash, error) {
	c, err := ristretto.NewCache(&ristretto.Config[board.ZobristHash, Eval]{
		NumCounters: maxCost / 8,
		MaxCost:     maxCost,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &TranspositionHash{c: c, maxCost: maxCost}, nil
}

// PercentFull estimates the hash's occupancy from ristretto's own cost accounting, for the
// protocol front-end's "info hashfull" report.
func (t *TranspositionHash) PercentFull() float64 {
	if t.maxCost <= 0 {
		return 0
	}
	m := t.c.Metrics
	if m == nil {
		return 0
	}
	used := float64(m.CostAdded()) - float64(m.CostEvicted())
	if used < 0 {
		used = 0
	}
	pct := 100 * used / float64(t.maxCost)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Get returns the cached evaluation for hash, if present.
func (t *TranspositionHash) Get(hash board.ZobristHash) (Eval, bool) {
	return t.c.Get(hash)
}

// Set inserts or replaces the evaluation for hash. Ristretto's admission policy may reject the
// write under memory pressure; that is an accepted, silent cache miss, not an error.
func (t *TranspositionHash) Set(hash board.ZobristHash, eval Eval) {
	t.c.Set(hash, eval, eval.cost())
}

// Close releases the cache's background goroutines. Call once, at engine shutdown.
func (t *TranspositionHash) Close() {
	t.c.Close()
}
