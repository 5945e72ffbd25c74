// Package nn defines the neural network inference boundary the search core evaluates leaves
// against, plus two concrete backends: a gorgonia-graph network for real play, and a
// deterministic stub network for tests that must not depend on trained weights.
//
// Sign convention: Computation.Q always returns the value from the side-to-move's perspective
// at the position that was Add-ed, matching nnSignConvention below. Package search's batcher
// write-back step is the only place this sign is flipped (raw_q = -q_nn) before storing into a
// node one ply up the tree; nowhere else in this package or its callers re-derives the sign
// from call order.
package nn

import (
	"context"

	"gorgonia.org/tensor"
)

// nnSignConvention is the single named constant documenting the flip direction applied by the
// search batcher's write-back step; see the package doc comment.
const nnSignConvention = -1

// Network produces fresh Computations, each scoped to one search batch.
type Network interface {
	NewComputation() Computation
}

// Computation accumulates a batch of input planes, runs one blocking forward pass, and exposes
// the per-item value and per-move prior outputs. Mirrors the distilled design's named
// collaborator shape (new_computation/add/evaluate/q/p) exactly so the search batcher's call
// sites read the same regardless of backend.
type Computation interface {
	// Add appends one encoded input to the batch and returns its index for later Q/P calls.
	Add(planes *tensor.Dense) int

	// Evaluate runs the batched forward pass. Blocking; safe to call exactly once per
	// Computation, after all Adds.
	Evaluate(ctx context.Context) error

	// Q returns the value head output for the i'th added input, in [-1, 1].
	Q(i int) float32

	// P returns the policy head probability for the move at moveIndex, for the i'th added
	// input. moveIndex is the encoder's fixed move-space index, not a position-relative one.
	P(i int, moveIndex int) float32
}
