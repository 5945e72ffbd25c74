package nn

import (
	"context"

	"gorgonia.org/tensor"
)

// StubNetwork is a deterministic Computation backend for tests: its value output is the mean of
// the input planes, clamped to [-1, 1], and its policy output is uniform. It never touches
// gorgonia, so search and engine tests can run without trained weights or GPU-shaped batching
// concerns, while still exercising the exact Computation contract real search code depends on.
type StubNetwork struct {
	MoveSpace int
}

func NewStubNetwork(moveSpace int) *StubNetwork {
	return &StubNetwork{MoveSpace: moveSpace}
}

func (s *StubNetwork) NewComputation() Computation {
	return &stubComputation{moveSpace: s.MoveSpace}
}

type stubComputation struct {
	moveSpace int
	inputs    []*tensor.Dense
}

func (c *stubComputation) Add(planes *tensor.Dense) int {
	c.inputs = append(c.inputs, planes)
	return len(c.inputs) - 1
}

func (c *stubComputation) Evaluate(ctx context.Context) error {
	return nil // values/policies are computed lazily in Q/P below
}

func (c *stubComputation) Q(i int) float32 {
	if i < 0 || i >= len(c.inputs) {
		return 0
	}
	data, ok := c.inputs[i].Data().([]float32)
	if !ok || len(data) == 0 {
		return 0
	}

	var sum float32
	for _, v := range data {
		sum += v
	}
	// Bounded to [-1, 1] regardless of input magnitude, matching a real value head's range.
	n := float32(len(data))
	avg := sum / n
	if avg > 1 {
		return 1
	}
	if avg < -1 {
		return -1
	}
	return avg
}

func (c *stubComputation) P(i int, moveIndex int) float32 {
	if i < 0 || i >= len(c.inputs) || c.moveSpace <= 0 {
		return 0
	}
	return 1.0 / float32(c.moveSpace)
}
