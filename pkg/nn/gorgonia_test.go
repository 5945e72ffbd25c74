package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWeightsDotProduct(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 5, 6}
	assert.Equal(t, float32(32), weightsDotProduct(a, b))
}

// TestWeightsDotProductMatchesTrunkColumn checks weightsDotProduct -- the same low-level kernel
// the gorgonia trunk matmul uses internally for each output unit -- against a manually unrolled
// sum over one column of SetWeights' own flat trunk layout, so a drift in either implementation would
// show up as a mismatch here rather than only inside a full graph evaluation.
func TestWeightsDotProductMatchesTrunkColumn(t *testing.T) {
	const inputWidth, hidden = 6, 3

	trunk := make([]float32, inputWidth*hidden)
	for i := range trunk {
		trunk[i] = float32(i) - 2.5
	}
	x := []float32{1, -1, 2, 0, 3, -2}

	for col := 0; col < hidden; col++ {
		column := make([]float32, inputWidth)
		var want float32
		for row := 0; row < inputWidth; row++ {
			column[row] = trunk[row*hidden+col]
			want += x[row] * column[row]
		}
		assert.InDelta(t, want, weightsDotProduct(x, column), 1e-5)
	}
}
