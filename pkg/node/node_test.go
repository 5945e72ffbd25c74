package node_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/corvidchess/corvid/pkg/board"
	"github.com/corvidchess/corvid/pkg/node"
)

func TestFPUDefaultAtRoot(t *testing.T) {
	root := &node.Node{}
	assert.Equal(t, float32(-1.0), node.FPUDefault(root, 0, 0.33))
}

func TestFPUDefaultNonRoot(t *testing.T) {
	parent := &node.Node{Parent: &node.Node{}, QValue: 0.5}
	got := node.FPUDefault(parent, 4, 0.33)
	assert.InDelta(t, -0.5-0.33*2, got, 1e-5)
}

func TestCPUCTGrowsWithVisits(t *testing.T) {
	low := node.CPUCT(1, 2.1, 15000, 2.817)
	high := node.CPUCT(100000, 2.1, 15000, 2.817)
	assert.Greater(t, high, low)
}

func TestUValueDecreasesWithVisitsAndVirtualLoss(t *testing.T) {
	base := node.UValue(100, 0.2, 0, 0, 2.1, 15000, 2.817)
	visited := node.UValue(100, 0.2, 10, 0, 2.1, 15000, 2.817)
	lossy := node.UValue(100, 0.2, 0, 10, 2.1, 15000, 2.817)

	assert.Greater(t, base, visited)
	assert.Greater(t, base, lossy)
}

func TestScoreIsSumOfQAndU(t *testing.T) {
	assert.Equal(t, float32(0.9), node.Score(0.4, 0.5))
}

func TestVLDZeroWhenChallengerAlreadyBehind(t *testing.T) {
	// b's own score (qB + pB*uCoeff) is already below scoreA: no virtual loss needed.
	assert.Equal(t, uint32(0), node.VLD(1.0, -1.0, 0.1, 0.0))
}

func TestVLDPositiveWhenChallengerCouldCatchUp(t *testing.T) {
	vld := node.VLD(0.5, 0.4, 0.3, 10.0)
	assert.Greater(t, vld, uint32(0))
	assert.LessOrEqual(t, vld, uint32(node.VLDMax))
}

func TestVLDClampsToMax(t *testing.T) {
	vld := node.VLD(0.01, 0.0, 1.0, 1e6)
	assert.Equal(t, uint32(node.VLDMax), vld)
}

func TestChildVirtualLossGuardedByParentMutex(t *testing.T) {
	parent := &node.Node{
		Children: []node.Child{{Move: board.Move{}, P: 0.5}},
	}

	parent.Lock()
	parent.Children[0].VirtualLoss += 3
	parent.Unlock()

	assert.Equal(t, uint32(3), parent.Children[0].VirtualLoss)
}

func TestTryClaimIsOneShot(t *testing.T) {
	n := &node.Node{}
	assert.True(t, n.TryClaim())
	assert.False(t, n.TryClaim())
}

func TestResetClearsClaimAndVirtualLoss(t *testing.T) {
	n := &node.Node{}
	n.TryClaim()
	n.VirtualLoss = 5
	n.Reset()

	assert.Equal(t, uint32(0), n.VirtualLoss)
	assert.True(t, n.TryClaim())
}

func TestBackpropagateUpdatesRunningAverageAndDrainsVirtualLoss(t *testing.T) {
	n := &node.Node{VirtualLoss: 1}
	n.Backpropagate(1.0)
	assert.Equal(t, uint32(1), n.Visits)
	assert.Equal(t, float32(1.0), n.QValue)
	assert.Equal(t, uint32(0), n.VirtualLoss)

	n.Backpropagate(-1.0)
	assert.Equal(t, uint32(2), n.Visits)
	assert.Equal(t, float32(0.0), n.QValue)
}

func TestIsAlreadyPlayingOut(t *testing.T) {
	n := &node.Node{Parent: &node.Node{}}
	assert.False(t, n.IsAlreadyPlayingOut())

	n.VirtualLoss = 1
	assert.True(t, n.IsAlreadyPlayingOut())

	n.Visits = 1
	assert.False(t, n.IsAlreadyPlayingOut())
}
