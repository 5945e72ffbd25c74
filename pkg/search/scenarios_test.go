package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/corvidchess/corvid/pkg/board"
	"github.com/corvidchess/corvid/pkg/board/fen"
	"github.com/corvidchess/corvid/pkg/encoding"
	"github.com/corvidchess/corvid/pkg/history"
	"github.com/corvidchess/corvid/pkg/nn"
	"github.com/corvidchess/corvid/pkg/node"
	"github.com/corvidchess/corvid/pkg/rules"
)

// newScenarioTree builds a minimal tree rooted at the given FEN, backed by a fixed-seed Rules
// instance so the Zobrist hashes used by the repetition check are deterministic across runs.
func newScenarioTree(t *testing.T, startFEN string) (*Tree, *board.Position, board.Color) {
	t.Helper()

	r := rules.New(1)
	tree, err := NewTree(1<<10, 1<<10, 1<<20, r)
	assert.NoError(t, err)

	pos, turn, _, _, err := fen.Decode(startFEN)
	assert.NoError(t, err)

	tree.Reset(pos, turn)
	return tree, pos, turn
}

// findMove resolves a pure-coordinate move string against pos's pseudo-legal moves, recovering
// the Type/Piece/Capture metadata ParseMove alone cannot supply -- the same lookup Engine.Move
// performs against a player-submitted move string.
func findMove(t *testing.T, r *rules.Rules, pos *board.Position, turn board.Color, uci string) board.Move {
	t.Helper()

	want, err := board.ParseMove(uci)
	assert.NoError(t, err)

	for _, m := range r.GeneratePseudoLegal(pos, turn) {
		if m.Equals(want) {
			return m
		}
	}
	t.Fatalf("move %q not found among pseudo-legal moves for %v", uci, pos)
	return board.Move{}
}

// TestExpandDetectsMateInOne drives a single expansion of the mating move from a known
// mate-in-one position and checks that the resulting node is marked exact with value +1, from
// the perspective of the side that just delivered mate.
func TestExpandDetectsMateInOne(t *testing.T) {
	tree, pos, turn := newScenarioTree(t, "8/8/5K2/3P3k/2P5/8/6Q1/8 w - - 12 68")
	root, _, _ := tree.Root()

	m := findMove(t, tree.Rules(), pos, turn, "g2h3")
	root.Children = []node.Child{{Move: m, P: 1.0}}

	hist := history.New(tree.Rules().Zobrist())
	worker := NewWorker(tree, nil, hist, DefaultConfig, rules.NoTablebase{})

	path := []pathEntry{{n: root, turn: turn}}
	worker.expand(context.Background(), path, root, 0, pos, turn, m, 1.0)

	assert.True(t, root.Children[0].Embodied)
	mated := tree.nodeAt(root.Children[0].Index)
	assert.True(t, mated.IsExact)
	assert.Equal(t, float32(1), mated.RawQValue)
}

// TestExpandDetectsThreeFoldRepetitionWithinASimulatedLine walks a single playout's simulated
// line through the 8-move knight shuffle that returns to the starting position for the third
// time, and checks that only the final expansion -- the one completing the third occurrence --
// is marked an exact draw; every earlier one must not be.
func TestExpandDetectsThreeFoldRepetitionWithinASimulatedLine(t *testing.T) {
	tree, pos0, turn0 := newScenarioTree(t, fen.Initial)
	root, _, _ := tree.Root()

	hist := history.New(tree.Rules().Zobrist())
	b := NewBatcher(nn.NewStubNetwork(encoding.MoveSpace), tree, 1, 1)
	defer b.Close()
	worker := NewWorker(tree, b, hist, DefaultConfig, rules.NoTablebase{})

	moves := []string{"g1f3", "g8f6", "f3g1", "f6g8", "g1f3", "g8f6", "f3g1", "f6g8"}

	parent, parentPos, parentTurn := root, pos0, turn0
	var last *node.Node

	for i, uci := range moves {
		m := findMove(t, tree.Rules(), parentPos, parentTurn, uci)
		parent.Children = []node.Child{{Move: m, P: 1.0}}

		path := []pathEntry{{n: parent, turn: parentTurn}}
		worker.expand(context.Background(), path, parent, 0, parentPos, parentTurn, m, 1.0)

		child := tree.nodeAt(parent.Children[0].Index)
		if i < len(moves)-1 {
			assert.False(t, child.IsExact, "ply %d should not yet be a three-fold repetition", i+1)
		} else {
			last = child
		}

		nextPos, ok := tree.Rules().Make(parentPos, parentTurn, m)
		assert.True(t, ok)
		parent, parentPos, parentTurn = child, nextPos, parentTurn.Opponent()
	}

	assert.True(t, last.IsExact)
	assert.Equal(t, float32(0), last.RawQValue)
}
