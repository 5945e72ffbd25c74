package search

import (
	"fmt"

	"github.com/corvidchess/corvid/pkg/board"
	"github.com/corvidchess/corvid/pkg/cache"
	"github.com/corvidchess/corvid/pkg/node"
	"github.com/corvidchess/corvid/pkg/rules"
)

// Tree owns the shared, concurrently-searched MCTS state: the node arena, the position cache,
// the transposition hash, and the current root. All mutation of node fields happens under each
// node's own lock (package node). Tree has no lock of its own: Engine calls Reset and Advance
// only under its own mutex, while no search is running.
type Tree struct {
	arena         *cache.Arena[*node.Node]
	positions     *cache.PositionCache
	transposition *cache.TranspositionHash
	rules         *rules.Rules

	root    *node.Node
	rootPos *board.Position
	turn    board.Color
}

// NewTree constructs an empty tree backed by the given bounded-size stores. nodeCapacity must
// be positive: Reset immediately allocates the root from a freshly reclaimed arena, and relies
// on that allocation always succeeding.
func NewTree(nodeCapacity, positionCapacity int, transpositionBytes int64, r *rules.Rules) (*Tree, error) {
	if nodeCapacity < 1 {
		return nil, fmt.Errorf("node capacity must be positive, got %v", nodeCapacity)
	}

	arena := cache.NewArena(nodeCapacity, func() *node.Node { return &node.Node{} })
	positions := cache.NewPositionCache(positionCapacity)
	th, err := cache.NewTranspositionHash(transpositionBytes)
	if err != nil {
		return nil, err
	}
	return &Tree{arena: arena, positions: positions, transposition: th, rules: r}, nil
}

// Reset discards the existing tree (if any) and starts a fresh root at pos/turn. Used when the
// engine is reset to a new position, on the first Analyze after a takeback, and whenever tree
// reuse does not find a matching subtree for the played move.
func (t *Tree) Reset(pos *board.Position, turn board.Color) *node.Node {
	for i := 0; i < t.arena.Size(); i++ {
		if n := t.arena.SlotAt(uint32(i)); n.IsPinned() {
			n.Unpin(t.positions)
		}
	}
	t.arena.Reset() // nothing pinned any more: reclaims everything
	root, idx, ok := t.arena.NewObject()
	if !ok {
		// Unreachable: NewTree rejects non-positive capacity, and the Reset just above reclaims
		// every slot, so the arena always has room for at least the root immediately after it.
		panic("cache: arena has no free slot immediately after a full reset")
	}
	root.Reset()
	root.Index = idx
	root.Turn = turn

	hash := t.rules.Zobrist().Hash(pos, turn)
	entry, cached := t.positions.NewEntry(hash, pos)
	if !cached {
		entry, cached = t.positions.GetMakeUnique(hash, pos)
	}
	if !cached {
		panic("cache: position cache has no free, unpinned slot immediately after a full reset")
	}
	root.Position = entry
	root.Pin(t.positions)

	t.root = root
	t.rootPos = pos
	t.turn = turn
	return root
}

// Advance reuses the root child reached by m as the new root, if it has already been embodied;
// otherwise falls back to Reset. Engine.Move calls it once per played move, so our move and the
// opponent's reply move the root two plies down. This is the tree-reuse contract: a node we
// already explored under the old root stays warm across a move.
func (t *Tree) Advance(m board.Move, pos *board.Position, turn board.Color) *node.Node {
	if t.root == nil {
		return t.Reset(pos, turn)
	}

	for _, c := range t.root.Children {
		if c.Embodied && c.Move.Equals(m) {
			child := t.nodeAt(c.Index)
			t.promote(child, pos, turn)
			return t.root
		}
	}
	return t.Reset(pos, turn)
}

func (t *Tree) promote(newRoot *node.Node, pos *board.Position, turn board.Color) {
	newRoot.Parent = nil
	for i := 0; i < t.arena.Size(); i++ {
		if n := t.arena.SlotAt(uint32(i)); n.IsPinned() {
			n.Unpin(t.positions)
		}
	}
	t.pinSubtree(newRoot)
	t.arena.Reset() // reclaims everything not reachable from newRoot
	t.root = newRoot
	t.rootPos = pos
	t.turn = turn
}

// pinSubtree marks every embodied node reachable from n as pinned, implementing the
// pin-propagation convention: pinning a node always pins its Position in the same call.
func (t *Tree) pinSubtree(n *node.Node) {
	n.Pin(t.positions)
	for _, c := range n.Children {
		if c.Embodied {
			t.pinSubtree(t.nodeAt(c.Index))
		}
	}
}

func (t *Tree) nodeAt(idx uint32) *node.Node {
	return t.arena.SlotAt(idx)
}

// Root returns the tree's current root node and the position/turn it was built from.
func (t *Tree) Root() (*node.Node, *board.Position, board.Color) {
	return t.root, t.rootPos, t.turn
}

func (t *Tree) Rules() *rules.Rules {
	return t.rules
}

func (t *Tree) Positions() *cache.PositionCache {
	return t.positions
}

func (t *Tree) Transposition() *cache.TranspositionHash {
	return t.transposition
}

func (t *Tree) Arena() *cache.Arena[*node.Node] {
	return t.arena
}
