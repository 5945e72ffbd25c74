// Package node defines the search tree's vertex and edge types: Node (an embodied tree vertex)
// and Child (a tagged union of a not-yet-materialized move+prior, or an owning reference to an
// embodied Node), along with the PUCT/FPU/virtual-loss-distance arithmetic used to select among
// them. Kept free of any dependency on package search, so it can be unit tested in isolation.
package node

import (
	"sync"

	"github.com/chewxy/math32"
	"go.uber.org/atomic"

	"github.com/corvidchess/corvid/pkg/board"
	"github.com/corvidchess/corvid/pkg/cache"
)

// VLDMax bounds the virtual loss a single claim-and-descend loser can add in one step.
const VLDMax = 1 << 10

// Child is either a potential child (a legal move with an NN-supplied prior, not yet
// materialized into a Node) or an embodied child (owns a live Node via its arena index).
type Child struct {
	Move board.Move
	P    float32 // prior probability, from the parent's NN policy output

	Embodied bool
	Index    uint32 // valid iff Embodied

	// VirtualLoss tracks virtual loss applied to a potential (not yet embodied) child, per the
	// claim-and-descend VLD backoff: a worker that loses the claim race on this child adds
	// enough virtual loss here to make the runner-up alternative dominate selection until this
	// child's expansion completes. Meaningless once Embodied (the embodied Node carries its own
	// VirtualLoss instead), guarded by the owning parent Node's mutex like the rest of Children.
	VirtualLoss uint32
}

// Node is one vertex of the search tree. Mutable fields are guarded by Lock/Unlock: one mutex
// per node, matching the teacher's one-mutex-per-structure convention generalized down to node
// granularity, since MCTS workers contend on individual nodes rather than whole structures.
type Node struct {
	mu sync.Mutex

	Parent *Node // back reference, not owning
	Index  uint32

	Children []Child

	Visits      uint32
	VirtualLoss uint32

	QValue    float32 // running average back-propagated result
	RawQValue float32 // NN or terminal value for this node
	PValue    float32 // prior inherited from the parent's NN output

	Turn board.Color // side to move at this node

	// NoProgress is the half-move (fifty-move-rule) clock at this node: 0 if the move that
	// produced it was a capture or pawn move, else the parent's NoProgress+1. It both triggers
	// the fifty-move draw directly (>=100) and bounds how far back a repetition search needs to
	// walk, since no repetition can span an irreversible move.
	NoProgress uint16

	IsExact bool // terminal: checkmate/stalemate/draw/TB
	IsTB    bool

	Position *cache.PositionEntry

	scoringOrScored atomic.Bool
	pinned          atomic.Bool
}

// Lock acquires the node's mutex. Selection, expansion, and back-propagation all hold it for
// the short critical section that reads or mutates this node's fields.
func (n *Node) Lock() { n.mu.Lock() }

// Unlock releases the node's mutex.
func (n *Node) Unlock() { n.mu.Unlock() }

// IsPinned implements cache.Pinned, for Arena.Reset's partition step.
func (n *Node) IsPinned() bool {
	return n.pinned.Load()
}

// Pin marks the node (and, by the pin-propagation convention, its Position) as part of the
// retained tree spine across a tree-reuse boundary.
func (n *Node) Pin(positions *cache.PositionCache) {
	n.pinned.Store(true)
	if n.Position != nil {
		positions.Pin(n.Position)
	}
}

// Unpin releases the node's (and its Position's) pin.
func (n *Node) Unpin(positions *cache.PositionCache) {
	n.pinned.Store(false)
	if n.Position != nil {
		positions.Unpin(n.Position)
	}
}

// Reset clears a node back to its zero-allocated state, for reuse from the arena's free list.
func (n *Node) Reset() {
	n.Parent = nil
	n.Index = 0
	n.Children = n.Children[:0]
	n.Visits = 0
	n.VirtualLoss = 0
	n.QValue = 0
	n.RawQValue = 0
	n.PValue = 0
	n.Turn = 0
	n.NoProgress = 0
	n.IsExact = false
	n.IsTB = false
	n.Position = nil
	n.scoringOrScored.Store(false)
	n.pinned.Store(false)
}

// IsRoot reports whether this node has no parent.
func (n *Node) IsRoot() bool {
	return n.Parent == nil
}

// HasQValue reports whether this node has ever been visited or back-propagated into, and is
// always true for the root.
func (n *Node) HasQValue() bool {
	return n.Visits > 0 || n.IsRoot()
}

// IsExtendable reports whether the node has any child (embodied or potential) it could descend
// into. A node with zero children (e.g. a terminal position) is not extendable.
func (n *Node) IsExtendable() bool {
	return len(n.Children) > 0
}

// IsAlreadyPlayingOut reports whether another worker currently has virtual loss outstanding on
// this node without having backpropagated a result yet.
func (n *Node) IsAlreadyPlayingOut() bool {
	return n.VirtualLoss > 0 && !n.HasQValue()
}

// TryClaim attempts the claim-and-descend test-and-set: at most one worker may claim a node for
// evaluation. Returns true iff this call won the claim.
func (n *Node) TryClaim() bool {
	return n.scoringOrScored.CAS(false, true)
}

// QValueOf returns the effective Q value for a child used during selection: its own running
// average if it has one, otherwise the first-play-urgency default derived from the parent.
func QValueOf(parent *Node, child *Node, childP float32, policySumOfVisited float32, fpuReduction float32) float32 {
	if child != nil && child.HasQValue() {
		return child.QValue
	}
	return FPUDefault(parent, policySumOfVisited, fpuReduction)
}

// FPUDefault computes the first-play-urgency default Q for an unvisited child (embodied or
// potential): -Q(parent) - fpuReduction * sqrt(sum of priors already visited). At the root it
// returns -1.
func FPUDefault(parent *Node, policySumOfVisited float32, fpuReduction float32) float32 {
	if parent.IsRoot() {
		return -1.0
	}
	return -parent.QValue - fpuReduction*math32.Sqrt(policySumOfVisited)
}

// CPUCT computes the exploration coefficient for a parent with N visits, per:
//
//	cpuct(N) = cpuctInit + cpuctF * log((1 + N + cpuctBase) / cpuctBase)
func CPUCT(n uint32, cpuctInit, cpuctBase, cpuctF float32) float32 {
	visited := n
	if visited < 1 {
		visited = 1
	}
	growth := cpuctF * math32.Log((1+float32(visited)+cpuctBase)/cpuctBase)
	return cpuctInit + growth
}

// UValue computes the exploration bonus U(c) for a child with prior p and n = visits +
// virtualLoss, given the parent's visit count:
//
//	U(c) = cpuct(N_parent) * P(c) * sqrt(N_parent) / (1 + n(c))
func UValue(parentVisits uint32, p float32, childVisits, childVirtualLoss uint32, cpuctInit, cpuctBase, cpuctF float32) float32 {
	N := parentVisits
	if N < 1 {
		N = 1
	}
	coeff := CPUCT(N, cpuctInit, cpuctBase, cpuctF)
	n := float32(childVisits + childVirtualLoss)
	return coeff * p * math32.Sqrt(float32(N)) / (1 + n)
}

// Score computes the PUCT selection score Q(c) + U(c) for a candidate child.
func Score(q, u float32) float32 {
	return q + u
}

// VLD computes the virtual loss distance: how much virtual loss child b (the selected best child,
// whose claim a worker just lost) must take before its selection score falls to score_a, the
// runner-up's score, per:
//
//	vld = ceil( (Q_b + P_b*uCoeff(parent) - score_a) / (score_a - Q_b) )
//
// clamped to [0, VLDMax]. uCoeffParent is cpuct(N_parent) * sqrt(N_parent), the parent-level
// constant factor of U(c) with the per-child 1/(1+n) term left out (VLD solves for n).
func VLD(scoreA, qB, pB, uCoeffParent float32) uint32 {
	denom := scoreA - qB
	if denom <= 0 {
		return 0
	}

	v := (qB + pB*uCoeffParent - scoreA) / denom
	if v <= 0 {
		return 0
	}

	vld := uint32(math32.Ceil(v))
	if vld > VLDMax {
		return VLDMax
	}
	return vld
}

// Backpropagate folds a leaf evaluation v into this node's running average, counts the visit and
// releases one unit of virtual loss. It updates only this node: Worker.backpropagate walks the
// selection path and flips the sign of v at each level. Exact (terminal) nodes are folded the
// same way, with v equal to their exact value.
func (n *Node) Backpropagate(v float32) {
	n.Lock()
	q := n.QValue
	visits := n.Visits
	n.QValue = (float32(visits)*q + v) / float32(visits+1)
	n.Visits++
	if n.VirtualLoss > 0 {
		n.VirtualLoss--
	}
	n.Unlock()
}
