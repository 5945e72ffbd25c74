package search

import (
	"context"

	"github.com/chewxy/math32"

	"github.com/corvidchess/corvid/pkg/board"
	"github.com/corvidchess/corvid/pkg/encoding"
	"github.com/corvidchess/corvid/pkg/history"
	"github.com/corvidchess/corvid/pkg/node"
	"github.com/corvidchess/corvid/pkg/rules"
)

// Config holds the PUCT/FPU tunables read once from the options snapshot at search start.
type Config struct {
	CpuctInit, CpuctBase, CpuctF, FpuReduction float32
	MaxClaimTries                              int
	// Seed sets the root exploration noise's Dirichlet draw deterministically when nonzero; 0
	// falls back to process entropy, matching the RandomSeed option's "0 means auto" contract.
	Seed int64
}

// DefaultConfig matches the option defaults in package options.
var DefaultConfig = Config{
	CpuctInit:     2.1,
	CpuctBase:     15000,
	CpuctF:        2.817,
	FpuReduction:  0.33,
	MaxClaimTries: 4,
}

// Worker runs the select -> expand -> evaluate -> back-propagate playout loop against a shared
// Tree, forever, until its context is cancelled. Any number of Workers may run concurrently
// against the same Tree: per-node locking and the claim-and-descend protocol make this safe.
//
// Grounded on original_source/lib/node.h's selection/expansion arithmetic (reproduced in
// package node) and on Elvenson-alphabeth/mcts/search.go's pipeline() recursion shape for the
// Go control flow of one playout.
type Worker struct {
	tree    *Tree
	batcher *Batcher
	history *history.History
	cfg     Config
	tb      rules.Tablebase
}

// NewWorker constructs a playout worker against the given tree and batcher.
func NewWorker(tree *Tree, batcher *Batcher, h *history.History, cfg Config, tb rules.Tablebase) *Worker {
	if tb == nil {
		tb = rules.NoTablebase{}
	}
	return &Worker{tree: tree, batcher: batcher, history: h, cfg: cfg, tb: tb}
}

// Run executes playouts in a loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.playout(ctx)
	}
}

// pathEntry is one step of a selection path: the node and the side to move at it.
type pathEntry struct {
	n    *node.Node
	turn board.Color
}

// playout runs one selection -> expansion -> evaluation -> back-propagation cycle.
func (w *Worker) playout(ctx context.Context) {
	root, rootPos, rootTurn := w.tree.Root()
	if root == nil {
		return
	}

	tries := w.cfg.MaxClaimTries
	for tries > 0 {
		path := []pathEntry{{n: root, turn: rootTurn}}
		pos := rootPos
		cur := root
		turn := rootTurn

		for {
			cur.Lock()
			if cur.IsExact || len(cur.Children) == 0 {
				v := cur.RawQValue
				cur.Unlock()
				w.backpropagate(path, v)
				return
			}

			idx, secondBest, bestQ := w.selectChild(cur)
			child := cur.Children[idx]
			cur.VirtualLoss++
			cur.Unlock()

			if child.Embodied {
				next := w.tree.nodeAt(child.Index)
				nextPos, _ := w.tree.rules.Make(pos, turn, child.Move)
				path = append(path, pathEntry{n: next, turn: turn.Opponent()})
				cur, pos, turn = next, nextPos, turn.Opponent()
				continue
			}

			if !cur.TryClaim() {
				// Another worker is already embodying this child; back it off by vld-1 virtual
				// loss so the runner-up alternative dominates selection instead of every losing
				// worker retrying the same child, then restart the whole playout from root.
				cur.Lock()
				N := cur.Visits
				if N < 1 {
					N = 1
				}
				uCoeffParent := node.CPUCT(N, w.cfg.CpuctInit, w.cfg.CpuctBase, w.cfg.CpuctF) * math32.Sqrt(float32(N))
				vld := node.VLD(secondBest, bestQ, child.P, uCoeffParent)
				if vld > 0 {
					cur.Children[idx].VirtualLoss += vld - 1
				}
				cur.Unlock()

				tries--
				break
			}

			w.expand(ctx, path, cur, idx, pos, turn, child.Move, child.P)
			return
		}
	}
}

// selectChild picks the highest-scoring child of n by PUCT: Q(c) + U(c), using the
// first-play-urgency default for any child without its own Q yet. Also returns the runner-up's
// score and the winner's own Q, which the claim-and-descend VLD backoff needs on a lost race.
func (w *Worker) selectChild(n *node.Node) (best int, secondBestScore float32, bestQ float32) {
	best = -1
	var bestScore float32 = -1e9
	secondBestScore = -1e9

	var policySumOfVisited float32
	for _, c := range n.Children {
		if c.Embodied {
			child := w.tree.nodeAt(c.Index)
			if child.HasQValue() {
				policySumOfVisited += c.P
			}
		}
	}

	for i, c := range n.Children {
		var q float32
		var childVisits, childVirtualLoss uint32

		if c.Embodied {
			child := w.tree.nodeAt(c.Index)
			childVisits = child.Visits
			childVirtualLoss = child.VirtualLoss
			q = node.QValueOf(n, child, c.P, policySumOfVisited, w.cfg.FpuReduction)
		} else {
			childVirtualLoss = c.VirtualLoss
			q = node.FPUDefault(n, policySumOfVisited, w.cfg.FpuReduction)
		}

		u := node.UValue(n.Visits, c.P, childVisits, childVirtualLoss, w.cfg.CpuctInit, w.cfg.CpuctBase, w.cfg.CpuctF)
		score := node.Score(q, u)
		if score > bestScore {
			secondBestScore = bestScore
			bestScore, bestQ = score, q
			best = i
		} else if score > secondBestScore {
			secondBestScore = score
		}
	}
	return best, secondBestScore, bestQ
}

// expand materializes the potential child at parent.Children[idx] into an embodied Node: it
// applies the move, runs the fifty-move/dead-position/repetition check before ever touching the
// tablebase or the NN, consults the transposition hash for an already-scored leaf, and otherwise
// enqueues the new node for NN evaluation (blocking this worker goroutine, not others).
func (w *Worker) expand(ctx context.Context, path []pathEntry, parent *node.Node, idx int, parentPos *board.Position, parentTurn board.Color, m board.Move, p float32) {
	n, arenaIdx, ok := w.tree.arena.NewObject()
	if !ok {
		// Node arena exhausted: abort just this playout, leaving the tree as it was.
		w.abortPlayout(path)
		return
	}
	n.Reset()
	n.Index = arenaIdx
	n.Parent = parent
	n.PValue = p

	childTurn := parentTurn.Opponent()
	n.Turn = childTurn

	parent.Lock()
	parent.Children[idx].Embodied = true
	parent.Children[idx].Index = arenaIdx
	parentNoProgress := parent.NoProgress
	parent.Unlock()

	path = append(path, pathEntry{n: n, turn: childTurn})

	childPos, madeOK := w.tree.rules.Make(parentPos, parentTurn, m)
	if !madeOK {
		// The pseudo-legal generator should never hand us an illegal move here (Make already
		// filtered when the move list was built), but treat it defensively as a dead end.
		n.IsExact = true
		n.RawQValue = 0
		w.backpropagate(path, 0)
		return
	}

	if resetsNoProgress(m.Type) {
		n.NoProgress = 0
	} else {
		n.NoProgress = parentNoProgress + 1
	}

	hash := w.tree.rules.Zobrist().Hash(childPos, childTurn)

	// Expansion step 1: fifty-move rule, insufficient material, or a third repetition of this
	// exact position each make the node an outright draw, with no need for a tablebase probe,
	// legal move generation, or an NN evaluation at all.
	if n.NoProgress >= 100 || rules.IsDead(childPos) || w.isThreeFold(n, childPos, hash, childTurn) {
		n.IsExact = true
		n.RawQValue = 0
		w.backpropagate(path, 0)
		return
	}

	if tbr := w.tb.Probe(childPos, childTurn); tbr.Found {
		n.IsExact = true
		n.RawQValue = signedValue(tbr.Result, childTurn.Opponent())
		w.backpropagate(path, n.RawQValue)
		return
	}

	legal := w.tree.rules.LegalMoves(childPos, childTurn)
	if len(legal) == 0 {
		result := rules.Adjudicate(childPos, childTurn)
		n.IsExact = true
		n.RawQValue = signedValue(result, childTurn.Opponent())
		w.backpropagate(path, n.RawQValue)
		return
	}

	entry, inserted := w.tree.positions.NewEntry(hash, childPos)
	if !inserted {
		entry, inserted = w.tree.positions.GetMakeUnique(hash, childPos)
	}
	if !inserted {
		// Position cache full and every entry pinned: give back the arena slot and abort just
		// this playout, leaving the tree as it was.
		w.tree.arena.Unlink(arenaIdx)
		parent.Lock()
		parent.Children[idx].Embodied = false
		parent.Unlock()
		w.abortPlayout(path[:len(path)-1])
		return
	}
	n.Position = entry

	if tr, hit := w.tree.transposition.Get(hash); hit {
		// Transposition hit: reuse the cached value and priors instead of re-running the NN.
		n.Lock()
		n.RawQValue = -tr.Q
		n.QValue = n.RawQValue
		n.Children = childrenFromPriors(legal, tr.Priors)
		n.Unlock()
		w.backpropagate(path, n.RawQValue)
		return
	}

	window := w.history.Planes(encoding.HistoryPlies - 1)
	window = append(window, childPos)
	planes := encoding.Encode(window, childTurn, childPos.Castling(), 0)

	w.batcher.Enqueue(ctx, n, planes, legal)

	n.Lock()
	v := n.RawQValue
	n.Unlock()
	w.backpropagate(path, v)
}

// resetsNoProgress reports whether a move of type t resets the fifty-move-rule counter: any
// capture, promotion, en passant, or pawn push/jump is irreversible, while a quiet non-pawn move
// or castle is not.
func resetsNoProgress(t board.MoveType) bool {
	switch t {
	case board.Push, board.Jump, board.Capture, board.Promotion, board.CapturePromotion, board.EnPassant:
		return true
	default:
		return false
	}
}

// isThreeFold reports whether n's position (hash/pos, with turn to move) has already occurred
// twice before along this playout's simulated line or the game history that precedes the tree's
// root, making this occurrence the third. Walks the tree spine through n's ancestors first (the
// moves simulated within this search), then continues into the pre-root game history, stopping
// at the first position whose own NoProgress is zero -- no repetition can span an irreversible
// move.
//
// Grounded on original_source/lib/node.cpp's Node::repetitions()/isThreeFold(), which performs
// the identical backward scan over the engine's own move history.
func (w *Worker) isThreeFold(n *node.Node, pos *board.Position, hash board.ZobristHash, turn board.Color) bool {
	var reps int

	for cur := n.Parent; cur != nil; {
		cur.Lock()
		sameTurn := cur.Turn == turn
		var samePosition bool
		if cur.Position != nil {
			samePosition = cur.Position.Hash == hash && cur.Position.Position.Equals(pos)
		}
		noProgress := cur.NoProgress
		parent := cur.Parent
		cur.Unlock()

		if sameTurn && samePosition {
			reps++
			if reps >= 2 {
				return true
			}
		}
		if noProgress == 0 {
			return false
		}
		cur = parent
	}

	for i := 0; ; i++ {
		e, ok := w.history.At(i)
		if !ok {
			return false
		}
		if e.Turn == turn && e.Hash == hash && e.Position.Equals(pos) {
			reps++
			if reps >= 2 {
				return true
			}
		}
		if e.NoProgress == 0 {
			return false
		}
	}
}

// childrenFromPriors rebuilds a freshly embodied node's potential children from a transposition
// hash hit, renormalizing the cached raw priors over the legal move list exactly as
// Batcher.writebackOne does for a fresh NN evaluation.
func childrenFromPriors(legal []board.Move, priors []float32) []node.Child {
	var sum float32
	for _, pr := range priors {
		sum += pr
	}
	if sum <= 0 {
		sum = 1
	}

	children := make([]node.Child, len(legal))
	for i, mv := range legal {
		var pr float32
		if i < len(priors) {
			pr = priors[i]
		}
		children[i] = node.Child{Move: mv, P: pr / sum}
	}
	return children
}

// abortPlayout undoes the virtual loss this playout added along its selection path without
// touching Visits or QValue, used when expansion cannot complete (arena or position cache
// exhaustion) so the tree is left exactly as it was before this playout started.
func (w *Worker) abortPlayout(path []pathEntry) {
	for _, pe := range path {
		pe.n.Lock()
		if pe.n.VirtualLoss > 0 {
			pe.n.VirtualLoss--
		}
		pe.n.Unlock()
	}
}

func signedValue(r rules.Result, turn board.Color) float32 {
	switch r.Outcome {
	case rules.Draw, rules.Undecided:
		return 0
	case rules.WhiteWins:
		if turn == board.White {
			return 1
		}
		return -1
	case rules.BlackWins:
		if turn == board.Black {
			return 1
		}
		return -1
	default:
		return 0
	}
}

// backpropagate folds the leaf value v up the selection path, sign-flipping at each level since
// Q is always expressed from the mover-at-that-node's perspective.
func (w *Worker) backpropagate(path []pathEntry, v float32) {
	value := v
	for i := len(path) - 1; i >= 0; i-- {
		path[i].n.Backpropagate(value)
		value = -value
	}
}
