package search

import (
	"context"
	"sync"

	"github.com/chewxy/math32"
	"github.com/hashicorp/go-multierror"
	"github.com/seekerror/logw"

	"github.com/corvidchess/corvid/pkg/board"
	"github.com/corvidchess/corvid/pkg/cache"
	"github.com/corvidchess/corvid/pkg/encoding"
	"github.com/corvidchess/corvid/pkg/nn"
	"github.com/corvidchess/corvid/pkg/node"
	"gorgonia.org/tensor"
)

// policySoftmaxTemp sharpens (>1) or flattens (<1) the NN's raw policy output before it is
// stored as child priors. 1.0 leaves the network's own distribution untouched.
const policySoftmaxTemp = 1.0

// leafRequest is one pending NN evaluation: a freshly expanded node awaiting its value and
// priors, plus the candidate moves whose prior probabilities the caller needs read back.
type leafRequest struct {
	leaf      *node.Node
	planes    *tensor.Dense
	moves     []board.Move
	done      chan struct{}
}

// Batcher accumulates expanded leaves into batches, dispatches each batch to a pooled NN
// handle, and writes results back into the tree under each node's own lock. Grounded on §4.4:
// FIFO handle acquire/release via mutex+condvar, write-back of batch k concurrent with build of
// batch k+1 via a small task pool sized to GPUCores.
type Batcher struct {
	network   nn.Network
	tree      *Tree
	maxBatch  int
	gpuCores  int

	mu      sync.Mutex
	cond    *sync.Cond
	free    int // free NN handles
	pending []*leafRequest

	writeback chan func()
	wg        sync.WaitGroup

	closed bool
}

// NewBatcher constructs a batcher with gpuCores NN worker handles and a batch ceiling of
// maxBatch leaves.
func NewBatcher(network nn.Network, tree *Tree, gpuCores, maxBatch int) *Batcher {
	b := &Batcher{
		network:   network,
		tree:      tree,
		maxBatch:  maxBatch,
		gpuCores:  gpuCores,
		free:      gpuCores,
		writeback: make(chan func(), maxBatch),
	}
	b.cond = sync.NewCond(&b.mu)

	for i := 0; i < gpuCores; i++ {
		b.wg.Add(1)
		go b.writebackWorker()
	}
	return b
}

func (b *Batcher) writebackWorker() {
	defer b.wg.Done()
	for fn := range b.writeback {
		fn()
	}
}

// Enqueue adds a freshly expanded leaf to the pending batch. Blocks the calling worker
// goroutine until this leaf's result (value + priors) has been written back -- other workers'
// playouts proceed independently while this one waits.
func (b *Batcher) Enqueue(ctx context.Context, leaf *node.Node, planes *tensor.Dense, moves []board.Move) {
	req := &leafRequest{leaf: leaf, planes: planes, moves: moves, done: make(chan struct{})}

	b.mu.Lock()
	b.pending = append(b.pending, req)
	full := len(b.pending) >= b.maxBatch
	var batch []*leafRequest
	if full {
		batch = b.pending
		b.pending = nil
	}
	b.mu.Unlock()

	if full {
		b.dispatch(ctx, batch)
	}

	select {
	case <-req.done:
	case <-ctx.Done():
	}
}

// Flush dispatches whatever is currently pending, even if short of maxBatch. Called by the
// engine on every report tick so a lightly loaded search does not stall waiting for a full
// batch.
func (b *Batcher) Flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	b.dispatch(ctx, batch)
}

// dispatch acquires a free NN handle (blocking FIFO if none is free), runs the batch forward
// pass, and hands write-back off to the task pool so the next batch can start building while
// this one's results are still being folded into the tree.
func (b *Batcher) dispatch(ctx context.Context, batch []*leafRequest) {
	b.acquire()

	comp := b.network.NewComputation()
	indices := make([]int, len(batch))
	for i, req := range batch {
		indices[i] = comp.Add(req.planes)
	}

	var errs error
	if err := comp.Evaluate(ctx); err != nil {
		errs = multierror.Append(errs, err)
	}
	b.release()

	if errs != nil {
		logw.Errorf(ctx, "nn batch evaluation failed, discarding %v leaves: %v", len(batch), errs)
		for _, req := range batch {
			close(req.done)
		}
		return
	}

	b.writeback <- func() {
		b.writebackBatch(batch, indices, comp)
	}
}

func (b *Batcher) writebackBatch(batch []*leafRequest, indices []int, comp nn.Computation) {
	for i, req := range batch {
		b.writebackOne(req, indices[i], comp)
		close(req.done)
	}
}

// writebackOne applies the NN sign-flip convention (raw_q = -q_nn), normalizes priors over the
// candidate moves, inserts the result into the transposition hash, and triggers the minimax
// overlay check on the leaf's parent chain.
func (b *Batcher) writebackOne(req *leafRequest, i int, comp nn.Computation) {
	leaf := req.leaf

	qNN := comp.Q(i)
	priors := make([]float32, len(req.moves))
	var sum float32
	for j, m := range req.moves {
		p := math32.Pow(comp.P(i, encoding.MoveIndex(m)), policySoftmaxTemp)
		priors[j] = p
		sum += p
	}
	if sum <= 0 {
		sum = 1
	}

	leaf.Lock()
	leaf.RawQValue = -qNN
	leaf.QValue = leaf.RawQValue
	leaf.Children = make([]node.Child, len(req.moves))
	for j, m := range req.moves {
		leaf.Children[j] = node.Child{Move: m, P: priors[j] / sum}
	}
	leaf.Unlock()

	if leaf.Position != nil {
		b.tree.Transposition().Set(leaf.Position.Hash, cache.Eval{Q: qNN, Priors: priors})
	}

	b.applyMinimaxOverlay(leaf)
}

func (b *Batcher) acquire() {
	b.mu.Lock()
	for b.free == 0 {
		b.cond.Wait()
	}
	b.free--
	b.mu.Unlock()
}

func (b *Batcher) release() {
	b.mu.Lock()
	b.free++
	b.cond.Signal()
	b.mu.Unlock()
}

// Close waits for every in-flight write-back task to finish, satisfying the invariant that no
// write-back is pending once a halted search reports "search-stopped".
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.writeback)
	b.wg.Wait()
}

// applyMinimaxOverlay walks up from n, marking a node exact (and its value the minimax-combined
// value of its children) whenever all of its children are now exact themselves. Stops at the
// first ancestor that is not yet fully resolved.
func (b *Batcher) applyMinimaxOverlay(n *node.Node) {
	cur := n
	for cur != nil {
		if !b.allChildrenExact(cur) {
			return
		}

		v := b.minimaxValue(cur)
		cur.Lock()
		cur.IsExact = true
		cur.RawQValue = v
		cur.QValue = v
		cur.Unlock()

		cur = cur.Parent
	}
}

func (b *Batcher) allChildrenExact(n *node.Node) bool {
	n.Lock()
	children := n.Children
	n.Unlock()

	if len(children) == 0 {
		return n.IsExact
	}
	for _, c := range children {
		if !c.Embodied {
			return false
		}
		child := b.tree.nodeAt(c.Index)
		child.Lock()
		exact := child.IsExact
		child.Unlock()
		if !exact {
			return false
		}
	}
	return true
}

// minimaxValue combines all-exact children into the parent's exact value. Each child's value is
// from the perspective of the side that moved into it, which is the side to move at n; that side
// takes its best child, and n's own value, from the perspective of the side that moved into n, is
// the negation of that maximum.
func (b *Batcher) minimaxValue(n *node.Node) float32 {
	n.Lock()
	children := n.Children
	n.Unlock()

	best := float32(-2)
	for _, c := range children {
		child := b.tree.nodeAt(c.Index)
		child.Lock()
		v := child.RawQValue
		child.Unlock()

		if v > best {
			best = v
		}
	}
	return -best
}
