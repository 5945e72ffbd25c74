package search

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seekerror/logw"
	"github.com/seekerror/stdlib/pkg/lang"
	distrand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/corvidchess/corvid/pkg/board"
	"github.com/corvidchess/corvid/pkg/board/fen"
	"github.com/corvidchess/corvid/pkg/encoding"
	"github.com/corvidchess/corvid/pkg/eval"
	"github.com/corvidchess/corvid/pkg/history"
	"github.com/corvidchess/corvid/pkg/nn"
	"github.com/corvidchess/corvid/pkg/node"
	"github.com/corvidchess/corvid/pkg/options"
	"github.com/corvidchess/corvid/pkg/rules"
)

// Options are per-search options, as carried by a "go" command.
type Options struct {
	Infinite    bool
	MoveTime    time.Duration
	TimeControl lang.Optional[TimeControl]
	NodesLimit  lang.Optional[uint64]
	// DepthLimit caps how many plies of the most-visited line reportPV walks down. MCTS has no
	// fixed search depth the way alpha-beta does -- playouts keep exploring regardless -- so
	// this only truncates how much of the explored tree a PV report surfaces, matching the
	// "go depth N" UCI command's spirit without limiting the search itself.
	DepthLimit  lang.Optional[uint32]
	SearchMoves []board.Move
	Ponder      bool
}

func (o Options) String() string {
	switch {
	case o.Infinite:
		return "[infinite]"
	case o.MoveTime > 0:
		return fmt.Sprintf("[movetime=%v]", o.MoveTime)
	default:
		return fmt.Sprintf("[tc=%v, nodes=%v, ponder=%v]", o.TimeControl, o.NodesLimit, o.Ponder)
	}
}

// PV is one progress report: the current best line and its supporting statistics, emitted
// periodically while a search runs and once more, final, when it halts.
type PV struct {
	Nodes uint64
	Depth int
	Score float32 // Q of the root's best child, from the side-to-move's perspective
	Moves []board.Move
	Time  time.Duration
	Hash  float64 // transposition hash occupancy, percent
}

func (p PV) String() string {
	return fmt.Sprintf("{nodes=%v, depth=%v, score=%.3f, pv=%v, time=%v, hash=%.1f%%}", p.Nodes, p.Depth, p.Score, p.Moves, p.Time, p.Hash)
}

// Engine orchestrates one game's worth of search: it owns the game position, the reusable MCTS
// tree, the NN batcher and its worker pool, and the clock. Grounded on the teacher's
// engine.Engine (functional-options constructor, Reset/Move/TakeBack/Analyze/Halt surface,
// haltSearchIfActive fencing) generalized from its alpha-beta root to an MCTS worker pool, and on
// searchctl.Iterative's async-closer idiom for the worker lifecycle goroutine.
type Engine struct {
	name, author string

	network nn.Network
	tb      rules.Tablebase
	r       *rules.Rules
	hist    *history.History
	reg     *options.Registry

	mu         sync.Mutex
	b          *board.Board
	tree       *Tree
	batcher    *Batcher
	treeStale  bool
	searchID   uint64
	active     *searchHandle
}

// Option is an engine construction option.
type Option func(*Engine)

// WithNetwork configures the NN backend. Defaults to a deterministic stub, useful for testing
// the search/tree machinery without real weights.
func WithNetwork(network nn.Network) Option {
	return func(e *Engine) { e.network = network }
}

// WithTablebase configures endgame tablebase probing. Defaults to rules.NoTablebase.
func WithTablebase(tb rules.Tablebase) Option {
	return func(e *Engine) { e.tb = tb }
}

// WithRegistry configures the options registry backing this engine's tunables. Defaults to a
// fresh registry at schema defaults.
func WithRegistry(reg *options.Registry) Option {
	return func(e *Engine) { e.reg = reg }
}

// New constructs an engine at the standard starting position.
func New(ctx context.Context, name, author string, opts ...Option) *Engine {
	e := &Engine{
		name:    name,
		author:  author,
		network: nn.NewStubNetwork(encoding.MoveSpace),
		tb:      rules.NoTablebase{},
		reg:     options.New(),
	}
	for _, fn := range opts {
		fn(e)
	}
	e.r = rules.New(0)
	e.hist = history.New(e.r.Zobrist())

	if err := e.reset(ctx, fen.Initial); err != nil {
		logw.Fatalf(ctx, "invalid initial position: %v", err)
	}

	logw.Infof(ctx, "Initialized engine: %v", e.Name())
	return e
}

func (e *Engine) Name() string {
	return fmt.Sprintf("%v 0.1", e.name)
}

func (e *Engine) Author() string {
	return e.author
}

// Options returns the live options registry, for the protocol front-end's setoption handling.
func (e *Engine) Options() *options.Registry {
	return e.reg
}

// Reset resets the engine to the given FEN position, rebuilding the search tree and the NN
// batcher at the registry's current Hash/Cache/GPUCores/MaxBatchSize values.
func (e *Engine) Reset(ctx context.Context, position string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.reset(ctx, position)
}

func (e *Engine) reset(ctx context.Context, position string) error {
	e.haltActiveLocked(ctx)

	pos, turn, noprogress, fullmoves, err := fen.Decode(position)
	if err != nil {
		return err
	}

	snap := e.reg.Snapshot()
	nodeCapacity := snap.Int(options.Hash) * 4096 // nodes per configured MiB, a generous estimate
	if nodeCapacity <= 0 {
		nodeCapacity = 1 << 20
	}
	positionCapacity := snap.Int(options.Cache)
	if positionCapacity <= 0 {
		positionCapacity = 1 << 16
	}
	transpositionBytes := int64(snap.Int(options.Hash)) << 20
	if transpositionBytes <= 0 {
		transpositionBytes = 256 << 20
	}

	tree, err := NewTree(nodeCapacity, positionCapacity, transpositionBytes, e.r)
	if err != nil {
		return fmt.Errorf("failed to allocate search tree: %w", err)
	}
	tree.Reset(pos, turn)

	gpuCores := snap.Int(options.GPUCores)
	if gpuCores <= 0 {
		gpuCores = 1
	}
	maxBatch := snap.Int(options.MaxBatchSize)
	if maxBatch <= 0 {
		maxBatch = 1
	}
	if e.batcher != nil {
		e.batcher.Close()
	}

	e.b = board.NewBoard(e.r.Zobrist(), pos, turn, noprogress, fullmoves)
	e.tree = tree
	e.batcher = NewBatcher(e.network, tree, gpuCores, maxBatch)
	e.treeStale = false
	e.hist.Clear()
	e.hist.AddGame(pos, turn, noprogress)

	logw.Infof(ctx, "Reset %v", e.b)
	return nil
}

// Move plays a move, usually the opponent's, advancing both the game board and -- when possible
// -- the search tree, preserving whatever subtree was already explored under it.
func (e *Engine) Move(ctx context.Context, move string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.haltActiveLocked(ctx)

	m, err := board.ParseMove(move)
	if err != nil {
		return fmt.Errorf("invalid move: %w", err)
	}

	found := false
	for _, candidate := range e.r.GeneratePseudoLegal(e.b.Position(), e.b.Turn()) {
		if candidate.Equals(m) {
			m = candidate
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid move: %v", m)
	}
	if !e.b.PushMove(m) {
		return fmt.Errorf("illegal move: %v", m)
	}

	if e.treeStale {
		// A takeback already invalidated the tree this game; Advance has no meaningful subtree
		// to reuse until the next Reset/Analyze rebuilds it from scratch.
		logw.Infof(ctx, "Move %v: %v (tree stale, no reuse)", m, e.b)
		return nil
	}
	e.tree.Advance(m, e.b.Position(), e.b.Turn())
	e.hist.AddGame(e.b.Position(), e.b.Turn(), e.b.NoProgress())

	logw.Infof(ctx, "Move %v: %v", m, e.b)
	return nil
}

// TakeBack undoes the latest move. The search tree cannot be un-advanced, so it is marked stale
// and rebuilt from scratch on the next Analyze.
func (e *Engine) TakeBack(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.haltActiveLocked(ctx)

	m, ok := e.b.PopMove()
	if !ok {
		return fmt.Errorf("no move to take back")
	}
	e.treeStale = true

	logw.Infof(ctx, "Takeback %v", m)
	return nil
}

// Analyze starts a search from the current position, reporting PVs on the returned channel
// (buffered to one report; a new report is dropped while the previous one is still unread) until
// the search halts, at which point the channel is closed.
func (e *Engine) Analyze(ctx context.Context, opt Options) (<-chan PV, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != nil {
		return nil, fmt.Errorf("search already active")
	}

	if e.treeStale {
		e.tree.Reset(e.b.Position(), e.b.Turn())
		e.treeStale = false
	}

	id := atomic.AddUint64(&e.searchID, 1)
	out := make(chan PV, 1)
	hctx, cancel := context.WithCancel(ctx)
	h := &searchHandle{id: id, cancel: cancel, done: make(chan struct{})}
	e.active = h

	cfg := configFromSnapshot(e.reg.Snapshot())

	go e.run(hctx, h, cfg, opt, out)
	return out, nil
}

// Halt stops the active search, if any, and returns the final PV it reported.
func (e *Engine) Halt(ctx context.Context) (PV, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil {
		return PV{}, fmt.Errorf("no active search")
	}
	return e.haltActiveLocked(ctx), nil
}

func (e *Engine) haltActiveLocked(ctx context.Context) PV {
	if e.active == nil {
		return PV{}
	}
	h := e.active
	h.cancel()
	<-h.done

	e.active = nil
	logw.Infof(ctx, "Search halted: %v", h.last())
	return h.last()
}

// searchHandle fences one Analyze call's worker pool. Each Analyze takes a fresh id from
// Engine.searchID when it starts; stopping a search cancels the handle's context and waits on
// done for its run goroutine to finish. No caller compares report ids against searchID.
type searchHandle struct {
	id     uint64
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	lastPV  PV
}

func (h *searchHandle) setLast(pv PV) {
	h.mu.Lock()
	h.lastPV = pv
	h.mu.Unlock()
}

func (h *searchHandle) last() PV {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastPV
}

func configFromSnapshot(s options.Snapshot) Config {
	return Config{
		CpuctInit:     float32(s.Float(options.CpuctInit)),
		CpuctBase:     float32(s.Float(options.CpuctBase)),
		CpuctF:        float32(s.Float(options.CpuctF)),
		FpuReduction:  float32(s.Float(options.FpuReduction)),
		MaxClaimTries: DefaultConfig.MaxClaimTries,
		Seed:          int64(s.Int(options.RandomSeed)),
	}
}

// run is the body of one Analyze call: score the root synchronously, scale up worker goroutines
// lazily once the first batch saturates, report progress on an interval, and halt on ctx
// cancellation or the clock's deadline, whichever comes first.
func (e *Engine) run(ctx context.Context, h *searchHandle, cfg Config, opt Options, out chan PV) {
	defer close(out)
	defer close(h.done)

	root, rootPos, rootTurn := e.tree.Root()
	if err := e.scoreRoot(ctx, root, rootPos, rootTurn, cfg); err != nil {
		logw.Errorf(ctx, "root scoring failed: %v", err)
		return
	}

	material := eval.Material(rootPos)
	deadline, hasDeadline := NewDeadline(opt.Infinite, opt.MoveTime, opt.TimeControl, rootTurn,
		material, defaultMoveOverhead, defaultExtraBudget, defaultOpeningTimeFactor)

	halted := make(chan struct{})
	var haltOnce sync.Once
	halt := func() { haltOnce.Do(func() { close(halted) }) }

	var clock *Clock
	inconclusive := func() (time.Duration, bool) {
		tc, hasTC := opt.TimeControl.V()
		if !hasTC {
			return 0, false
		}
		if !e.bestQAndMostVisitedDiffer(root) {
			return 0, false
		}

		total := tc.White
		if rootTurn == board.Black {
			total = tc.Black
		}
		extra := total - defaultMoveOverhead - clock.Elapsed()
		if extra <= 0 {
			return 0, false
		}
		return extra, true
	}
	clock = NewClock(ctx, deadline, hasDeadline, halt, inconclusive)
	defer clock.Stop()

	depthLimit, hasDepthLimit := opt.DepthLimit.V()

	root.Lock()
	singleLegalMove := len(root.Children) == 1
	root.Unlock()
	if singleLegalMove {
		// Nothing to decide: searching longer cannot change a forced move.
		halt()
	}

	worker := NewWorker(e.tree, e.batcher, e.hist, cfg, e.tb)

	var workerWG sync.WaitGroup
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	spawn := func() {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			worker.Run(workerCtx)
		}()
	}
	spawn() // always at least one worker

	scaledUp := false
	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			stopWorkers()
			workerWG.Wait()
			pv := e.reportPV(root, depthLimit, hasDepthLimit, clock.Elapsed())
			h.setLast(pv)
			select {
			case out <- pv:
			default:
			}
			return

		case <-halted:
			stopWorkers()
			workerWG.Wait()
			pv := e.reportPV(root, depthLimit, hasDepthLimit, clock.Elapsed())
			h.setLast(pv)
			select {
			case out <- pv:
			default:
			}
			return

		case <-ticker.C:
			e.batcher.Flush(ctx)
			if !scaledUp && root.VirtualLoss+root.Visits >= uint32(e.maxBatchSize()) {
				spawn()
				scaledUp = true
			}

			pv := e.reportPV(root, depthLimit, hasDepthLimit, clock.Elapsed())
			h.setLast(pv)
			select {
			case out <- pv:
			default:
			}
			if limit, ok := opt.NodesLimit.V(); ok && uint64(root.Visits) >= limit {
				halt()
			}
			if e.hasInsurmountableVisitLead(root, clock) {
				halt()
			}
		}
	}
}

// hasInsurmountableVisitLead reports whether the root's best child already holds more visits
// over the runner-up than the remaining search time could possibly add to the runner-up, even
// if every future playout visited nothing else -- at which point further search cannot change
// which move is reported, so the search can stop early.
func (e *Engine) hasInsurmountableVisitLead(root *node.Node, clock *Clock) bool {
	remaining, ok := clock.Remaining()
	if !ok || remaining <= 0 {
		return false
	}

	elapsed := clock.Elapsed()
	if elapsed <= 0 {
		return false
	}

	best, runnerUp, ok := e.rootVisitLead(root)
	if !ok {
		return false
	}

	rate := float64(root.Visits) / elapsed.Seconds()
	projected := rate * remaining.Seconds()
	return float64(best-runnerUp) > projected
}

// bestQAndMostVisitedDiffer reports whether the root's highest-Q embodied child is a different
// move than its most-visited embodied child -- the "inconclusive result" condition that earns
// the search clock one extension past its soft deadline.
func (e *Engine) bestQAndMostVisitedDiffer(root *node.Node) bool {
	root.Lock()
	children := root.Children
	root.Unlock()

	mostVisitedIdx, bestQIdx := -1, -1
	var mostVisits uint32
	var bestQ float32

	for i, c := range children {
		if !c.Embodied {
			continue
		}
		child := e.tree.nodeAt(c.Index)
		child.Lock()
		v := child.Visits
		q := child.QValue
		has := child.HasQValue()
		child.Unlock()

		if mostVisitedIdx == -1 || v > mostVisits {
			mostVisitedIdx, mostVisits = i, v
		}
		if has && (bestQIdx == -1 || q > bestQ) {
			bestQIdx, bestQ = i, q
		}
	}
	if mostVisitedIdx == -1 || bestQIdx == -1 {
		return false
	}
	return mostVisitedIdx != bestQIdx
}

// rootVisitLead returns the visit counts of the root's most- and second-most-visited embodied
// children.
func (e *Engine) rootVisitLead(root *node.Node) (best, runnerUp uint32, ok bool) {
	root.Lock()
	children := root.Children
	root.Unlock()

	for _, c := range children {
		if !c.Embodied {
			continue
		}
		v := e.tree.nodeAt(c.Index).Visits
		if v > best {
			runnerUp = best
			best = v
		} else if v > runnerUp {
			runnerUp = v
		}
	}
	return best, runnerUp, best > 0
}

const (
	reportInterval           = 200 * time.Millisecond
	defaultMoveOverhead      = 300 * time.Millisecond
	defaultExtraBudget       = 0.0
	defaultOpeningTimeFactor = 2.15
)

func (e *Engine) maxBatchSize() int {
	return e.batcher.maxBatch
}

// scoreRoot ensures the root node has NN-scored children before any playout descends through
// it, matching the "root+children scored synchronously before playouts start" contract.
func (e *Engine) scoreRoot(ctx context.Context, root *node.Node, pos *board.Position, turn board.Color, cfg Config) error {
	root.Lock()
	alreadyScored := len(root.Children) > 0
	root.Unlock()
	if alreadyScored {
		return nil
	}

	legal := e.r.LegalMoves(pos, turn)
	if len(legal) == 0 {
		result := rules.Adjudicate(pos, turn)
		root.Lock()
		root.IsExact = true
		root.RawQValue = signedValue(result, turn.Opponent())
		root.QValue = root.RawQValue
		root.Unlock()
		return nil
	}

	window := e.hist.Planes(encoding.HistoryPlies)
	planes := encoding.Encode(window, turn, pos.Castling(), e.b.NoProgress())

	req := &leafRequest{leaf: root, planes: planes, moves: legal, done: make(chan struct{})}
	e.batcher.dispatch(ctx, []*leafRequest{req})
	select {
	case <-req.done:
	case <-ctx.Done():
	}

	e.addRootExplorationNoise(root, cfg.Seed)
	return nil
}

// Root exploration noise: the standard AlphaZero-style supplement to a from-scratch PUCT search,
// mixed into the root's priors only (never a descendant's), so self-play-free analysis still
// explores moves a purely-greedy policy would starve. Grounded on Elvenson-alphabeth/mcts/tree.go's
// distmv.NewDirichlet call site for both the library choice and the alpha/epsilon shape.
const (
	rootNoiseAlpha   = 0.3
	rootNoiseEpsilon = 0.25
)

func (e *Engine) addRootExplorationNoise(root *node.Node, seed int64) {
	root.Lock()
	defer root.Unlock()

	n := len(root.Children)
	if n == 0 {
		return
	}

	alpha := make([]float64, n)
	for i := range alpha {
		alpha[i] = rootNoiseAlpha
	}

	// seed==0 (the RandomSeed option's default) falls back to process entropy, matching ordinary
	// play; a nonzero seed makes this draw, and so the resulting root priors, reproducible.
	src := uint64(time.Now().UnixNano())
	if seed != 0 {
		src = uint64(seed)
	}
	dist := distmv.NewDirichlet(alpha, distrand.NewSource(src))
	noise := dist.Rand(nil)

	for i := range root.Children {
		p := root.Children[i].P
		root.Children[i].P = float32((1-rootNoiseEpsilon)*float64(p) + rootNoiseEpsilon*noise[i])
	}
}

// reportPV reads out the current best line from root: at each step, the embodied child with the
// most visits, followed down as far as the tree has been explored (or depthLimit plies, if set).
func (e *Engine) reportPV(root *node.Node, depthLimit uint32, hasDepthLimit bool, elapsed time.Duration) PV {
	var moves []board.Move
	var score float32
	cur := root
	for !hasDepthLimit || uint32(len(moves)) < depthLimit {
		cur.Lock()
		children := cur.Children
		cur.Unlock()

		bestIdx := -1
		var bestVisits uint32
		for i, c := range children {
			if !c.Embodied {
				continue
			}
			child := e.tree.nodeAt(c.Index)
			child.Lock()
			v := child.Visits
			child.Unlock()
			if bestIdx == -1 || v > bestVisits {
				bestIdx, bestVisits = i, v
			}
		}
		if bestIdx == -1 {
			break
		}
		if len(moves) == 0 {
			best := e.tree.nodeAt(children[bestIdx].Index)
			best.Lock()
			score = best.QValue
			best.Unlock()
		}
		moves = append(moves, children[bestIdx].Move)
		cur = e.tree.nodeAt(children[bestIdx].Index)
	}

	root.Lock()
	visits := root.Visits
	root.Unlock()

	return PV{
		Nodes: uint64(visits),
		Depth: len(moves),
		Score: score,
		Moves: moves,
		Time:  elapsed,
		Hash:  e.tree.Transposition().PercentFull(),
	}
}
