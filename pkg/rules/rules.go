// Package rules wraps package board with the rule-level operations the search core consumes:
// pseudo-legal generation, legality filtering, terminal adjudication, Zobrist hashing and
// endgame tablebase probing. It is the concrete stand-in for what a distilled design would
// otherwise leave as an external collaborator.
package rules

import (
	"github.com/corvidchess/corvid/pkg/board"
)

// Hash is a position fingerprint, opaque outside this package and its callers.
type Hash = board.ZobristHash

// Outcome mirrors board.Outcome so callers of this package never need to import board directly
// for the common case.
type Outcome = board.Outcome

const (
	Undecided = board.Undecided
	WhiteWins = board.WhiteWins
	BlackWins = board.BlackWins
	Draw      = board.Draw
)

// Result is the adjudicated game result for a position: decided or not, and why.
type Result = board.Result

// Move is a pseudo-legal or legal chess move.
type Move = board.Move

// Rules bundles the Zobrist table needed to hash positions; it has no other state, and is
// safe for concurrent use by any number of search workers.
type Rules struct {
	zt *board.ZobristTable
}

// New constructs a Rules instance from a fixed seed, so that repeated runs of the same process
// produce the same hash table (needed for deterministic transposition-hash tests).
func New(seed int64) *Rules {
	return &Rules{zt: board.NewZobristTable(seed)}
}

// Zobrist returns the Zobrist table backing this Rules instance, for callers (history, board
// construction) that need to hash positions themselves.
func (r *Rules) Zobrist() *board.ZobristTable {
	return r.zt
}

// GeneratePseudoLegal returns every pseudo-legal move for the side to move in pos. Pseudo-legal
// moves may leave the mover's own king in check; filter with IsLegal or Make before trusting one.
func (r *Rules) GeneratePseudoLegal(pos *board.Position, turn board.Color) []Move {
	return pos.PseudoLegalMoves(turn)
}

// Make applies a pseudo-legal move, returning the resulting position and whether the move was
// actually legal (did not leave the mover's own king in check).
func (r *Rules) Make(pos *board.Position, turn board.Color, m Move) (*board.Position, bool) {
	return pos.Move(turn, m)
}

// LegalMoves filters GeneratePseudoLegal down to the moves that do not leave the mover's own
// king in check. Search workers needing the resulting positions too should call Make directly
// per candidate instead, to avoid generating a position twice.
func (r *Rules) LegalMoves(pos *board.Position, turn board.Color) []Move {
	pseudo := r.GeneratePseudoLegal(pos, turn)
	legal := make([]Move, 0, len(pseudo))
	for _, m := range pseudo {
		if _, ok := r.Make(pos, turn, m); ok {
			legal = append(legal, m)
		}
	}
	return legal
}

// Adjudicate determines whether pos is an exact terminal position given that turn has no
// further moves available (checkmate or stalemate), matching the Expansion contract's
// three-fold/fifty-move/dead-position step: callers are expected to have already checked
// repetition and the no-progress counter on the enclosing Board before calling this.
func Adjudicate(pos *board.Position, turn board.Color) Result {
	if pos.IsChecked(turn) {
		return Result{Outcome: board.Loss(turn), Reason: board.Checkmate}
	}
	return Result{Outcome: Draw, Reason: board.Stalemate}
}

// IsDead reports whether pos is a dead position: neither side retains enough material to
// deliver checkmate by any sequence of legal moves, regardless of cooperation.
func IsDead(pos *board.Position) bool {
	return pos.HasInsufficientMaterial()
}

// TablebaseResult is the outcome of a tablebase probe.
type TablebaseResult struct {
	Result Result
	Found  bool
}

// Tablebase probes a position against a Syzygy-format endgame tablebase set, when configured.
type Tablebase interface {
	// Probe returns the exact result for pos if it is within the tablebase's piece-count limit
	// and the tablebase files are loaded, or Found=false otherwise.
	Probe(pos *board.Position, turn board.Color) TablebaseResult
}

// NoTablebase is a Tablebase that never has an answer. engine.New always wires it in, and
// options.SyzygyPath is not read. It stands in for Syzygy probing: no ecosystem Go library for
// Syzygy-format tablebases was present anywhere in the retrieved corpus, so this package exposes
// the Probe seam the expansion step calls without fabricating a dependency to back it.
type NoTablebase struct{}

func (NoTablebase) Probe(pos *board.Position, turn board.Color) TablebaseResult {
	return TablebaseResult{Found: false}
}
