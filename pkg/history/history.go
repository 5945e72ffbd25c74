// Package history tracks the sequence of positions reached in the current game, independent of
// any single search tree: it survives tree-reuse boundaries (a new Board is built each move, but
// the repetition history must not reset), and supplies the position planes the neural network
// input encoder needs.
package history

import (
	"github.com/corvidchess/corvid/pkg/board"
)

// Entry is one played position in a game's history.
type Entry struct {
	Position    *board.Position
	Turn        board.Color
	Hash        board.ZobristHash
	NoProgress  int // half-move clock at this position
	Repetitions int // count assigned when this entry was appended
}

// History is a process-wide, append-only list of played positions. It is never reset mid-game;
// callers start a fresh History only for a genuinely new game (ucinewgame).
//
// Unlike Board's own 3-fold/5-fold bookkeeping (which only needs to know whether a draw claim
// threshold is crossed), History exists to serve two different consumers: repetition-aware
// position hashing for nodes reused across the tree, and the fixed-depth position-plane window
// the NN input encoder reads (see package encoding).
type History struct {
	zt      *board.ZobristTable
	entries []Entry
}

// New constructs an empty History rooted at the given Zobrist table. The table must be the
// same instance used to hash every position ever appended, or repetition detection silently
// degrades to hash collisions.
func New(zt *board.ZobristTable) *History {
	return &History{zt: zt}
}

// AddGame appends a newly reached position, computing its repetition count by scanning
// backward through prior entries of the same side to move, stopping at the first position
// whose half-move clock is zero (a pawn move or capture, past which no repetition is possible)
// as well as once two equal positions have already been found (no further counting needed).
func (h *History) AddGame(pos *board.Position, turn board.Color, noprogress int) Entry {
	hash := h.zt.Hash(pos, turn)

	var reps int
	for i := len(h.entries) - 1; i >= 0; i-- {
		prior := h.entries[i]
		if prior.Turn == turn && prior.Hash == hash && *prior.Position == *pos {
			reps++
		}
		if reps >= 2 {
			break
		}
		if prior.NoProgress == 0 {
			break
		}
	}

	e := Entry{Position: pos, Turn: turn, Hash: hash, NoProgress: noprogress, Repetitions: reps}
	h.entries = append(h.entries, e)
	return e
}

// Len returns the number of recorded positions.
func (h *History) Len() int {
	return len(h.entries)
}

// At returns the entry n plies back from the most recent (0 = current), and false if history
// is not that deep yet.
func (h *History) At(n int) (Entry, bool) {
	i := len(h.entries) - 1 - n
	if i < 0 || i >= len(h.entries) {
		return Entry{}, false
	}
	return h.entries[i], true
}

// Last returns the most recently appended entry, if any.
func (h *History) Last() (Entry, bool) {
	return h.At(0)
}

// Planes returns the last n positions (oldest first), suitable for feeding package encoding's
// history-plane builder. Missing positions at the start of a game are left nil; the encoder is
// expected to treat a nil entry as an all-zero plane, matching how the reference NN handles
// the opening moves of a game before 8 plies of history exist.
func (h *History) Planes(n int) []*board.Position {
	ret := make([]*board.Position, n)
	for i := 0; i < n; i++ {
		if e, ok := h.At(i); ok {
			ret[n-1-i] = e.Position
		}
	}
	return ret
}

// Clear resets the history for a genuinely new game.
func (h *History) Clear() {
	h.entries = h.entries[:0]
}
