// Package encoding converts (history, position) pairs into the tensor input planes the neural
// network consumes: one plane per piece type per color per a fixed window of recent positions,
// plus a handful of scalar-broadcast planes for side to move, castling rights and move count.
package encoding

import (
	"github.com/corvidchess/corvid/pkg/board"
	"gorgonia.org/tensor"
)

const (
	// HistoryPlies is the number of past positions folded into the input, matching the
	// standard AlphaZero-style history window package history.Planes is sized for.
	HistoryPlies = 8

	// PlanesPerPosition is one plane per piece type per color.
	PlanesPerPosition = 2 * int(board.NumPieces-1) // exclude NoPiece

	// MetaPlanes covers side-to-move, the four castling rights, and no-progress count.
	MetaPlanes = 6

	// NumPlanes is the total channel depth of one encoded input tensor.
	NumPlanes = HistoryPlies*PlanesPerPosition + MetaPlanes

	boardSize = int(board.NumSquares) // 64, laid out as an 8x8 plane

	// promotionClasses enumerates no-promotion plus the four underpromotion/queen-promotion
	// pieces, used as a multiplier in MoveIndex.
	promotionClasses = 5

	// MoveSpace is the fixed size of the policy head's output vector: every (from, to,
	// promotion) combination, most of which a real game never reaches from a given from
	// square -- the search core only ever reads the indices of actually-legal moves.
	MoveSpace = boardSize * boardSize * promotionClasses
)

// Encode builds the NN input tensor for the position to move next, given its history window
// (oldest first, as returned by history.History.Planes) and game metadata.
//
// Shape is (NumPlanes, 8, 8), float32, matching gorgonia.tensor's NCHW-without-batch convention;
// package search's batcher stacks these along a new leading batch axis before a forward pass.
func Encode(positions []*board.Position, turn board.Color, castling board.Castling, noprogress int) *tensor.Dense {
	data := make([]float32, NumPlanes*boardSize)

	plane := 0
	for _, pos := range positions {
		writePositionPlanes(data, &plane, pos)
	}

	writeMetaPlanes(data, plane, turn, castling, noprogress)

	return tensor.New(tensor.WithShape(NumPlanes, 8, 8), tensor.WithBacking(data))
}

// MoveIndex returns the fixed policy-vector index for m, used both when reading NN priors back
// out for a set of candidate moves and when training data (outside this engine's scope) would
// assign targets.
func MoveIndex(m board.Move) int {
	promo := 0
	switch m.Promotion {
	case board.Knight:
		promo = 1
	case board.Bishop:
		promo = 2
	case board.Rook:
		promo = 3
	case board.Queen:
		promo = 4
	}
	return (int(m.From)*boardSize+int(m.To))*promotionClasses + promo
}

func writePositionPlanes(data []float32, plane *int, pos *board.Position) {
	for _, color := range [2]board.Color{board.White, board.Black} {
		for piece := board.Pawn; piece <= board.King; piece++ {
			base := *plane * boardSize
			if pos != nil {
				for sq := board.ZeroSquare; sq < board.NumSquares; sq++ {
					if c, p, ok := pos.Square(sq); ok && c == color && p == piece {
						data[base+int(sq)] = 1
					}
				}
			}
			*plane = *plane + 1
		}
	}
}

func writeMetaPlanes(data []float32, plane int, turn board.Color, castling board.Castling, noprogress int) {
	fill := func(idx int, v float32) {
		base := idx * boardSize
		for i := 0; i < boardSize; i++ {
			data[base+i] = v
		}
	}

	turnVal := float32(0)
	if turn == board.Black {
		turnVal = 1
	}
	fill(plane, turnVal)

	rights := [4]board.Castling{
		board.WhiteKingSideCastle, board.WhiteQueenSideCastle,
		board.BlackKingSideCastle, board.BlackQueenSideCastle,
	}
	for i, r := range rights {
		v := float32(0)
		if castling.IsAllowed(r) {
			v = 1
		}
		fill(plane+1+i, v)
	}

	fill(plane+5, float32(noprogress)/100.0)
}
