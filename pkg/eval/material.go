// Package eval provides static position evaluation helpers used outside the NN-driven search
// itself -- currently just the material estimator the clock uses to size its time budget.
package eval

import "github.com/corvidchess/corvid/pkg/board"

// NominalValue is the classical nominal value of a piece in pawns, matching
// board.Piece.NominalValue for the pieces the material estimator counts.
func NominalValue(p board.Piece) int {
	return p.NominalValue()
}

// Material returns the total material on the board, in pawns, summed over both colors and
// counting only queens, rooks, bishops and knights -- pawns and kings are excluded, matching
// original_source/lib/game.cpp's materialScore, whose sum over both armies is what
// search.Clock's deadline estimator uses to gauge how much of the game remains.
func Material(pos *board.Position) int {
	var total int
	for sq := board.ZeroSquare; sq < board.NumSquares; sq++ {
		_, piece, ok := pos.Square(sq)
		if !ok {
			continue
		}
		switch piece {
		case board.Queen, board.Rook, board.Bishop, board.Knight:
			total += piece.NominalValue()
		}
	}
	return total
}
