package game

import "tiktakrooms/internal/models"

// winLines defines all possible winning combinations
var winLines = [8][3]int{
	{0, 1, 2}, // top row
	{3, 4, 5}, // middle row
	{6, 7, 8}, // bottom row
	{0, 3, 6}, // left column
	{1, 4, 7}, // middle column
	{2, 5, 8}, // right column
	{0, 4, 8}, // diagonal
	{2, 4, 6}, // anti-diagonal
}

// ApplyMove returns a copy of board with symbol placed at position. It does
// not check turn order.
func ApplyMove(board models.Board, position int, symbol models.Symbol) (models.Board, error) {
	if position < 0 || position >= len(board) {
		return board, ErrOutOfRange
	}
	if board[position] != models.Empty {
		return board, ErrCellOccupied
	}
	board[position] = symbol
	return board, nil
}

// Evaluate reports whether the board is won, drawn or still in progress.
// A completed line wins even on a full board.
func Evaluate(board models.Board) models.Outcome {
	for _, line := range winLines {
		a, b, c := line[0], line[1], line[2]
		if board[a] != models.Empty && board[a] == board[b] && board[b] == board[c] {
			return models.Won(board[a])
		}
	}
	if board.Filled() == len(board) {
		return models.Drawn()
	}
	return models.InProgress
}

// turnByParity derives whose turn it is from the number of marks placed.
func turnByParity(board models.Board) models.Symbol {
	if board.Filled()%2 == 0 {
		return models.SymbolX
	}
	return models.SymbolO
}
