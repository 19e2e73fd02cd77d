package models

import (
	"errors"
	"fmt"
)

// ErrMalformedBoard is returned when a serialized board cannot be parsed.
var ErrMalformedBoard = errors.New("malformed board")

// Symbol is the marker a player places on the board.
type Symbol string

const (
	SymbolX Symbol = "X"
	SymbolO Symbol = "O"
	Empty   Symbol = ""
)

// EmptyCell is the placeholder used for unset cells in the serialized board.
const EmptyCell = '_'

// Other returns the opposing symbol.
func (s Symbol) Other() Symbol {
	switch s {
	case SymbolX:
		return SymbolO
	case SymbolO:
		return SymbolX
	}
	return Empty
}

// Valid reports whether s is X or O.
func (s Symbol) Valid() bool {
	return s == SymbolX || s == SymbolO
}

// Board represents the 3x3 game board in row-major order.
type Board [9]Symbol

// EmptyBoard is the serialized form of a board with no moves.
const EmptyBoard = "_________"

// String encodes the board as its 9-character wire form.
func (b Board) String() string {
	out := make([]byte, len(b))
	for i, cell := range b {
		switch cell {
		case SymbolX:
			out[i] = 'X'
		case SymbolO:
			out[i] = 'O'
		default:
			out[i] = EmptyCell
		}
	}
	return string(out)
}

// Filled returns the number of non-empty cells.
func (b Board) Filled() int {
	n := 0
	for _, cell := range b {
		if cell != Empty {
			n++
		}
	}
	return n
}

// MarshalText implements encoding.TextMarshaler.
func (b Board) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Board) UnmarshalText(text []byte) error {
	parsed, err := ParseBoard(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// ParseBoard decodes the 9-character wire form.
func ParseBoard(s string) (Board, error) {
	var b Board
	if len(s) != len(b) {
		return b, fmt.Errorf("%w: want %d cells, got %d", ErrMalformedBoard, len(b), len(s))
	}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case 'X':
			b[i] = SymbolX
		case 'O':
			b[i] = SymbolO
		case EmptyCell:
			b[i] = Empty
		default:
			return Board{}, fmt.Errorf("%w: unexpected %q at %d", ErrMalformedBoard, s[i], i)
		}
	}
	return b, nil
}

// Outcome describes whether a game is still running, won, or drawn.
type Outcome struct {
	Winner Symbol
	Draw   bool
}

// Wire values for outcomes.
const (
	OutcomeDraw = "draw"
)

// InProgress is the outcome of an unfinished game.
var InProgress = Outcome{}

// Won returns the outcome for a game won by s.
func Won(s Symbol) Outcome { return Outcome{Winner: s} }

// Drawn returns the outcome for a full board without a line.
func Drawn() Outcome { return Outcome{Draw: true} }

// Terminal reports whether the game is over.
func (o Outcome) Terminal() bool {
	return o.Draw || o.Winner != Empty
}

// String returns "X", "O", "draw", or "" for a running game.
func (o Outcome) String() string {
	if o.Draw {
		return OutcomeDraw
	}
	return string(o.Winner)
}

// ParseOutcome is the inverse of Outcome.String.
func ParseOutcome(s string) (Outcome, error) {
	switch s {
	case "":
		return InProgress, nil
	case OutcomeDraw:
		return Drawn(), nil
	case string(SymbolX), string(SymbolO):
		return Won(Symbol(s)), nil
	}
	return InProgress, fmt.Errorf("unknown outcome %q", s)
}

// Player is a participant bound to one symbol for the duration of a game.
type Player struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Symbol Symbol `json:"symbol"`
}

// Status is the room lifecycle state.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
)

// ScoreEntry is one row of the leaderboard projection.
type ScoreEntry struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}
