package game

import "errors"

// Rule violations. They are reported to the caller only and leave the room
// unchanged.
var (
	ErrOutOfRange         = errors.New("position out of range")
	ErrCellOccupied       = errors.New("position already taken")
	ErrNotYourTurn        = errors.New("not your turn")
	ErrGameAlreadyOver    = errors.New("game is over")
	ErrUnknownPlayer      = errors.New("player is not in this game")
	ErrWaitingForOpponent = errors.New("waiting for an opponent to join")
	ErrRoomFull           = errors.New("room is full")
	ErrRoomNotFound       = errors.New("room not found")
)

// Validation failures for onboarding input.
var (
	ErrInvalidName = errors.New("name must be 1 to 20 characters")
	ErrInvalidCode = errors.New("invalid game code")
)

// errRetired is returned by a room that was evicted while a caller still
// held it. Directory helpers resolve the room again and retry.
var errRetired = errors.New("room retired")

// IsRuleViolation reports whether err is a game-logic error the caller can
// recover from by trying something else.
func IsRuleViolation(err error) bool {
	for _, target := range []error{
		ErrOutOfRange, ErrCellOccupied, ErrNotYourTurn, ErrGameAlreadyOver,
		ErrUnknownPlayer, ErrWaitingForOpponent, ErrRoomFull, ErrRoomNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
