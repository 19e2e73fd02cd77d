package game

import "tiktakrooms/internal/models"

// ScorePolicy decides how many points each player earns when a game ends.
// Draw scoring is a product decision; it defaults to nothing.
type ScorePolicy struct {
	WinPoints  int
	DrawPoints int
	LossPoints int
}

// DefaultScorePolicy awards one point per win.
func DefaultScorePolicy() ScorePolicy {
	return ScorePolicy{WinPoints: 1}
}

// Deltas returns the non-zero score changes keyed by display name.
func (p ScorePolicy) Deltas(players []models.Player, outcome models.Outcome) map[string]int {
	out := make(map[string]int, len(players))
	if !outcome.Terminal() {
		return out
	}
	for _, pl := range players {
		var delta int
		switch {
		case outcome.Draw:
			delta = p.DrawPoints
		case pl.Symbol == outcome.Winner:
			delta = p.WinPoints
		default:
			delta = p.LossPoints
		}
		if delta != 0 {
			out[pl.Name] += delta
		}
	}
	for name, delta := range out {
		if delta == 0 {
			delete(out, name)
		}
	}
	return out
}
