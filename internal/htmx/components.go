package htmx

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"tiktakrooms/internal/game"
	"tiktakrooms/internal/models"

	"github.com/a-h/templ"
)

// writeAll writes the parts in order and stops at the first error.
func writeAll(w io.Writer, parts ...string) error {
	for _, p := range parts {
		if _, err := io.WriteString(w, p); err != nil {
			return err
		}
	}
	return nil
}

// Board renders the game grid and status line for a room.
func Board(view game.GameView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := writeAll(w,
			`<div class="game" id="game-`, templ.EscapeString(view.GameCode), `" data-status="`, templ.EscapeString(string(view.Status)), `">`,
			`<div class="board">`,
		); err != nil {
			return err
		}
		for i, c := range view.State {
			cell := ""
			if c != '_' {
				cell = string(c)
			}
			if err := writeAll(w,
				`<div class="cell" data-position="`, strconv.Itoa(i), `">`, templ.EscapeString(cell), `</div>`,
			); err != nil {
				return err
			}
		}
		if err := writeAll(w, `</div>`); err != nil {
			return err
		}
		if err := Players(view.Users).Render(ctx, w); err != nil {
			return err
		}
		return writeAll(w, `<p class="status">`, templ.EscapeString(statusLine(view)), `</p></div>`)
	})
}

func statusLine(view game.GameView) string {
	switch {
	case view.Winner != nil && *view.Winner == models.OutcomeDraw:
		return "Draw"
	case view.Winner != nil:
		return fmt.Sprintf("%s wins", *view.Winner)
	case view.Status == models.StatusWaiting:
		return "Waiting for an opponent"
	default:
		return fmt.Sprintf("%s to move", view.CurrentPlayer)
	}
}

// Players lists the seated players.
func Players(players []models.Player) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if err := writeAll(w, `<ul class="players">`); err != nil {
			return err
		}
		for _, p := range players {
			if err := writeAll(w,
				`<li><span class="symbol">`, templ.EscapeString(string(p.Symbol)), `</span> `,
				templ.EscapeString(p.Name), `</li>`,
			); err != nil {
				return err
			}
		}
		return writeAll(w, `</ul>`)
	})
}

// Leaderboard renders the top scores as a table.
func Leaderboard(entries []models.ScoreEntry) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if len(entries) == 0 {
			return writeAll(w, `<p class="leaderboard empty">No games played yet</p>`)
		}
		if err := writeAll(w, `<table class="leaderboard"><thead><tr><th>#</th><th>Player</th><th>Score</th></tr></thead><tbody>`); err != nil {
			return err
		}
		for i, e := range entries {
			if err := writeAll(w,
				`<tr><td>`, strconv.Itoa(i+1), `</td><td>`, templ.EscapeString(e.Name),
				`</td><td>`, strconv.Itoa(e.Score), `</td></tr>`,
			); err != nil {
				return err
			}
		}
		return writeAll(w, `</tbody></table>`)
	})
}

// ErrorStatus renders an inline error message.
func ErrorStatus(message string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		return writeAll(w, `<div class="error">`, templ.EscapeString(message), `</div>`)
	})
}
