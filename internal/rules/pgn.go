package rules

import (
	"fmt"
	"strings"
	"time"
)

// PGNResult maps a finished outcome to the PGN result token.
func PGNResult(out Outcome, resigned Color) string {
	switch {
	case out.Kind == OutcomeCheckmate && out.Winner == White:
		return "1-0"
	case out.Kind == OutcomeCheckmate && out.Winner == Black:
		return "0-1"
	case out.Kind == OutcomeDraw:
		return "1/2-1/2"
	case resigned == White:
		return "0-1"
	case resigned == Black:
		return "1-0"
	default:
		return "*"
	}
}

// PGN renders the applied moves as portable game notation with a standard
// header block.
func (e *Engine) PGN(whiteName, blackName, result, termination string, playedAt time.Time) string {
	var b strings.Builder
	if playedAt.IsZero() {
		playedAt = time.Now()
	}
	b.WriteString("[Event \"Arena Match\"]\n")
	b.WriteString("[Site \"chess-arena\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", playedAt.Year(), int(playedAt.Month()), playedAt.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(whiteName)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(blackName)))
	if strings.TrimSpace(termination) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(termination))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", result))

	for i := 0; i < len(e.movesSAN); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", (i/2)+1, strings.TrimSpace(e.movesSAN[i])))
		if i+1 < len(e.movesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(e.movesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
