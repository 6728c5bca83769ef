package rules

import (
	"errors"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// ErrIllegalMove reports a move the engine refused for the current position.
var ErrIllegalMove = errors.New("illegal move")

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Short returns the single-letter turn token used on the wire.
func (c Color) Short() string {
	if c == Black {
		return "b"
	}
	return "w"
}

func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// OutcomeKind classifies a terminal position.
type OutcomeKind string

const (
	OutcomeNone      OutcomeKind = "none"
	OutcomeCheckmate OutcomeKind = "checkmate"
	OutcomeDraw      OutcomeKind = "draw"
)

// Outcome is the engine's terminal-state report after a move.
type Outcome struct {
	Kind       OutcomeKind
	Winner     Color  // set for checkmate
	DrawReason string // set for draw
}

// Applied describes a single accepted move.
type Applied struct {
	UCI  string
	SAN  string
	FEN  string
	Turn Color // side to move after the move
}

// Engine wraps one chess game and is the sole authority over its position.
// Each session owns exactly one Engine; it is not safe for concurrent use.
type Engine struct {
	game     *nchess.Game
	movesSAN []string
	movesUCI []string
}

// New returns an Engine at the initial position.
func New() *Engine {
	return &Engine{game: nchess.NewGame()}
}

// Apply validates and applies a from/to move. Promotion defaults to queen
// and is only consulted when the plain move is rejected: a bare square pair
// for a promotion decodes fine but carries no promo piece, so the game
// refuses it and the promoted form is retried. Rejections leave the
// position untouched.
func (e *Engine) Apply(from, to, promotion string) (*Applied, error) {
	from = strings.ToLower(strings.TrimSpace(from))
	to = strings.ToLower(strings.TrimSpace(to))
	if len(from) != 2 || len(to) != 2 {
		return nil, ErrIllegalMove
	}
	promo := strings.ToLower(strings.TrimSpace(promotion))
	switch promo {
	case "q", "r", "b", "n":
	default:
		promo = "q"
	}

	pos := e.game.Position()
	notation := nchess.UCINotation{}
	uci := from + to
	mv, err := notation.Decode(pos, uci)
	if err == nil {
		err = e.game.Move(mv, nil)
	}
	if err != nil {
		uci = from + to + promo
		mv, err = notation.Decode(pos, uci)
		if err != nil {
			return nil, ErrIllegalMove
		}
		if err := e.game.Move(mv, nil); err != nil {
			return nil, ErrIllegalMove
		}
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	e.movesUCI = append(e.movesUCI, uci)
	e.movesSAN = append(e.movesSAN, san)

	e.claimDraws()

	return &Applied{
		UCI:  uci,
		SAN:  san,
		FEN:  e.game.FEN(),
		Turn: e.Turn(),
	}, nil
}

// claimDraws takes claimable draws automatically so threefold repetition and
// the fifty-move rule terminate the game without an explicit claim.
func (e *Engine) claimDraws() {
	for _, m := range e.game.EligibleDraws() {
		if m == nchess.ThreefoldRepetition || m == nchess.FiftyMoveRule {
			_ = e.game.Draw(m)
			return
		}
	}
}

// Turn reports the authoritative side to move.
func (e *Engine) Turn() Color {
	if e.game.Position().Turn() == nchess.Black {
		return Black
	}
	return White
}

// FEN returns the serialized current position.
func (e *Engine) FEN() string { return e.game.FEN() }

// MovesSAN returns a copy of the applied moves in algebraic notation.
func (e *Engine) MovesSAN() []string {
	return append([]string(nil), e.movesSAN...)
}

// MovesUCI returns a copy of the applied moves in UCI notation.
func (e *Engine) MovesUCI() []string {
	return append([]string(nil), e.movesUCI...)
}

// Outcome reports whether the game reached a terminal state. Draw reasons
// are classified stalemate, then threefold repetition, then insufficient
// material; anything else is reported as "agreement".
func (e *Engine) Outcome() Outcome {
	switch e.game.Outcome() {
	case nchess.WhiteWon:
		return Outcome{Kind: OutcomeCheckmate, Winner: White}
	case nchess.BlackWon:
		return Outcome{Kind: OutcomeCheckmate, Winner: Black}
	case nchess.Draw:
		return Outcome{Kind: OutcomeDraw, DrawReason: drawReason(e.game.Method())}
	default:
		return Outcome{Kind: OutcomeNone}
	}
}

func drawReason(m nchess.Method) string {
	switch m {
	case nchess.Stalemate:
		return "stalemate"
	case nchess.ThreefoldRepetition, nchess.FivefoldRepetition:
		return "threefold repetition"
	case nchess.InsufficientMaterial:
		return "insufficient material"
	default:
		return "agreement"
	}
}
