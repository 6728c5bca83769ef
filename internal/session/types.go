package session

import (
	"errors"
	"time"

	"github.com/kapu/chess-arena/internal/archive"
	"github.com/kapu/chess-arena/internal/rules"
	"github.com/kapu/chess-arena/pkg/wire"
)

// Status represents a session lifecycle state. Waiting is implicit: before
// pairing a connection only exists as a queue entry.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusFinished Status = "FINISHED"
)

// FinishKind is the single explanation for a finished session.
type FinishKind string

const (
	FinishCheckmate   FinishKind = "checkmate"
	FinishDraw        FinishKind = "draw"
	FinishResignation FinishKind = "resignation"
)

var (
	ErrAlreadyInGame   = errors.New("already in a game")
	ErrGameNotFound    = errors.New("game not found")
	ErrNotAParticipant = errors.New("not a participant")
	ErrOutOfTurn       = errors.New("out of turn")
	ErrIllegalMove     = errors.New("illegal move")
)

// Participant identifies one side of a session. ConnID is overwritten on
// rejoin; RejoinToken is the private credential issued at pairing that a
// reconnecting client presents to reclaim its seat.
type Participant struct {
	ConnID      string
	DisplayName string
	Kind        string
	ExternalID  *string
	RejoinToken string
}

// Public returns the participant's wire identity (never the token).
func (p Participant) Public() wire.Player {
	return wire.Player{Name: p.DisplayName, Type: p.Kind, PlayerID: p.ExternalID}
}

// Finish records why a session ended. Exactly one of the kinds applies.
type Finish struct {
	Kind       FinishKind
	Winner     rules.Color
	Resigned   rules.Color // resignation only
	DrawReason string      // draw only
	PGN        string
}

// Session is one paired game. The embedded engine is the authoritative
// position; nothing outside the orchestrator mutates it.
type Session struct {
	ID     string
	White  Participant
	Black  Participant
	Engine *rules.Engine

	FEN    string
	Turn   rules.Color
	Status Status

	HasDisconnected bool
	DisconnectedAt  time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	Finish *Finish
}

func (s *Session) participant(color rules.Color) *Participant {
	if color == rules.Black {
		return &s.Black
	}
	return &s.White
}

// colorOf resolves a connection to its side, or "" for strangers.
func (s *Session) colorOf(connID string) rules.Color {
	switch connID {
	case s.White.ConnID:
		return rules.White
	case s.Black.ConnID:
		return rules.Black
	default:
		return ""
	}
}

// Notifier is the outbound side of the transport layer. Implementations must
// not call back into the orchestrator and must not block.
type Notifier interface {
	Send(connID, event string, payload any)
	Broadcast(sessionID, event string, payload any)
	Join(sessionID, connID string)
	Leave(sessionID, connID string)
}

// Archiver accepts finished-game records for asynchronous delivery to the
// external persistence service. Submit must not block on network latency.
type Archiver interface {
	Submit(rec archive.Record)
}
