package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kapu/chess-arena/internal/archive"
	"github.com/kapu/chess-arena/internal/clock"
	"github.com/kapu/chess-arena/internal/lobby"
	"github.com/kapu/chess-arena/internal/obslog"
	"github.com/kapu/chess-arena/internal/results"
	"github.com/kapu/chess-arena/internal/rules"
	"github.com/kapu/chess-arena/pkg/wire"
)

// Config holds the orchestrator's tunables.
type Config struct {
	FinishedGrace      time.Duration
	DisconnectGrace    time.Duration
	MaxConcurrentGames int
}

// Orchestrator owns the matchmaking queue, the connection registry, and the
// session store. One mutex guards all three as a unit so every inbound event
// and timer firing is an atomic step: a connection can never be matched
// twice, or sit in the queue and the registry at the same time.
type Orchestrator struct {
	mu       sync.Mutex
	queue    *lobby.Queue
	sessions map[string]*Session
	registry map[string]string // connID -> sessionID

	notifier Notifier
	clk      clock.Clock
	cfg      Config

	archiver Archiver            // optional
	repo     *results.Repository // optional
}

func NewOrchestrator(notifier Notifier, clk clock.Clock, cfg Config) *Orchestrator {
	if cfg.FinishedGrace <= 0 {
		cfg.FinishedGrace = 60 * time.Second
	}
	if cfg.DisconnectGrace <= 0 {
		cfg.DisconnectGrace = 5 * time.Minute
	}
	if cfg.MaxConcurrentGames <= 0 {
		cfg.MaxConcurrentGames = 200
	}
	return &Orchestrator{
		queue:    lobby.NewQueue(),
		sessions: make(map[string]*Session),
		registry: make(map[string]string),
		notifier: notifier,
		clk:      clk,
		cfg:      cfg,
	}
}

// AttachArchiver wires the external persistence submitter.
func (o *Orchestrator) AttachArchiver(a Archiver) {
	if o != nil {
		o.archiver = a
	}
}

// AttachRepository wires the local results repository.
func (o *Orchestrator) AttachRepository(r *results.Repository) {
	if o != nil {
		o.repo = r
	}
}

// FindOpponent pairs the connection with the oldest waiting entry, or queues
// it. Defensive defaults: a missing name becomes "Guest", a missing kind
// "guest".
func (o *Orchestrator) FindOpponent(connID, displayName, kind string, externalID *string) error {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = "Guest"
	}
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		kind = "guest"
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	// A re-search while already queued must not match the connection with
	// itself, so its own entry goes first.
	o.queue.Remove(connID)

	if _, inGame := o.registry[connID]; inGame {
		o.notifier.Send(connID, wire.EventError, wire.ErrorNotice{Message: "Already in a game"})
		return ErrAlreadyInGame
	}

	entry := lobby.WaitingEntry{
		ConnID:      connID,
		DisplayName: displayName,
		Kind:        kind,
		ExternalID:  externalID,
		EnqueuedAt:  o.clk.Now(),
	}

	if len(o.sessions) >= o.cfg.MaxConcurrentGames {
		o.queue.Enqueue(entry)
		o.notifier.Send(connID, wire.EventWaitingForOpponent, struct{}{})
		obslog.L().Warn("match_deferred_capacity", zap.String("conn_id", connID), zap.Int("sessions", len(o.sessions)))
		return nil
	}

	opponent, ok := o.queue.DequeueOldest()
	if !ok {
		o.queue.Enqueue(entry)
		o.notifier.Send(connID, wire.EventWaitingForOpponent, struct{}{})
		obslog.L().Info("match_waiting", zap.String("conn_id", connID), zap.String("name", displayName))
		return nil
	}

	o.createSession(opponent, entry)
	return nil
}

// createSession pairs two waiting entries into a new active session.
// Caller holds the lock.
func (o *Orchestrator) createSession(a, b lobby.WaitingEntry) {
	now := o.clk.Now()
	id := fmt.Sprintf("game-%d-%s", now.UnixNano(), randSuffix(3))

	white, black := a, b
	if coinFlip() {
		white, black = b, a
	}

	engine := rules.New()
	s := &Session{
		ID: id,
		White: Participant{
			ConnID:      white.ConnID,
			DisplayName: white.DisplayName,
			Kind:        white.Kind,
			ExternalID:  white.ExternalID,
			RejoinToken: uuid.NewString(),
		},
		Black: Participant{
			ConnID:      black.ConnID,
			DisplayName: black.DisplayName,
			Kind:        black.Kind,
			ExternalID:  black.ExternalID,
			RejoinToken: uuid.NewString(),
		},
		Engine:    engine,
		FEN:       engine.FEN(),
		Turn:      engine.Turn(),
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	o.sessions[id] = s
	o.registry[s.White.ConnID] = id
	o.registry[s.Black.ConnID] = id
	o.notifier.Join(id, s.White.ConnID)
	o.notifier.Join(id, s.Black.ConnID)

	o.notifier.Send(s.White.ConnID, wire.EventGameFound, o.snapshot(s, rules.White))
	o.notifier.Send(s.Black.ConnID, wire.EventGameFound, o.snapshot(s, rules.Black))

	obslog.L().Info("match_found",
		zap.String("game_id", id),
		zap.String("white", s.White.DisplayName),
		zap.String("black", s.Black.DisplayName),
	)
}

// snapshot builds the gameFound/gameJoined payload for one side.
func (o *Orchestrator) snapshot(s *Session, color rules.Color) wire.GameFound {
	return wire.GameFound{
		GameID:      s.ID,
		YourColor:   string(color),
		YourToken:   s.participant(color).RejoinToken,
		WhitePlayer: s.White.Public(),
		BlackPlayer: s.Black.Public(),
		GameState:   s.FEN,
		Turn:        s.Turn.Short(),
		MoveHistory: s.Engine.MovesSAN(),
	}
}

// CancelSearch drops the connection's waiting entry, if any.
func (o *Orchestrator) CancelSearch(connID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.queue.Remove(connID) {
		obslog.L().Info("match_cancel", zap.String("conn_id", connID))
	}
}

// MakeMove forwards a move to the session's engine and relays the result.
// Rejections are surfaced to the sender only and leave all state unchanged.
func (o *Orchestrator) MakeMove(connID, sessionID string, mv wire.Move) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.sessions[sessionID]
	if !ok {
		o.notifier.Send(connID, wire.EventInvalidMove, wire.InvalidMove{Reason: "Game not found"})
		return ErrGameNotFound
	}
	color := s.colorOf(connID)
	if color == "" {
		o.notifier.Send(connID, wire.EventInvalidMove, wire.InvalidMove{Reason: "Not a player in this game"})
		return ErrNotAParticipant
	}
	if s.Status != StatusActive {
		o.notifier.Send(connID, wire.EventInvalidMove, wire.InvalidMove{Reason: "Game is not active"})
		return ErrIllegalMove
	}
	if s.Turn != color {
		o.notifier.Send(connID, wire.EventInvalidMove, wire.InvalidMove{Reason: "Not your turn"})
		return ErrOutOfTurn
	}

	applied, err := s.Engine.Apply(mv.From, mv.To, mv.Promotion)
	if err != nil {
		o.notifier.Send(connID, wire.EventInvalidMove, wire.InvalidMove{Reason: "Invalid move"})
		return ErrIllegalMove
	}

	s.FEN = applied.FEN
	s.Turn = applied.Turn
	s.UpdatedAt = o.clk.Now()

	history := s.Engine.MovesSAN()
	for _, side := range []rules.Color{rules.White, rules.Black} {
		o.notifier.Send(s.participant(side).ConnID, wire.EventMoveMade, wire.MoveMade{
			Move:        mv,
			SAN:         applied.SAN,
			GameState:   s.FEN,
			Turn:        s.Turn.Short(),
			MoveHistory: history,
			YourColor:   string(side),
			IsMyTurn:    s.Turn == side,
		})
	}

	obslog.L().Info("session_move",
		zap.String("game_id", s.ID),
		zap.String("color", string(color)),
		zap.String("san", applied.SAN),
		zap.String("turn", string(s.Turn)),
	)

	if out := s.Engine.Outcome(); out.Kind != rules.OutcomeNone {
		o.finishByOutcome(s, out)
	}
	return nil
}

// finishByOutcome handles engine-detected terminal states (checkmate and
// draw). Caller holds the lock.
func (o *Orchestrator) finishByOutcome(s *Session, out rules.Outcome) {
	now := o.clk.Now()
	result := rules.PGNResult(out, "")

	over := wire.GameOver{Type: string(out.Kind)}
	fin := &Finish{}
	switch out.Kind {
	case rules.OutcomeCheckmate:
		fin.Kind = FinishCheckmate
		fin.Winner = out.Winner
		winner := s.participant(out.Winner).Public()
		loser := s.participant(out.Winner.Opponent()).Public()
		over.Winner = &winner
		over.Loser = &loser
		over.PGN = s.Engine.PGN(s.White.DisplayName, s.Black.DisplayName, result, "checkmate", now)
	case rules.OutcomeDraw:
		fin.Kind = FinishDraw
		fin.DrawReason = out.DrawReason
		over.Reason = out.DrawReason
		over.PGN = s.Engine.PGN(s.White.DisplayName, s.Black.DisplayName, result, out.DrawReason, now)
	}
	fin.PGN = over.PGN

	s.Status = StatusFinished
	s.Finish = fin
	s.UpdatedAt = now

	o.notifier.Broadcast(s.ID, wire.EventGameOver, over)
	obslog.L().Info("session_over",
		zap.String("game_id", s.ID),
		zap.String("kind", string(fin.Kind)),
		zap.String("draw_reason", fin.DrawReason),
	)

	// Checkmate and draw go to the external archive; resignations do not
	// (matching the record service's ingestion contract).
	if o.archiver != nil {
		o.archiver.Submit(archive.Record{
			WhitePlayerID: s.White.ExternalID,
			BlackPlayerID: s.Black.ExternalID,
			GameTypeID:    archive.GameTypeChess,
			PlayedAt:      now,
			PGN:           over.PGN,
		})
	}
	o.saveResult(s, result)
	o.scheduleFinishedSweep(s.ID)
}

// Resign ends the session in the opponent's favor. Unknown sessions and
// non-participants are silently ignored.
func (o *Orchestrator) Resign(connID, sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.sessions[sessionID]
	if !ok || s.Status != StatusActive {
		return
	}
	color := s.colorOf(connID)
	if color == "" {
		return
	}

	now := o.clk.Now()
	winnerColor := color.Opponent()
	result := rules.PGNResult(rules.Outcome{}, color)
	pgn := s.Engine.PGN(s.White.DisplayName, s.Black.DisplayName, result, "resignation", now)

	s.Status = StatusFinished
	s.Finish = &Finish{Kind: FinishResignation, Winner: winnerColor, Resigned: color, PGN: pgn}
	s.UpdatedAt = now

	winner := s.participant(winnerColor).Public()
	resigned := s.participant(color).Public()
	o.notifier.Broadcast(s.ID, wire.EventGameOver, wire.GameOver{
		Type:     string(FinishResignation),
		Winner:   &winner,
		Resigned: &resigned,
		PGN:      pgn,
	})

	obslog.L().Info("session_resign",
		zap.String("game_id", s.ID),
		zap.String("resigned", string(color)),
	)

	o.saveResult(s, result)
	o.scheduleFinishedSweep(s.ID)
}

// SendMessage relays chat to both participants. Not gated by turn or status.
func (o *Orchestrator) SendMessage(connID, sessionID, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.sessions[sessionID]
	if !ok {
		return
	}
	sender := "Unknown"
	if color := s.colorOf(connID); color != "" {
		sender = s.participant(color).DisplayName
	}
	o.notifier.Broadcast(s.ID, wire.EventNewMessage, wire.NewMessage{
		Sender:    sender,
		Message:   text,
		Timestamp: o.clk.Now(),
	})
}

// Disconnect handles a transport-level drop. Queued connections just leave
// the queue; active participants open the reconnection grace window. The
// registry entry is removed immediately either way.
func (o *Orchestrator) Disconnect(connID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.queue.Remove(connID) {
		obslog.L().Info("match_leave", zap.String("conn_id", connID))
		return
	}

	sessionID, ok := o.registry[connID]
	delete(o.registry, connID)
	if !ok {
		return
	}
	s, ok := o.sessions[sessionID]
	if !ok {
		return
	}
	color := s.colorOf(connID)
	if color == "" {
		return
	}
	o.notifier.Leave(s.ID, connID)
	if s.Status != StatusActive {
		return
	}

	s.HasDisconnected = true
	s.DisconnectedAt = o.clk.Now()

	gone := s.participant(color).Public()
	other := s.participant(color.Opponent())
	o.notifier.Send(other.ConnID, wire.EventOpponentDisconnected, wire.OpponentDisconnected{DisconnectedPlayer: gone})

	obslog.L().Info("session_disconnect",
		zap.String("game_id", s.ID),
		zap.String("color", string(color)),
		zap.String("name", gone.Name),
	)

	o.scheduleAbandonSweep(s.ID)
}

// Rejoin reattaches a new connection to an existing session. The rejoin
// token issued at pairing is the preferred identity; the display name is
// accepted as a fallback for clients that never stored the token.
func (o *Orchestrator) Rejoin(connID, sessionID, displayName, token string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.sessions[sessionID]
	if !ok {
		o.notifier.Send(connID, wire.EventError, wire.ErrorNotice{Message: "Game not found"})
		return ErrGameNotFound
	}
	if mapped, inGame := o.registry[connID]; inGame && mapped != sessionID {
		o.notifier.Send(connID, wire.EventError, wire.ErrorNotice{Message: "Already in a game"})
		return ErrAlreadyInGame
	}

	var color rules.Color
	switch {
	case token != "" && token == s.White.RejoinToken:
		color = rules.White
	case token != "" && token == s.Black.RejoinToken:
		color = rules.Black
	case token == "" && displayName == s.White.DisplayName:
		color = rules.White
	case token == "" && displayName == s.Black.DisplayName:
		color = rules.Black
	default:
		o.notifier.Send(connID, wire.EventError, wire.ErrorNotice{Message: "Not a player in this game"})
		return ErrNotAParticipant
	}

	p := s.participant(color)
	if p.ConnID != connID {
		// Sweep a stale mapping if the seat's previous connection is still
		// registered (rejoin from a new tab without a disconnect event).
		if old, ok := o.registry[p.ConnID]; ok && old == sessionID {
			delete(o.registry, p.ConnID)
			o.notifier.Leave(s.ID, p.ConnID)
		}
		p.ConnID = connID
	}
	o.queue.Remove(connID)
	o.registry[connID] = sessionID
	o.notifier.Join(s.ID, connID)
	s.HasDisconnected = false
	s.DisconnectedAt = time.Time{}

	o.notifier.Send(connID, wire.EventGameJoined, o.snapshot(s, color))

	other := s.participant(color.Opponent())
	o.notifier.Send(other.ConnID, wire.EventOpponentReconnected, wire.OpponentReconnected{ReconnectedPlayer: p.DisplayName})

	obslog.L().Info("session_rejoin",
		zap.String("game_id", s.ID),
		zap.String("color", string(color)),
		zap.String("name", p.DisplayName),
	)
	return nil
}

// scheduleFinishedSweep keeps a finished session addressable for the grace
// window, then destroys it. The state is re-checked when the timer fires
// rather than cancelling timers, which tolerates races with rejoin.
func (o *Orchestrator) scheduleFinishedSweep(sessionID string) {
	o.clk.AfterFunc(o.cfg.FinishedGrace, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		s, ok := o.sessions[sessionID]
		if !ok || s.Status != StatusFinished {
			return
		}
		o.destroy(s, "finished_grace")
	})
}

// scheduleAbandonSweep destroys the session if the disconnect flag is still
// set when the window elapses; a rejoin in between clears it.
func (o *Orchestrator) scheduleAbandonSweep(sessionID string) {
	o.clk.AfterFunc(o.cfg.DisconnectGrace, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		s, ok := o.sessions[sessionID]
		if !ok || !s.HasDisconnected {
			return
		}
		o.destroy(s, "abandoned")
	})
}

// destroy removes the session and sweeps both participants' current registry
// entries so no stale mapping can outlive it. Caller holds the lock.
func (o *Orchestrator) destroy(s *Session, reason string) {
	delete(o.sessions, s.ID)
	for _, p := range []Participant{s.White, s.Black} {
		if mapped, ok := o.registry[p.ConnID]; ok && mapped == s.ID {
			delete(o.registry, p.ConnID)
		}
		o.notifier.Leave(s.ID, p.ConnID)
	}
	obslog.L().Info("session_cleanup",
		zap.String("game_id", s.ID),
		zap.String("reason", reason),
	)

	o.drainQueue()
}

// drainQueue pairs searchers that were deferred at capacity, now that a slot
// has opened. Caller holds the lock.
func (o *Orchestrator) drainQueue() {
	for len(o.sessions) < o.cfg.MaxConcurrentGames && o.queue.Len() >= 2 {
		a, _ := o.queue.DequeueOldest()
		b, _ := o.queue.DequeueOldest()
		o.createSession(a, b)
	}
}

// saveResult writes the finished game to the local repository in a detached
// task; failures only affect logging. Caller holds the lock.
func (o *Orchestrator) saveResult(s *Session, result string) {
	if o.repo == nil || s.Finish == nil {
		return
	}
	rec := &results.Record{
		GameID:     s.ID,
		WhiteName:  s.White.DisplayName,
		BlackName:  s.Black.DisplayName,
		WhiteID:    s.White.ExternalID,
		BlackID:    s.Black.ExternalID,
		Result:     result,
		Method:     string(s.Finish.Kind),
		DrawReason: s.Finish.DrawReason,
		MovesUCI:   s.Engine.MovesUCI(),
		MovesSAN:   s.Engine.MovesSAN(),
		PGN:        s.Finish.PGN,
		StartedAt:  s.CreatedAt,
		EndedAt:    s.UpdatedAt,
	}
	repo := o.repo
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := repo.SaveResult(ctx, rec); err != nil {
			obslog.L().Error("result_persist_error", zap.String("game_id", rec.GameID), zap.Error(err))
		}
	}()
}

func coinFlip() bool {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	return err == nil && n.Int64() == 1
}

// randSuffix returns a hex string of n bytes; falls back to a timestamp tail
// when crypto/rand fails.
func randSuffix(n int) string {
	if n <= 0 {
		n = 3
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err == nil {
		return hex.EncodeToString(b)
	}
	return fmt.Sprintf("%x", time.Now().UnixNano()%1_000_000)
}
