package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Record is the operator-side row for one finished arena game. Unlike the
// external archive call it covers every finish, resignations included.
type Record struct {
	GameID     string
	WhiteName  string
	BlackName  string
	WhiteID    *string
	BlackID    *string
	Result     string // "1-0", "0-1", "1/2-1/2"
	Method     string // checkmate, draw, resignation
	DrawReason string
	MovesUCI   []string
	MovesSAN   []string
	PGN        string
	StartedAt  time.Time
	EndedAt    time.Time
}

type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts a finished game. Safe to call on a nil repository.
func (r *Repository) SaveResult(ctx context.Context, rec *Record) error {
	if r == nil || r.db == nil || rec == nil {
		return nil
	}

	movesUCIRaw, _ := json.Marshal(rec.MovesUCI)
	movesSANRaw, _ := json.Marshal(rec.MovesSAN)
	duration := rec.EndedAt.Sub(rec.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO arena_games (
	    game_id, white_name, black_name, white_external_id, black_external_id,
	    result, result_method, draw_reason, moves_uci, moves_san, pgn,
	    started_at, ended_at, duration_ms
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
	  ) ON CONFLICT (game_id) DO UPDATE SET
	    white_name=EXCLUDED.white_name,
	    black_name=EXCLUDED.black_name,
	    white_external_id=EXCLUDED.white_external_id,
	    black_external_id=EXCLUDED.black_external_id,
	    result=EXCLUDED.result,
	    result_method=EXCLUDED.result_method,
	    draw_reason=EXCLUDED.draw_reason,
	    moves_uci=EXCLUDED.moves_uci,
	    moves_san=EXCLUDED.moves_san,
	    pgn=EXCLUDED.pgn,
	    started_at=EXCLUDED.started_at,
	    ended_at=EXCLUDED.ended_at,
	    duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		rec.GameID,
		rec.WhiteName, rec.BlackName,
		rec.WhiteID, rec.BlackID,
		rec.Result, strings.TrimSpace(rec.Method), rec.DrawReason,
		string(movesUCIRaw), string(movesSANRaw), rec.PGN,
		rec.StartedAt, rec.EndedAt, duration,
	)
	return err
}
