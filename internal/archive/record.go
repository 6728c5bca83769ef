package archive

import "time"

// Record is the payload posted to the external game record service, one per
// finished game. Field names follow the service's API contract.
type Record struct {
	WhitePlayerID *string   `json:"white_player_id"`
	BlackPlayerID *string   `json:"black_player_id"`
	GameTypeID    int       `json:"game_type_id"`
	PlayedAt      time.Time `json:"played_at"`
	PGN           string    `json:"PGN"`
}

// GameTypeChess is the fixed game-type tag for arena chess games.
const GameTypeChess = 1
