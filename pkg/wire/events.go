package wire

import (
	"encoding/json"
	"time"
)

// Inbound event names accepted by the gateway.
const (
	EventFindOpponent = "findOpponent"
	EventCancelSearch = "cancelSearch"
	EventMakeMove     = "makeMove"
	EventResignGame   = "resignGame"
	EventSendMessage  = "sendMessage"
	EventRejoinGame   = "rejoinGame"
)

// Outbound event names emitted to clients.
const (
	EventWaitingForOpponent    = "waitingForOpponent"
	EventGameFound             = "gameFound"
	EventMoveMade              = "moveMade"
	EventInvalidMove           = "invalidMove"
	EventGameOver              = "gameOver"
	EventNewMessage            = "newMessage"
	EventGameJoined            = "gameJoined"
	EventOpponentDisconnected  = "opponentDisconnected"
	EventOpponentReconnected   = "opponentReconnected"
	EventError                 = "error"
)

// Envelope is the framing for every websocket message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Player is the public identity of a session participant.
type Player struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	PlayerID *string `json:"playerId"`
}

type FindOpponentRequest struct {
	PlayerName string  `json:"playerName"`
	PlayerType string  `json:"playerType"`
	PlayerID   *string `json:"playerId,omitempty"`
}

type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

type MakeMoveRequest struct {
	GameID string `json:"gameId"`
	Move   Move   `json:"move"`
}

type ResignRequest struct {
	GameID string `json:"gameId"`
}

type SendMessageRequest struct {
	GameID  string `json:"gameId"`
	Message string `json:"message"`
}

type RejoinRequest struct {
	GameID     string `json:"gameId"`
	PlayerName string `json:"playerName"`
	Token      string `json:"token,omitempty"`
}

// GameFound doubles as the gameJoined snapshot; the rejoin token is only
// populated for the receiving side's own identity.
type GameFound struct {
	GameID      string   `json:"gameId"`
	YourColor   string   `json:"yourColor"`
	YourToken   string   `json:"yourToken,omitempty"`
	WhitePlayer Player   `json:"whitePlayer"`
	BlackPlayer Player   `json:"blackPlayer"`
	GameState   string   `json:"gameState"`
	Turn        string   `json:"turn"`
	MoveHistory []string `json:"moveHistory"`
}

type MoveMade struct {
	Move        Move     `json:"move"`
	SAN         string   `json:"san"`
	GameState   string   `json:"gameState"`
	Turn        string   `json:"turn"`
	MoveHistory []string `json:"moveHistory"`
	YourColor   string   `json:"yourColor"`
	IsMyTurn    bool     `json:"isMyTurn"`
}

type InvalidMove struct {
	Reason string `json:"reason"`
}

type GameOver struct {
	Type     string  `json:"type"`
	Winner   *Player `json:"winner,omitempty"`
	Loser    *Player `json:"loser,omitempty"`
	Resigned *Player `json:"resigned,omitempty"`
	Reason   string  `json:"reason,omitempty"`
	PGN      string  `json:"pgn"`
}

type NewMessage struct {
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type OpponentDisconnected struct {
	DisconnectedPlayer Player `json:"disconnectedPlayer"`
}

type OpponentReconnected struct {
	ReconnectedPlayer string `json:"reconnectedPlayer"`
}

type ErrorNotice struct {
	Message string `json:"message"`
}
