package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/kapu/chess-arena/internal/obslog"
	"github.com/kapu/chess-arena/internal/session"
	"github.com/kapu/chess-arena/pkg/wire"
)

const maxFrameBytes = 32 << 10

// Handler accepts websocket connections and feeds their events into the
// orchestrator. Each connection gets a fresh opaque id; nothing about a
// player survives the socket except through rejoin.
type Handler struct {
	hub  *Hub
	orch *session.Orchestrator
}

func NewHandler(hub *Hub, orch *session.Orchestrator) *Handler {
	return &Handler{hub: hub, orch: orch}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("gateway_accept_error", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	connID := uuid.NewString()
	h.hub.add(connID, conn)
	obslog.L().Info("gateway_connect", zap.String("conn_id", connID))

	ctx := r.Context()
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			break
		}
		h.dispatch(connID, raw)
	}

	h.orch.Disconnect(connID)
	h.hub.remove(connID)
	obslog.L().Info("gateway_disconnect", zap.String("conn_id", connID))
}

func (h *Handler) dispatch(connID string, raw []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.hub.Send(connID, wire.EventError, wire.ErrorNotice{Message: "Malformed message"})
		return
	}

	switch env.Event {
	case wire.EventFindOpponent:
		var req wire.FindOpponentRequest
		if !h.decode(connID, env.Data, &req) {
			return
		}
		_ = h.orch.FindOpponent(connID, req.PlayerName, req.PlayerType, req.PlayerID)

	case wire.EventCancelSearch:
		h.orch.CancelSearch(connID)

	case wire.EventMakeMove:
		var req wire.MakeMoveRequest
		if !h.decode(connID, env.Data, &req) {
			return
		}
		_ = h.orch.MakeMove(connID, req.GameID, req.Move)

	case wire.EventResignGame:
		var req wire.ResignRequest
		if !h.decode(connID, env.Data, &req) {
			return
		}
		h.orch.Resign(connID, req.GameID)

	case wire.EventSendMessage:
		var req wire.SendMessageRequest
		if !h.decode(connID, env.Data, &req) {
			return
		}
		h.orch.SendMessage(connID, req.GameID, req.Message)

	case wire.EventRejoinGame:
		var req wire.RejoinRequest
		if !h.decode(connID, env.Data, &req) {
			return
		}
		_ = h.orch.Rejoin(connID, req.GameID, req.PlayerName, req.Token)

	default:
		h.hub.Send(connID, wire.EventError, wire.ErrorNotice{Message: "Unknown event"})
	}
}

// decode unmarshals an event payload, treating a missing payload as the
// zero request so the orchestrator's own guards take over.
func (h *Handler) decode(connID string, data json.RawMessage, dst any) bool {
	if len(data) == 0 {
		return true
	}
	if err := json.Unmarshal(data, dst); err != nil {
		h.hub.Send(connID, wire.EventError, wire.ErrorNotice{Message: "Malformed payload"})
		return false
	}
	return true
}
