package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/kapu/chess-arena/internal/clock"
	"github.com/kapu/chess-arena/internal/session"
	"github.com/kapu/chess-arena/pkg/wire"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	hub := NewHub()
	orch := session.NewOrchestrator(hub, clock.New(), session.Config{})
	srv := httptest.NewServer(NewHandler(hub, orch))
	t.Cleanup(func() {
		srv.Close()
		hub.CloseAll()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal %s payload: %v", event, err)
		}
		data = raw
	}
	raw, err := json.Marshal(wire.Envelope{Event: event, Data: data})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func recv(t *testing.T, conn *websocket.Conn) wire.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, raw, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env wire.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func recvEvent(t *testing.T, conn *websocket.Conn, event string) wire.Envelope {
	t.Helper()
	env := recv(t, conn)
	if env.Event != event {
		t.Fatalf("event = %q, want %q", env.Event, event)
	}
	return env
}

func TestPairingOverWebSocket(t *testing.T) {
	srv := newTestServer(t)

	alice := dial(t, srv)
	bob := dial(t, srv)

	send(t, alice, wire.EventFindOpponent, wire.FindOpponentRequest{PlayerName: "alice"})
	recvEvent(t, alice, wire.EventWaitingForOpponent)

	send(t, bob, wire.EventFindOpponent, wire.FindOpponentRequest{PlayerName: "bob"})

	var aliceFound, bobFound wire.GameFound
	if err := json.Unmarshal(recvEvent(t, alice, wire.EventGameFound).Data, &aliceFound); err != nil {
		t.Fatalf("decode gameFound: %v", err)
	}
	if err := json.Unmarshal(recvEvent(t, bob, wire.EventGameFound).Data, &bobFound); err != nil {
		t.Fatalf("decode gameFound: %v", err)
	}

	if aliceFound.GameID == "" || aliceFound.GameID != bobFound.GameID {
		t.Fatalf("game ids: %q vs %q", aliceFound.GameID, bobFound.GameID)
	}
	if aliceFound.YourColor == bobFound.YourColor {
		t.Fatalf("both sides got color %q", aliceFound.YourColor)
	}
	if aliceFound.Turn != "w" {
		t.Fatalf("turn = %q, want w", aliceFound.Turn)
	}
	if aliceFound.YourToken == "" || aliceFound.YourToken == bobFound.YourToken {
		t.Fatal("rejoin tokens must be distinct and non-empty")
	}
}

func TestMoveAndChatOverWebSocket(t *testing.T) {
	srv := newTestServer(t)

	alice := dial(t, srv)
	bob := dial(t, srv)

	send(t, alice, wire.EventFindOpponent, wire.FindOpponentRequest{PlayerName: "alice"})
	recvEvent(t, alice, wire.EventWaitingForOpponent)
	send(t, bob, wire.EventFindOpponent, wire.FindOpponentRequest{PlayerName: "bob"})

	var aliceFound, bobFound wire.GameFound
	_ = json.Unmarshal(recvEvent(t, alice, wire.EventGameFound).Data, &aliceFound)
	_ = json.Unmarshal(recvEvent(t, bob, wire.EventGameFound).Data, &bobFound)

	white, black := alice, bob
	if aliceFound.YourColor != "white" {
		white, black = bob, alice
	}

	send(t, white, wire.EventMakeMove, wire.MakeMoveRequest{
		GameID: aliceFound.GameID,
		Move:   wire.Move{From: "e2", To: "e4"},
	})
	var whiteView, blackView wire.MoveMade
	_ = json.Unmarshal(recvEvent(t, white, wire.EventMoveMade).Data, &whiteView)
	_ = json.Unmarshal(recvEvent(t, black, wire.EventMoveMade).Data, &blackView)
	if whiteView.SAN != "e4" || whiteView.Turn != "b" {
		t.Fatalf("white view = %+v", whiteView)
	}
	if whiteView.IsMyTurn || !blackView.IsMyTurn {
		t.Fatal("turn flags inverted")
	}

	// an out-of-turn move only answers the offender
	send(t, white, wire.EventMakeMove, wire.MakeMoveRequest{
		GameID: aliceFound.GameID,
		Move:   wire.Move{From: "d2", To: "d4"},
	})
	var inv wire.InvalidMove
	_ = json.Unmarshal(recvEvent(t, white, wire.EventInvalidMove).Data, &inv)
	if inv.Reason != "Not your turn" {
		t.Fatalf("reason = %q", inv.Reason)
	}

	send(t, black, wire.EventSendMessage, wire.SendMessageRequest{
		GameID:  aliceFound.GameID,
		Message: "good luck",
	})
	var fromBlack wire.NewMessage
	_ = json.Unmarshal(recvEvent(t, white, wire.EventNewMessage).Data, &fromBlack)
	if fromBlack.Message != "good luck" {
		t.Fatalf("chat = %+v", fromBlack)
	}
	recvEvent(t, black, wire.EventNewMessage)
}

func TestDisconnectNotifiesOpponentOverWebSocket(t *testing.T) {
	srv := newTestServer(t)

	alice := dial(t, srv)
	bob := dial(t, srv)

	send(t, alice, wire.EventFindOpponent, wire.FindOpponentRequest{PlayerName: "alice"})
	recvEvent(t, alice, wire.EventWaitingForOpponent)
	send(t, bob, wire.EventFindOpponent, wire.FindOpponentRequest{PlayerName: "bob"})
	recvEvent(t, alice, wire.EventGameFound)

	var bobFound wire.GameFound
	_ = json.Unmarshal(recvEvent(t, bob, wire.EventGameFound).Data, &bobFound)

	_ = alice.Close(websocket.StatusNormalClosure, "")

	var gone wire.OpponentDisconnected
	_ = json.Unmarshal(recvEvent(t, bob, wire.EventOpponentDisconnected).Data, &gone)
	if gone.DisconnectedPlayer.Name != "alice" {
		t.Fatalf("disconnected = %+v", gone.DisconnectedPlayer)
	}

	// a fresh socket reclaims the seat by name
	alice2 := dial(t, srv)
	send(t, alice2, wire.EventRejoinGame, wire.RejoinRequest{
		GameID:     bobFound.GameID,
		PlayerName: "alice",
	})
	var joined wire.GameFound
	_ = json.Unmarshal(recvEvent(t, alice2, wire.EventGameJoined).Data, &joined)
	if joined.GameID != bobFound.GameID {
		t.Fatalf("rejoined game = %q, want %q", joined.GameID, bobFound.GameID)
	}
	recvEvent(t, bob, wire.EventOpponentReconnected)
}

func TestMalformedTrafficGetsErrorNotice(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var notice wire.ErrorNotice
	_ = json.Unmarshal(recvEvent(t, conn, wire.EventError).Data, &notice)
	if notice.Message != "Malformed message" {
		t.Fatalf("notice = %+v", notice)
	}

	send(t, conn, "teleport", nil)
	_ = json.Unmarshal(recvEvent(t, conn, wire.EventError).Data, &notice)
	if notice.Message != "Unknown event" {
		t.Fatalf("notice = %+v", notice)
	}
}
