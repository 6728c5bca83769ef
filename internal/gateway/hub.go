package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/kapu/chess-arena/internal/obslog"
	"github.com/kapu/chess-arena/pkg/wire"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
)

// client is one live websocket connection tracked by the hub.
type client struct {
	id   string
	conn *websocket.Conn

	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
	})
}

// writePump drains the send channel into the socket. It exits when the
// client is closed or a write fails.
func (c *client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				c.close()
				return
			}
		}
	}
}

// Hub owns the set of live connections and the session rooms used to
// address them. It is the delivery side of the server: the orchestrator
// decides who hears what, the hub gets the bytes onto the wire.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	rooms   map[string]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*client),
		rooms:   make(map[string]map[string]struct{}),
	}
}

func (h *Hub) add(id string, conn *websocket.Conn) *client {
	cl := &client{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[id] = cl
	h.mu.Unlock()
	go cl.writePump()
	return cl
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	cl, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	for sid, members := range h.rooms {
		delete(members, id)
		if len(members) == 0 {
			delete(h.rooms, sid)
		}
	}
	h.mu.Unlock()
	if ok {
		cl.close()
	}
}

// Send delivers one event to one connection. Unknown connections and
// clients that cannot keep up are dropped silently.
func (h *Hub) Send(connID, event string, payload any) {
	msg, err := encode(event, payload)
	if err != nil {
		return
	}
	h.mu.RLock()
	cl := h.clients[connID]
	h.mu.RUnlock()
	if cl == nil {
		return
	}
	h.enqueue(cl, msg, event)
}

// Broadcast delivers one event to every connection in a session room.
func (h *Hub) Broadcast(sessionID, event string, payload any) {
	msg, err := encode(event, payload)
	if err != nil {
		return
	}
	h.mu.RLock()
	members := make([]*client, 0, 2)
	for id := range h.rooms[sessionID] {
		if cl := h.clients[id]; cl != nil {
			members = append(members, cl)
		}
	}
	h.mu.RUnlock()
	for _, cl := range members {
		h.enqueue(cl, msg, event)
	}
}

func (h *Hub) Join(sessionID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[sessionID] == nil {
		h.rooms[sessionID] = make(map[string]struct{})
	}
	h.rooms[sessionID][connID] = struct{}{}
}

func (h *Hub) Leave(sessionID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[sessionID]
	if members == nil {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, sessionID)
	}
}

// CloseAll terminates every connection, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, cl := range h.clients {
		clients = append(clients, cl)
	}
	h.clients = make(map[string]*client)
	h.rooms = make(map[string]map[string]struct{})
	h.mu.Unlock()
	for _, cl := range clients {
		cl.close()
	}
}

func (h *Hub) enqueue(cl *client, msg []byte, event string) {
	select {
	case cl.send <- msg:
	default:
		obslog.L().Warn("gateway_slow_client",
			zap.String("conn_id", cl.id),
			zap.String("event", event))
		cl.close()
	}
}

func encode(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			obslog.L().Error("gateway_encode_error",
				zap.String("event", event), zap.Error(err))
			return nil, err
		}
		data = raw
	}
	return json.Marshal(wire.Envelope{Event: event, Data: data})
}
