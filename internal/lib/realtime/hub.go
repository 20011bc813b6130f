package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tripwatch/server/internal/lib/circles"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// Client is one websocket connection joined to a room.
type Client struct {
	ID   string
	Room string
	Send chan []byte

	conn *websocket.Conn
	hub  *Hub
	once sync.Once
}

// Hub tracks connected clients per room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Client]struct{})}
}

// Join registers a client for room. conn may be nil in tests, in which case
// the caller drains Send itself.
func (h *Hub) Join(room string, conn *websocket.Conn) *Client {
	room = circles.NormalizeCode(room)
	c := &Client{
		ID:   uuid.NewString(),
		Room: room,
		Send: make(chan []byte, sendBuffer),
		conn: conn,
		hub:  h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	return c
}

// Leave unregisters the client and closes its send channel.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c)
}

func (h *Hub) leaveLocked(c *Client) {
	members, ok := h.rooms[c.Room]
	if !ok {
		return
	}
	if _, ok := members[c]; !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, c.Room)
	}
	c.once.Do(func() { close(c.Send) })
}

// RoomSize returns the number of clients in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[circles.NormalizeCode(room)])
}

// Broadcast implements Broadcaster. Clients whose buffer is full are dropped
// rather than blocking the sender.
func (h *Hub) Broadcast(ctx context.Context, room string, ev Event) {
	room = circles.NormalizeCode(room)
	ev.Room = room
	if ev.SentAt.IsZero() {
		ev.SentAt = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		logging.Errorw(ctx, "Realtime: failed to encode event", "room", room, "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.rooms[room] {
		select {
		case c.Send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.mu.Lock()
		for _, c := range slow {
			h.leaveLocked(c)
		}
		h.mu.Unlock()
		logging.Warnw(ctx, "Realtime: dropped slow clients", "room", room, "count", len(slow))
	}
}

// Serve pumps messages between the connection and the hub until either side
// closes. It blocks.
func (c *Client) Serve(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Leave(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// Clients only listen; inbound frames keep the connection alive
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debugw(ctx, "Realtime: client read error", "client_id", c.ID, "error", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
