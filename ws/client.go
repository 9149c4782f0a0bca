package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/splitpot/splitpot-server/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 20 // 1MB
)

// Conn is the hub's and router's view of a connection: raw delivery
// plus the mutable session attributes. *Client implements it; tests use
// mocks.
type Conn interface {
	Send(data []byte)
	SendEvent(ev protocol.ServerEvent)

	Identity() string
	SetIdentity(tag string)
	RoomID() string
	SetRoom(roomID string)
	Username() string
	Wallet() string
	SetProfile(username, wallet string)

	// ReplayMark is the room and timestamp of the last history event
	// this connection received at join time. The hub skips room events
	// at or before the mark so a delayed fan-out of an event already
	// replayed never reaches the joiner twice.
	ReplayMark() (roomID string, ts int64)
	SetReplayMark(roomID string, ts int64)
}

// Client wraps one websocket connection and its session state.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	mu       sync.RWMutex
	identity string
	roomID   string
	username string
	wallet   string
	markRoom string
	markTs   int64
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
		done: make(chan struct{}),
	}
}

func (c *Client) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

func (c *Client) SetIdentity(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = tag
}

func (c *Client) RoomID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

func (c *Client) SetRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
}

func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

func (c *Client) Wallet() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.wallet
}

func (c *Client) SetProfile(username, wallet string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = username
	c.wallet = wallet
}

func (c *Client) ReplayMark() (string, int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.markRoom, c.markTs
}

func (c *Client) SetReplayMark(roomID string, ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markRoom = roomID
	c.markTs = ts
}

// Send queues raw bytes for delivery. Messages to a closed or backed-up
// connection are dropped, never raised to the caller.
func (c *Client) Send(data []byte) {
	select {
	case <-c.done:
	case c.send <- data:
	default:
		slog.Warn("client send buffer full, dropping message", "username", c.Username())
	}
}

func (c *Client) SendEvent(ev protocol.ServerEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal error", "err", err)
		return
	}
	c.Send(data)
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Info("client disconnected", "err", err)
			}
			return
		}
		c.hub.handleMessage(c, message)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
