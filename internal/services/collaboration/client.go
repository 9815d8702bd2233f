package collaboration

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4 << 20
	sendBufferSize = 256
)

// ConnState is where a connection is in the sync handshake.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateJoined
	StateSynchronizing
	StateSynced
)

func (s ConnState) String() string {
	switch s {
	case StateJoined:
		return "joined"
	case StateSynchronizing:
		return "synchronizing"
	case StateSynced:
		return "synced"
	}
	return "disconnected"
}

// Client is one websocket connection. Conn is nil for in-process clients.
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan []byte

	mu          sync.Mutex
	closed      bool
	documentID  string
	userID      string
	displayName string
	state       ConnState
}

func NewClient(id string, conn *websocket.Conn) *Client {
	return &Client{
		ID:   id,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

// Send queues a frame without blocking. It reports false when the buffer is
// full or the client is closed.
func (c *Client) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Outbox exposes queued frames. WritePump is the only reader for real
// connections.
func (c *Client) Outbox() <-chan []byte {
	return c.send
}

// Close stops the write side. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) join(documentID, userID, displayName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.documentID = documentID
	c.userID = userID
	c.displayName = displayName
	c.state = StateJoined
}

func (c *Client) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.documentID = ""
	c.userID = ""
	c.displayName = ""
	c.state = StateDisconnected
}

// Identity is the document and user the connection joined as.
func (c *Client) Identity() (documentID, userID, displayName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.documentID, c.userID, c.displayName
}

func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// advance moves the state forward from `from` only.
func (c *Client) advance(from, to ConnState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == from {
		c.state = to
	}
}

// ReadPump feeds frames to the relay until the connection fails, then
// disconnects the client.
func (c *Client) ReadPump(ctx context.Context, relay *Relay) {
	defer func() {
		relay.Disconnect(ctx, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				relay.logger.Warn().Err(err).Str("connection_id", c.ID).Msg("websocket read failed")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		relay.Handle(ctx, c, message)
	}
}

// WritePump writes queued frames, one text frame per event, and pings the
// peer.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
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
