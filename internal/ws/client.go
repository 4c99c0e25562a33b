package ws

import (
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
)

// writeWait bounds how long a stalled peer can hold up a Send before the
// client is treated as dead and dropped.
const writeWait = 5 * time.Second

// Client adapts a websocket connection to the hub's Subscriber contract.
// Sends are serialized; gorilla connections allow one concurrent writer.
type Client struct {
	mu   sync.Mutex
	conn *websocket.Conn
	log  *slog.Logger
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{conn: conn, log: logger}
}

// Send writes one text message under a write deadline. A failed write closes
// the connection so the peer is not retried.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn("websocket send failed", "error", err)
		_ = c.conn.Close()
		return err
	}
	return nil
}

// Close terminates the connection.
func (c *Client) Close() {
	_ = c.conn.Close()
}
