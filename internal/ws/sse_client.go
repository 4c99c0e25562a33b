package ws

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// SSEClient streams log events as Server-Sent Events, for viewers that
// cannot hold a websocket open. The first write error latches the client
// closed so the hub drops it on the next broadcast.
type SSEClient struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	log     *slog.Logger
	closed  bool
}

// NewSSEClient wraps a response writer as a hub subscriber.
func NewSSEClient(writer io.Writer, flusher http.Flusher, logger *slog.Logger) *SSEClient {
	return &SSEClient{writer: writer, flusher: flusher, log: logger}
}

// Send emits one data frame.
func (c *SSEClient) Send(payload []byte) error {
	return c.emit("data: %s\n\n", payload)
}

// Heartbeat emits a comment frame so idle connections survive proxies.
func (c *SSEClient) Heartbeat() error {
	return c.emit(": ping\n\n")
}

func (c *SSEClient) emit(format string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	if _, err := fmt.Fprintf(c.writer, format, args...); err != nil {
		c.closed = true
		c.log.Warn("sse write failed", "error", err)
		return err
	}
	c.flusher.Flush()
	return nil
}

// Close marks the stream as closed.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}
