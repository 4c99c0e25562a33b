package ws

import (
	"errors"
	"sync"
)

// ErrSlowSubscriber reports a subscriber whose buffer overflowed.
var ErrSlowSubscriber = errors.New("ws: subscriber buffer full")

// ChannelSubscriber delivers payloads over a bounded in-process channel. It
// backs the Subscribe read path: a full buffer fails the Send instead of
// applying backpressure to the publisher.
type ChannelSubscriber struct {
	ch     chan []byte
	mu     sync.Mutex
	closed bool
}

// NewChannelSubscriber builds a subscriber with the given buffer size.
func NewChannelSubscriber(buffer int) *ChannelSubscriber {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSubscriber{ch: make(chan []byte, buffer)}
}

// C exposes the receive side of the subscription.
func (s *ChannelSubscriber) C() <-chan []byte {
	return s.ch
}

// Send enqueues the payload or fails when the buffer is full.
func (s *ChannelSubscriber) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("ws: subscriber closed")
	}
	select {
	case s.ch <- payload:
		return nil
	default:
		return ErrSlowSubscriber
	}
}

// Close shuts the channel; safe to call more than once.
func (s *ChannelSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
