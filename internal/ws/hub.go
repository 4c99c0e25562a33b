package ws

import (
	"sync"
	"time"
)

// Subscriber abstracts a streaming client. Send must not block: it returns an
// error when the client cannot accept the payload, and the hub drops the
// client rather than stalling the topic's publisher.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages live log subscriptions keyed by deployment ID. Topics are
// materialized on first subscribe or broadcast and garbage-collected once the
// deployment is terminal, a grace period has elapsed, and no subscribers
// remain, so a late-joining viewer still catches a short tail.
type Hub struct {
	mu     sync.Mutex
	topics map[string]*topic
	grace  time.Duration
}

type topic struct {
	subs     map[Subscriber]struct{}
	terminal bool
}

// NewHub creates an initialized Hub with the given terminal grace period.
func NewHub(grace time.Duration) *Hub {
	return &Hub{
		topics: make(map[string]*topic),
		grace:  grace,
	}
}

// Register adds a client to a deployment's topic.
func (h *Hub) Register(deploymentID string, client Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[deploymentID]
	if !ok {
		t = &topic{subs: make(map[Subscriber]struct{})}
		h.topics[deploymentID] = t
	}
	t.subs[client] = struct{}{}
}

// Unregister removes a client. The topic itself stays until terminal GC so
// a reconnecting viewer does not race topic teardown.
func (h *Hub) Unregister(deploymentID string, client Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[deploymentID]; ok {
		delete(t.subs, client)
	}
}

// Broadcast fans payload out to every subscriber of the deployment's topic.
// Subscribers whose Send fails are disconnected.
func (h *Hub) Broadcast(deploymentID string, payload []byte) {
	h.mu.Lock()
	t, ok := h.topics[deploymentID]
	if !ok {
		t = &topic{subs: make(map[Subscriber]struct{})}
		h.topics[deploymentID] = t
	}
	subs := make([]Subscriber, 0, len(t.subs))
	for c := range t.subs {
		subs = append(subs, c)
	}
	h.mu.Unlock()

	var dropped []Subscriber
	for _, c := range subs {
		if err := c.Send(payload); err != nil {
			c.Close()
			dropped = append(dropped, c)
		}
	}
	if len(dropped) > 0 {
		h.mu.Lock()
		if t, ok := h.topics[deploymentID]; ok {
			for _, c := range dropped {
				delete(t.subs, c)
			}
		}
		h.mu.Unlock()
	}
}

// MarkTerminal flags a deployment's topic for collection after the grace
// period, provided no subscribers remain by then.
func (h *Hub) MarkTerminal(deploymentID string) {
	h.mu.Lock()
	t, ok := h.topics[deploymentID]
	if ok {
		t.terminal = true
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	time.AfterFunc(h.grace, func() { h.collect(deploymentID) })
}

func (h *Hub) collect(deploymentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[deploymentID]
	if !ok || !t.terminal {
		return
	}
	if len(t.subs) == 0 {
		delete(h.topics, deploymentID)
	}
	// Subscribers still attached: leave the topic; their disconnect paths
	// run Unregister and the next MarkTerminal-free state is harmless.
}

// Subscribers reports the current subscriber count for a deployment.
func (h *Hub) Subscribers(deploymentID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[deploymentID]; ok {
		return len(t.subs)
	}
	return 0
}

// Topics reports the number of live topics, for tests and metrics.
func (h *Hub) Topics() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics)
}
