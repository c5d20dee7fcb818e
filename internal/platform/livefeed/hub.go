// Package livefeed pushes committed domain events to connected staff
// dashboards over WebSockets. Clients subscribe to topics ("service",
// "request", "test", "assessment", "notice") and receive every event whose
// type starts with that topic.
package livefeed

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/clinicsuite/clinic/internal/platform/events"
)

// sendBuffer is the per-client queue length. Events for a client whose queue
// is full are dropped.
const sendBuffer = 64

// ClientMessage is an inbound subscription change.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client is one connected dashboard.
type Client struct {
	ID     string
	UserID string
	Send   chan []byte

	topics map[string]struct{}
}

func NewClient(id, userID string, topics []string) *Client {
	c := &Client{ID: id, UserID: userID, Send: make(chan []byte, sendBuffer), topics: make(map[string]struct{})}
	for _, t := range topics {
		c.topics[t] = struct{}{}
	}
	return c
}

// Hub tracks clients by topic. It implements events.Publisher so it can sit
// next to the Kafka or log publisher in an events.Fanout.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> subscribers
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "livefeed").Logger(),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[c] = struct{}{}
	for t := range c.topics {
		h.addLocked(c, t)
	}
}

// Unregister drops the client from every topic and closes its Send channel.
// Calling it twice is harmless.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[c]; !ok {
		return
	}
	for t := range c.topics {
		h.removeLocked(c, t)
	}
	delete(h.all, c)
	close(c.Send)
}

func (h *Hub) addLocked(c *Client, topic string) {
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][c] = struct{}{}
	c.topics[topic] = struct{}{}
}

func (h *Hub) removeLocked(c *Client, topic string) {
	if subs, ok := h.clients[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.clients, topic)
		}
	}
	delete(c.topics, topic)
}

// Apply handles a subscribe or unsubscribe message. Unknown actions are
// ignored.
func (h *Hub) Apply(c *Client, msg ClientMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[c]; !ok {
		return
	}
	for _, t := range msg.Topics {
		switch msg.Action {
		case "subscribe":
			h.addLocked(c, t)
		case "unsubscribe":
			h.removeLocked(c, t)
		}
	}
}

// Publish sends ev to the subscribers of its topic. It never blocks on a slow
// client.
func (h *Hub) Publish(_ context.Context, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[ev.Topic()] {
		select {
		case c.Send <- data:
		default:
			h.logger.Warn().Str("client_id", c.ID).Str("event_type", ev.Type).Msg("client queue full, event dropped")
		}
	}
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}
