package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Message is the envelope pushed to every console browser.
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Hub fans events out to registered websocket clients. A client whose
// send buffer is full is dropped rather than slowing down the others.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	mu         sync.RWMutex
	sendBuffer int
	logger     *slog.Logger
	now        func() time.Time
	// welcome is sent to each new client, usually the current counter state.
	welcome func() any
	sent    uint64
	dropped uint64
}

func New(sendBuffer int, logger *slog.Logger) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		sendBuffer: sendBuffer,
		logger:     logger,
		now:        time.Now,
	}
}

// OnWelcome sets the snapshot sent to newly connected clients.
func (h *Hub) OnWelcome(fn func() any) {
	h.mu.Lock()
	h.welcome = fn
	h.mu.Unlock()
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			welcome := h.welcome
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Info("websocket client connected", "client_id", c.id, "clients", total)
			}
			if welcome != nil {
				if data, err := h.encode("welcome", welcome()); err == nil {
					select {
					case c.send <- data:
					default:
					}
				}
			}
		case c := <-h.unregister:
			h.remove(c)
		case msg := <-h.broadcast:
			var dead []*Client
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
					h.sent++
				default:
					dead = append(dead, c)
				}
			}
			h.mu.Unlock()
			for _, c := range dead {
				h.remove(c)
			}
		}
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.dropped++
	if h.logger != nil {
		h.logger.Info("websocket client disconnected", "client_id", c.id, "clients", len(h.clients))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) encode(kind string, data any) ([]byte, error) {
	return json.Marshal(Message{Type: kind, Timestamp: h.now().UTC(), Data: data})
}

// Publish queues an event for every client. It never blocks the caller;
// when the hub is saturated the event is dropped.
func (h *Hub) Publish(kind string, data any) {
	msg, err := h.encode(kind, data)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("websocket encode failed", "type", kind, "err", err)
		}
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		if h.logger != nil {
			h.logger.Warn("websocket broadcast queue full", "type", kind)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Stats() (sent, dropped uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sent, h.dropped
}
