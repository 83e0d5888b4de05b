// Package notify fans out conversation events to connected agent
// dashboards over WebSocket. Delivery is best-effort: a client that
// cannot keep up is dropped rather than allowed to stall the rest.
package notify

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Event types pushed to dashboards.
const (
	EventConversationCreated  = "conversation_created"
	EventMessageCreated       = "message_created"
	EventConversationAssigned = "conversation_assigned"
)

// Event is the envelope every WebSocket frame carries.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type companyEvent struct {
	companyID int64
	event     *Event
}

// Hub maintains the set of active WebSocket clients, keyed by company, and
// broadcasts events to a company's clients only.
type Hub struct {
	clients    map[int64]map[*Client]bool
	broadcast  chan companyEvent
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients:    make(map[int64]map[*Client]bool),
		broadcast:  make(chan companyEvent, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     log.With(slog.String("service", "notify")),
	}
}

// Run starts the hub's event loop. Call in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			group := h.clients[client.companyID]
			if group == nil {
				group = make(map[*Client]bool)
				h.clients[client.companyID] = group
			}
			group[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if group, ok := h.clients[client.companyID]; ok {
				if _, ok := group[client]; ok {
					delete(group, client)
					close(client.send)
				}
				if len(group) == 0 {
					delete(h.clients, client.companyID)
				}
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			data, err := json.Marshal(ev.event)
			if err != nil {
				continue
			}
			h.mu.Lock()
			for client := range h.clients[ev.companyID] {
				select {
				case client.send <- data:
				default:
					// Slow consumer, drop it.
					close(client.send)
					delete(h.clients[ev.companyID], client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues an event for every client of the given company. Never
// blocks the caller: when the hub's queue is full the event is dropped and
// logged.
func (h *Hub) Broadcast(companyID int64, eventType string, data any) {
	select {
	case h.broadcast <- companyEvent{companyID: companyID, event: &Event{Type: eventType, Data: data}}:
	default:
		h.logger.Warn("notification queue full, event dropped",
			slog.Int64("company_id", companyID),
			slog.String("type", eventType))
	}
}

// ClientCount reports the number of connected clients for a company.
func (h *Hub) ClientCount(companyID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[companyID])
}
