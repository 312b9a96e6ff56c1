package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/runscore/internal/domain"
)

// Message types
const (
	MessageTypeRankingUpdate = "ranking_update"
	MessageTypeSubscribe     = "subscribe"
	MessageTypeUnsubscribe   = "unsubscribe"
	MessageTypePing          = "ping"
	MessageTypePong          = "pong"
	MessageTypeError         = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Period    string      `json:"period,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// RankingUpdate carries a week's refreshed rankings for broadcast
type RankingUpdate struct {
	Period     string                `json:"period"`
	Entries    []domain.RankingEntry `json:"entries"`
	TotalUsers int64                 `json:"total_users"`
}

// Hub maintains the set of active clients and fans ranking updates out to
// the clients subscribed to the affected week.
type Hub struct {
	// Subscribers keyed by period key ("2006-01-02" of the week start)
	subscribers map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Outbound messages
	broadcast chan *Message

	// Subscription requests
	subscribe chan *subscriptionRequest

	// Unsubscription requests
	unsubscribe chan *subscriptionRequest

	mu sync.RWMutex

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client    *Client
	periodKey string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		subscribers: make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for key, clients := range h.subscribers {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.subscribers, key)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.subscribers[req.periodKey]; !ok {
				h.subscribers[req.periodKey] = make(map[*Client]bool)
			}
			h.subscribers[req.periodKey][req.client] = true
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "period", req.periodKey)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.subscribers[req.periodKey]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.subscribers, req.periodKey)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "period", req.periodKey)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to the subscribed clients
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	// A period-tagged message goes only to that week's subscribers.
	if message.Period != "" {
		if clients, ok := h.subscribers[message.Period]; ok {
			for client := range clients {
				select {
				case client.send <- data:
				default:
					// Client's buffer is full, skip
					h.logger.Warn("client buffer full, skipping", "client_id", client.id)
				}
			}
		}
	} else {
		for client := range h.allClients {
			select {
			case client.send <- data:
			default:
				h.logger.Warn("client buffer full, skipping", "client_id", client.id)
			}
		}
	}
}

// BroadcastRankingUpdate pushes the refreshed rankings of one week to its
// subscribers. Called after every rank rebuild.
func (h *Hub) BroadcastRankingUpdate(periodKey string, entries []domain.RankingEntry, totalUsers int64) {
	message := &Message{
		Type:   MessageTypeRankingUpdate,
		Period: periodKey,
		Data: RankingUpdate{
			Period:     periodKey,
			Entries:    entries,
			TotalUsers: totalUsers,
		},
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a week's subscriber set
func (h *Hub) Subscribe(client *Client, periodKey string) {
	h.subscribe <- &subscriptionRequest{
		client:    client,
		periodKey: periodKey,
	}
}

// Unsubscribe removes a client from a week's subscriber set
func (h *Hub) Unsubscribe(client *Client, periodKey string) {
	h.unsubscribe <- &subscriptionRequest{
		client:    client,
		periodKey: periodKey,
	}
}

// GetSubscriberCount returns the number of subscribers for a week
func (h *Hub) GetSubscriberCount(periodKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.subscribers[periodKey]; ok {
		return len(clients)
	}
	return 0
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
