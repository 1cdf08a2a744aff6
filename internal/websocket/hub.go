// Package websocket maintains the registry of live dashboard observers and
// fans measurement frames and alert notifications out to all of them.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/model"
)

var (
	observersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "substation_observers_connected",
		Help: "Currently registered observer connections",
	})
	observerSendDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "substation_observer_send_drops_total",
		Help: "Observers dropped because their outbound queue was full",
	})
)

// Hub owns the set of active observer connections. A single goroutine in Run
// serializes registry changes and fan-out, so Register/Deregister/Notify are
// safe from any goroutine and idempotent.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With("component", "broadcast_hub"),
	}
}

// Run processes registry changes and broadcasts until ctx is cancelled, then
// closes every connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			observersConnected.Set(0)
			h.logger.Info("broadcast hub stopped")
			return

		case client := <-h.register:
			if !h.clients[client] {
				h.clients[client] = true
				observersConnected.Set(float64(len(h.clients)))
				h.logger.Info("observer registered", "remote", client.remoteAddr())
			}

		case client := <-h.unregister:
			h.drop(client, "disconnected")

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// A full queue means the observer stopped keeping up;
					// drop it rather than stall delivery to the others.
					observerSendDrops.Inc()
					h.drop(client, "send queue full")
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client, reason string) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		observersConnected.Set(float64(len(h.clients)))
		h.logger.Info("observer deregistered", "remote", client.remoteAddr(), "reason", reason)
	}
}

// Register adds an observer connection. Idempotent.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Deregister removes an observer connection. Idempotent.
func (h *Hub) Deregister(client *Client) {
	h.unregister <- client
}

// Notify fans an alert notification out to every registered observer.
// Per-observer delivery order follows the order Notify was called.
func (h *Hub) Notify(n model.Notification) {
	message, err := json.Marshal(n)
	if err != nil {
		h.logger.Error("marshalling notification failed", "error", err)
		return
	}
	h.broadcast <- message
}

// BroadcastData pushes a live measurement frame to every observer.
func (h *Hub) BroadcastData(payload interface{}) {
	message, err := json.Marshal(map[string]interface{}{"type": "data", "payload": payload})
	if err != nil {
		h.logger.Error("marshalling data frame failed", "error", err)
		return
	}
	h.broadcast <- message
}
