// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

package websocket

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/cyclesync/internal/logging"
	"github.com/tomtom215/cyclesync/internal/metrics"
	"github.com/tomtom215/cyclesync/internal/models"
)

// Control events. Data events are named by EventFor.
const (
	EventPing = "ping"
	EventPong = "pong"
)

// EventFor returns the downstream event name of kind, e.g. /data/receipt.
func EventFor(kind models.Kind) string {
	return "/data/" + kind.String()
}

// Message is one frame sent to subscribers.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Hub fans forwarded envelopes out to every subscriber.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*Client]struct{}
	broadcast chan Message
	upgrader  websocket.Upgrader
}

// NewHub creates a hub. Call Serve to start delivering messages.
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*Client]struct{}),
		broadcast: make(chan Message, sendBuffer),
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  4096,
			HandshakeTimeout: 10 * time.Second,
			// Subscribers are services, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Forward queues payload for every subscriber under the event of kind. It
// never blocks; when the queue is full the message is dropped.
func (h *Hub) Forward(kind models.Kind, payload []byte) {
	event := EventFor(kind)
	select {
	case h.broadcast <- Message{Event: event, Data: payload}:
	default:
		logging.Warn().Str("event", event).Msg("Forward queue full, dropping message")
	}
}

// ServeWS upgrades the request and registers the subscriber.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Subscriber upgrade failed")
		return
	}
	client := NewClient(h, conn)
	h.add(client)
	client.Start()
}

// Serve delivers queued messages until ctx is done, then disconnects every
// subscriber. It satisfies suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		// Shutdown wins over a ready broadcast.
		select {
		case <-ctx.Done():
			n := h.closeAll()
			logging.Info().Str("component", "websocket-hub").Int("clients_closed", n).Msg("Websocket hub stopped")
			return ctx.Err()
		default:
		}

		select {
		case <-ctx.Done():
			continue
		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) String() string {
	return "websocket-hub"
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSConnections.Set(float64(n))
	logging.Info().Str("client_id", c.id).Int("total_clients", n).Msg("Subscriber connected")
}

// remove drops c and closes its send channel once.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		metrics.WSConnections.Set(float64(n))
		logging.Info().Str("client_id", c.id).Int("total_clients", n).Msg("Subscriber disconnected")
	}
}

// reply queues msg for c alone. The send channel is only closed under mu,
// so holding the read lock keeps the send safe.
func (h *Hub) reply(c *Client, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// sortedClients returns subscribers in connection order. Callers hold mu.
func (h *Hub) sortedClients() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].seq < clients[j].seq })
	return clients
}

// fanOut sends msg to every subscriber and disconnects those whose buffer
// is full.
func (h *Hub) fanOut(msg Message) {
	h.mu.Lock()
	var slow []*Client
	for _, c := range h.sortedClients() {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WSMessagesForwarded.WithLabelValues(msg.Event).Inc()
	if len(slow) > 0 {
		metrics.WSConnections.Set(float64(n))
		logging.Warn().Int("dropped", len(slow)).Msg("Disconnected slow subscribers")
	}
}

func (h *Hub) closeAll() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := h.sortedClients()
	for _, c := range clients {
		delete(h.clients, c)
		close(c.send)
	}
	metrics.WSConnections.Set(0)
	return len(clients)
}
