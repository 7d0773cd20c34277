// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/soilsense/internal/logging"
	"github.com/tomtom215/soilsense/internal/metrics"
	"github.com/tomtom215/soilsense/internal/models"
)

// ShutdownReason identifies why the hub stopped.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled is the normal graceful path (SIGTERM).
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline means the parent context timed out.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Message types for WebSocket communication
const (
	MessageTypeReading = "reading"
	MessageTypePing    = "ping"
	MessageTypePong    = "pong"
)

// broadcastBuffer bounds queued messages; a full queue drops new readings.
const broadcastBuffer = 256

// lifecycleTimeout bounds Add and Remove while the hub is between runs.
const lifecycleTimeout = 5 * time.Second

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of active clients and broadcasts stored readings to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex

	// stopped is closed when the current run returns. nil before the first run.
	stopped          chan struct{}
	lifecycleTimeout time.Duration
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, broadcastBuffer),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),

		lifecycleTimeout: lifecycleTimeout,
	}
}

// RunWithContext processes registrations and broadcasts until ctx is canceled,
// then closes every client and returns ctx.Err(). It is the suture Serve body.
//
// Shutdown is checked first, then client lifecycle events, then broadcasts, so
// a client registered before a message is queued always receives it.
func (h *Hub) RunWithContext(ctx context.Context) error {
	stopped := make(chan struct{})
	h.mu.Lock()
	h.stopped = stopped
	h.mu.Unlock()
	defer close(stopped)

	for {
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.register(client)
			continue
		case client := <-h.Unregister:
			h.unregister(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.unregister(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

// Add registers client with the running hub. It reports false when the hub
// has stopped or does not take the client in time.
func (h *Hub) Add(client *Client) bool {
	return h.send(h.Register, client)
}

// Remove unregisters client. It gives up once the hub has stopped, since
// shutdown already closed every client.
func (h *Hub) Remove(client *Client) bool {
	return h.send(h.Unregister, client)
}

func (h *Hub) send(ch chan<- *Client, client *Client) bool {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()

	timer := time.NewTimer(h.lifecycleTimeout)
	defer timer.Stop()

	select {
	case ch <- client:
		return true
	case <-stopped:
		return false
	case <-timer.C:
		return false
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

// logGracefulShutdown closes all clients and logs why the hub stopped.
// ctx.Err() is not logged as an error: cancellation is the expected exit.
func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	if ctx.Err() == context.DeadlineExceeded {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}

// sortedClients returns the clients in connection order. Caller holds h.mu.
func (h *Hub) sortedClients() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	return clients
}

// broadcastToClients delivers a message to every client in connection order.
// Clients whose send buffer is full are disconnected.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var toRemove []*Client
	for _, client := range h.sortedClients() {
		select {
		case client.send <- message:
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
		metrics.WSErrors.WithLabelValues("slow_consumer").Inc()
	}
	if len(toRemove) > 0 {
		metrics.WSConnections.Set(float64(len(h.clients)))
		logging.Warn().Int("dropped_clients", len(toRemove)).Msg("disconnected slow websocket clients")
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.sortedClients() {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WSConnections.Set(0)
}

// PublishReading queues a stored reading for every connected client. It never
// blocks the ingestion path: when the queue is full the message is dropped.
func (h *Hub) PublishReading(event models.ReadingEvent) {
	message := Message{
		Type: MessageTypeReading,
		Data: event,
	}

	select {
	case h.broadcast <- message:
	default:
		metrics.WSErrors.WithLabelValues("broadcast_full").Inc()
		logging.Warn().Msg("broadcast channel full, dropping reading message")
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// MarshalMessage converts a message to JSON
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
