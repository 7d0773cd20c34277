// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package websocket

import (
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/soilsense/internal/logging"
	"github.com/tomtom215/soilsense/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024 // clients only send pings
	sendBuffer     = 256
)

// clientIDCounter gives clients monotonically increasing IDs so broadcasts
// iterate in connection order.
var clientIDCounter atomic.Uint64

// Client is one live subscriber. The hub owns send and closes it on
// unregister; writePump then sends a close frame.
type Client struct {
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	send chan Message

	// pong is never closed: readPump may still be running after the hub
	// has closed send.
	pong chan struct{}
}

// NewClient creates a new Client with a unique ID
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		conn: conn,
		send: make(chan Message, sendBuffer),
		pong: make(chan struct{}, 1),
	}
}

// ID returns the client's connection-order identifier
func (c *Client) ID() uint64 {
	return c.id
}

// readPump answers pings and detects disconnects. Subscribers have nothing
// else to say.
func (c *Client) readPump() {
	defer func() {
		c.hub.Remove(c)
		_ = c.conn.Close()
	}()

	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(extend)
	if err := extend(""); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				metrics.WSErrors.WithLabelValues("unexpected_close").Inc()
				logging.Debug().Err(err).Msg("unexpected websocket close error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == MessageTypePing {
			select {
			case c.pong <- struct{}{}:
			default:
			}
		}
	}
}

// write sends one frame under the write deadline.
func (c *Client) write(messageType int, payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, payload)
}

// writePump is the only writer on the connection. It drains send until the
// hub closes it, and pings on an idle timer.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				_ = c.write(websocket.CloseMessage, []byte{})
				return
			}

			payload, err := MarshalMessage(message)
			if err != nil {
				metrics.WSErrors.WithLabelValues("marshal").Inc()
				logging.Error().Err(err).Str("type", message.Type).Msg("failed to encode websocket message")
				continue
			}
			if err := c.write(websocket.TextMessage, payload); err != nil {
				metrics.WSErrors.WithLabelValues("write").Inc()
				logging.Debug().Err(err).Uint64("client", c.id).Msg("websocket write failed")
				return
			}
			metrics.WSMessagesSent.Inc()

		case <-c.pong:
			payload, _ := MarshalMessage(Message{Type: MessageTypePong})
			if err := c.write(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start launches the pumps. Call after the client is registered.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
