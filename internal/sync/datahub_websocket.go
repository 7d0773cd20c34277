// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

/*
datahub_websocket.go - DataHub real-time feed subscriber

Connects to the WISE-PaaS DataHub RealData WebSocket with a bearer token,
subscribes to the configured tags of one device and hands every inbound frame
to a FrameHandler. Any failure returns the subscriber to DISCONNECTED and a new
attempt starts after a fixed delay, indefinitely.

WebSocket Endpoint: wss://{datahub}/v1/RealData/ws
*/

package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/soilsense/internal/config"
	"github.com/tomtom215/soilsense/internal/logging"
	"github.com/tomtom215/soilsense/internal/metrics"
	"github.com/tomtom215/soilsense/internal/models"
)

// FeedState is the connection state of the subscriber.
type FeedState int32

const (
	StateDisconnected FeedState = iota
	StateAuthenticating
	StateConnected
)

func (s FeedState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

const (
	DefaultReconnectDelay   = 10 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// TokenSource supplies bearer tokens and accepts invalidation after the
// server rejects one.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// FrameHandler processes one inbound frame. It runs on the read goroutine, so
// frames are handled strictly one at a time.
type FrameHandler func(ctx context.Context, data []byte)

// FeedSubscriber maintains the single datahub feed connection.
type FeedSubscriber struct {
	wsURL            string
	subscription     models.SubscribeRequest
	tokens           TokenSource
	handle           FrameHandler
	reconnectDelay   time.Duration
	handshakeTimeout time.Duration

	// after is time.After unless replaced in tests
	after func(time.Duration) <-chan time.Time

	state atomic.Int32

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewFeedSubscriber creates a subscriber for the tags in cfg.
func NewFeedSubscriber(cfg *config.DatahubConfig, tokens TokenSource, handle FrameHandler) *FeedSubscriber {
	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	handshakeTimeout := cfg.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}

	return &FeedSubscriber{
		wsURL:            cfg.WSURL,
		subscription:     NewSubscribeRequest(cfg.NodeID, cfg.DeviceID, cfg.Tags),
		tokens:           tokens,
		handle:           handle,
		reconnectDelay:   reconnectDelay,
		handshakeTimeout: handshakeTimeout,
		after:            time.After,
	}
}

// NewSubscribeRequest builds the subscription for every tag of one device.
func NewSubscribeRequest(nodeID, deviceID string, tags []string) models.SubscribeRequest {
	req := models.SubscribeRequest{
		Topic:   models.RealDataTopic,
		Message: make([]models.TagSubscription, 0, len(tags)),
	}
	for _, tag := range tags {
		req.Message = append(req.Message, models.TagSubscription{
			NodeID:   nodeID,
			DeviceID: deviceID,
			TagName:  tag,
		})
	}
	return req
}

// SetTimer replaces the reconnect wait. Intended for tests.
func (s *FeedSubscriber) SetTimer(after func(time.Duration) <-chan time.Time) {
	s.after = after
}

// State returns the current connection state.
func (s *FeedSubscriber) State() FeedState {
	return FeedState(s.state.Load())
}

func (s *FeedSubscriber) setState(state FeedState) {
	s.state.Store(int32(state))
	metrics.FeedState.Set(float64(state))
}

// String implements fmt.Stringer for supervisor logging.
func (s *FeedSubscriber) String() string {
	return "datahub-feed"
}

// Serve runs the connect/read/reconnect cycle until ctx is canceled.
func (s *FeedSubscriber) Serve(ctx context.Context) error {
	defer s.setState(StateDisconnected)

	for {
		err := s.runOnce(ctx)
		s.setState(StateDisconnected)

		if ctx.Err() != nil {
			logging.Info().Msg("[datahub] Feed subscriber stopping")
			return ctx.Err()
		}

		logging.Warn().
			Err(err).
			Dur("retry_in", s.reconnectDelay).
			Msg("[datahub] Feed disconnected, reconnecting")

		select {
		case <-s.after(s.reconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runOnce performs one full connection attempt and blocks in the read loop
// until the connection fails. It always returns a non-nil error.
func (s *FeedSubscriber) runOnce(ctx context.Context) error {
	s.setState(StateAuthenticating)

	token, err := s.tokens.Token(ctx)
	if err != nil {
		metrics.FeedConnectAttempts.WithLabelValues("auth_failed").Inc()
		return fmt.Errorf("acquire datahub token: %w", err)
	}

	conn, err := s.dial(ctx, token)
	if err != nil {
		return err
	}
	defer s.closeConnection()

	// Unblock ReadMessage when the process shuts down.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.closeConnection()
		case <-done:
		}
	}()

	payload, err := json.Marshal(s.subscription)
	if err != nil {
		return fmt.Errorf("encode subscription: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		metrics.FeedConnectAttempts.WithLabelValues("subscribe_failed").Inc()
		return fmt.Errorf("send subscription: %w", err)
	}

	s.setState(StateConnected)
	metrics.FeedConnectAttempts.WithLabelValues("connected").Inc()
	logging.Info().
		Str("url", s.wsURL).
		Int("tags", len(s.subscription.Message)).
		Msg("[datahub] Feed connected and subscribed")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("feed closed by server: %w", err)
			}
			return fmt.Errorf("feed read: %w", err)
		}

		metrics.FeedFramesReceived.Inc()
		s.handle(ctx, data)
	}
}

// dial opens the WebSocket with the bearer token. A 401/403 handshake
// response invalidates the cached token.
func (s *FeedSubscriber) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: s.handshakeTimeout,
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, s.wsURL, header)
	if resp != nil && resp.Body != nil {
		if cerr := resp.Body.Close(); cerr != nil {
			logging.Debug().Err(cerr).Msg("Failed to close handshake response body")
		}
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			s.tokens.Invalidate()
			metrics.FeedConnectAttempts.WithLabelValues("auth_rejected").Inc()
			return nil, fmt.Errorf("%w: handshake rejected with status %d", ErrAuthentication, resp.StatusCode)
		}
		metrics.FeedConnectAttempts.WithLabelValues("dial_failed").Inc()
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	return conn, nil
}

// closeConnection safely closes the WebSocket connection. Safe to call more
// than once.
func (s *FeedSubscriber) closeConnection() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return
	}
	err := s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		logging.Debug().Err(err).Msg("Failed to send close message")
	}
	if err := s.conn.Close(); err != nil {
		logging.Debug().Err(err).Msg("Failed to close feed connection")
	}
	s.conn = nil
}
