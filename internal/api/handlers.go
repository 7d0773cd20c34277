// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/soilsense/internal/config"
	"github.com/tomtom215/soilsense/internal/logging"
	"github.com/tomtom215/soilsense/internal/models"
	syncpkg "github.com/tomtom215/soilsense/internal/sync"
	ws "github.com/tomtom215/soilsense/internal/websocket"
)

// SensorStore is the location store as seen by the HTTP layer. Both the
// DuckDB and Badger backends satisfy it.
type SensorStore interface {
	UpsertRecord(ctx context.Context, latitude, longitude float64, rec models.SensorRecord) (*models.SensorLocation, error)
	ListAll(ctx context.Context) ([]models.SensorLocation, error)
	FindByCoordinates(ctx context.Context, latitude, longitude float64, day *time.Time) (*models.SensorLocation, error)
	FindByDate(ctx context.Context, day time.Time) ([]models.SensorLocation, error)
	Ping(ctx context.Context) error
}

// FeedMonitor reports the datahub subscriber state for the health summary.
type FeedMonitor interface {
	State() syncpkg.FeedState
}

// Handler holds the dependencies of every API endpoint.
type Handler struct {
	store     SensorStore
	wsHub     *ws.Hub
	feed      FeedMonitor
	config    *config.Config
	startTime time.Time
	now       func() time.Time
}

// NewHandler creates the API handler. hub and feed may be nil: the live
// stream then answers 503 and the health summary reports the feed disabled.
func NewHandler(store SensorStore, hub *ws.Hub, feed FeedMonitor, cfg *config.Config) *Handler {
	return &Handler{
		store:     store,
		wsHub:     hub,
		feed:      feed,
		config:    cfg,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// getUpgrader creates a WebSocket upgrader with origin checking and a
// handshake timeout.
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin accepts origins listed in security.cors_origins.
// Browsers always send Origin, so a missing header is rejected.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("WebSocket connection rejected: missing Origin header")
		return false
	}

	if h.config == nil {
		return true
	}

	for _, allowedOrigin := range h.config.Security.CORSOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			return true
		}
	}

	logging.Warn().Str("origin", origin).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}

// SensorStream upgrades the request and registers a live reading subscriber.
func (h *Handler) SensorStream(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		NewResponseWriter(w, r).ServiceUnavailable("Live stream unavailable")
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug().Err(err).Msg("WebSocket upgrade error")
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	if !h.wsHub.Add(client) {
		logging.Warn().Msg("WebSocket hub not running, closing subscriber")
		_ = conn.Close()
		return
	}
	client.Start()
}
