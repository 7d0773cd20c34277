// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package api

import (
	"net/http"
	"time"
)

// HealthStatus is the body of GET /api/v1/health.
type HealthStatus struct {
	Status          string  `json:"status"` // healthy or degraded
	StoreConnected  bool    `json:"store_connected"`
	StoreDriver     string  `json:"store_driver,omitempty"`
	FeedEnabled     bool    `json:"feed_enabled"`
	FeedState       string  `json:"feed_state,omitempty"`
	LiveSubscribers int     `json:"live_subscribers"`
	Uptime          float64 `json:"uptime"`
}

// Health reports store connectivity and the feed state. The feed being down
// degrades the status but never fails the request.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	storeConnected := h.store != nil && h.store.Ping(r.Context()) == nil

	health := HealthStatus{
		Status:         "healthy",
		StoreConnected: storeConnected,
		Uptime:         time.Since(h.startTime).Seconds(),
	}
	if h.config != nil {
		health.StoreDriver = h.config.Database.Driver
	}
	if h.feed != nil {
		health.FeedEnabled = true
		health.FeedState = h.feed.State().String()
	}
	if h.wsHub != nil {
		health.LiveSubscribers = h.wsHub.GetClientCount()
	}

	if !storeConnected || (health.FeedEnabled && health.FeedState != "connected") {
		health.Status = "degraded"
	}

	NewResponseWriter(w, r).Success(health)
}

// HealthLive returns 200 while the process is alive, regardless of dependencies.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// HealthReady returns 200 only when the store answers a ping; 503 otherwise.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	storeConnected := h.store != nil && h.store.Ping(r.Context()) == nil

	statusCode := http.StatusOK
	if !storeConnected {
		statusCode = http.StatusServiceUnavailable
	}

	NewResponseWriter(w, r).Envelope(statusCode, storeConnected, map[string]interface{}{
		"store_connected": storeConnected,
		"ready_to_serve":  storeConnected,
		"uptime":          time.Since(h.startTime).Seconds(),
	})
}
