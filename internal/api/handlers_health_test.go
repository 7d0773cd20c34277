// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package api

import (
	"net/http"
	"testing"

	"github.com/goccy/go-json"

	syncpkg "github.com/tomtom215/soilsense/internal/sync"
)

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
	}{
		{"store reachable", nil, http.StatusOK},
		{"store down", errStoreDown, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, &memoryStore{pingErr: tt.pingErr}, nil, nil)
			rec := doRequest(t, router, http.MethodGet, "/api/v1/health/ready", "")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestHealthLive(t *testing.T) {
	router := newTestRouter(t, &memoryStore{pingErr: errStoreDown}, nil, nil)
	rec := doRequest(t, router, http.MethodGet, "/api/v1/health/live", "")
	if rec.Code != http.StatusOK {
		t.Errorf("liveness must not depend on the store, got %d", rec.Code)
	}
}

func TestHealthSummary(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		feed       FeedMonitor
		wantStatus string
		wantFeed   string
	}{
		{"feed disabled", nil, nil, "healthy", ""},
		{"feed connected", nil, fakeFeed{syncpkg.StateConnected}, "healthy", "connected"},
		{"feed reconnecting", nil, fakeFeed{syncpkg.StateDisconnected}, "degraded", "disconnected"},
		{"store down", errStoreDown, nil, "degraded", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, &memoryStore{pingErr: tt.pingErr}, nil, tt.feed)
			rec := doRequest(t, router, http.MethodGet, "/api/v1/health", "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}

			var resp struct {
				Success bool         `json:"success"`
				Data    HealthStatus `json:"data"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Data.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Data.Status, tt.wantStatus)
			}
			if resp.Data.FeedState != tt.wantFeed {
				t.Errorf("feed_state = %q, want %q", resp.Data.FeedState, tt.wantFeed)
			}
			if resp.Data.StoreDriver != "duckdb" {
				t.Errorf("store_driver = %q", resp.Data.StoreDriver)
			}
		})
	}
}
