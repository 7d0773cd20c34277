// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/soilsense/internal/config"
	"github.com/tomtom215/soilsense/internal/logging"
	"github.com/tomtom215/soilsense/internal/models"
	syncpkg "github.com/tomtom215/soilsense/internal/sync"
	ws "github.com/tomtom215/soilsense/internal/websocket"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "error",
		Format: "console",
		Output: io.Discard,
	})
}

var errStoreDown = errors.New("store down")

// memoryStore is an in-memory SensorStore.
type memoryStore struct {
	mu        sync.Mutex
	locations []*models.SensorLocation
	failWith  error
	pingErr   error
	upserts   int
}

func (s *memoryStore) UpsertRecord(_ context.Context, lat, lng float64, rec models.SensorRecord) (*models.SensorLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	s.upserts++
	loc := s.find(lat, lng)
	if loc == nil {
		loc = &models.SensorLocation{ID: fmt.Sprintf("loc-%d", len(s.locations)+1), Latitude: lat, Longitude: lng}
		s.locations = append(s.locations, loc)
	}
	loc.Records = append(loc.Records, rec)
	out := *loc
	out.Records = append([]models.SensorRecord(nil), loc.Records...)
	return &out, nil
}

func (s *memoryStore) find(lat, lng float64) *models.SensorLocation {
	for _, loc := range s.locations {
		if loc.Latitude == lat && loc.Longitude == lng {
			return loc
		}
	}
	return nil
}

func (s *memoryStore) ListAll(context.Context) ([]models.SensorLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	out := make([]models.SensorLocation, 0, len(s.locations))
	for _, loc := range s.locations {
		out = append(out, *loc)
	}
	return out, nil
}

func (s *memoryStore) FindByCoordinates(_ context.Context, lat, lng float64, day *time.Time) (*models.SensorLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	loc := s.find(lat, lng)
	if loc == nil {
		return nil, models.ErrNotFound
	}
	out := *loc
	if day != nil {
		out.Records = models.FilterByDay(loc.Records, *day)
	}
	return &out, nil
}

func (s *memoryStore) FindByDate(_ context.Context, day time.Time) ([]models.SensorLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	out := []models.SensorLocation{}
	for _, loc := range s.locations {
		records := models.FilterByDay(loc.Records, day)
		if len(records) == 0 {
			continue
		}
		cp := *loc
		cp.Records = records
		out = append(out, cp)
	}
	return out, nil
}

func (s *memoryStore) Ping(context.Context) error { return s.pingErr }

func (s *memoryStore) seed(lat, lng float64, ts time.Time, temperature float64) {
	_, _ = s.UpsertRecord(context.Background(), lat, lng, models.SensorRecord{
		Timestamp:   ts,
		Temperature: models.Float64(temperature),
	})
}

type fakeFeed struct{ state syncpkg.FeedState }

func (f fakeFeed) State() syncpkg.FeedState { return f.state }

// newTestRouter wires a handler over store with rate limiting disabled.
func newTestRouter(t *testing.T, store SensorStore, hub *ws.Hub, feed FeedMonitor) http.Handler {
	t.Helper()
	cfg := &config.Config{
		Database: config.DatabaseConfig{Driver: config.DriverDuckDB},
		Security: config.SecurityConfig{CORSOrigins: []string{"*"}, RateLimitDisabled: true},
	}
	handler := NewHandler(store, hub, feed, cfg)
	handler.now = func() time.Time { return time.Date(2025, 11, 4, 8, 30, 0, 0, time.UTC) }
	return NewRouter(handler, ChiMiddlewareConfigFromSecurity(cfg.Security)).SetupChi()
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// decodeError returns the error code of an envelope response.
func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid error body %q: %v", rec.Body.String(), err)
	}
	if resp.Success || resp.Error == nil {
		t.Fatalf("expected error envelope, got %s", rec.Body.String())
	}
	return resp.Error.Code
}
