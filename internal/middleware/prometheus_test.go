// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/soilsense/internal/metrics"
)

func TestPrometheusMetricsUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/sensordata/{latitude}/{longitude}/{date}", PrometheusMetrics(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	counter := metrics.APIRequestsTotal.WithLabelValues("GET", "/api/sensordata/{latitude}/{longitude}/{date}", "404")
	before := testutil.ToFloat64(counter)

	req := httptest.NewRequest(http.MethodGet, "/api/sensordata/10.7/106.7/2025-11-04", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("counter for route pattern increased by %v, want 1", got)
	}
}

func TestPrometheusMetricsWithoutRouter(t *testing.T) {
	counter := metrics.APIRequestsTotal.WithLabelValues("POST", unmatchedRoute, "201")
	before := testutil.ToFloat64(counter)

	handler := PrometheusMetrics(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/anything", nil))

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("unmatched counter increased by %v, want 1", got)
	}
}

func TestPrometheusMetricsDefaultStatus(t *testing.T) {
	handler := PrometheusMetrics(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	counter := metrics.APIRequestsTotal.WithLabelValues("GET", unmatchedRoute, "200")
	before := testutil.ToFloat64(counter)

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("implicit 200 not recorded, delta %v", got)
	}
}

func TestMetricsResponseWriterHijackUnsupported(t *testing.T) {
	rw := &metricsResponseWriter{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	if _, _, err := rw.Hijack(); err == nil {
		t.Error("Hijack() on a recorder should fail")
	}
}
