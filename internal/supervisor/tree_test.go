// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

// MockService counts starts and can fail a fixed number of times before
// settling into a normal blocking run.
type MockService struct {
	name     string
	failures int32
	starts   atomic.Int32
	started  chan struct{}
}

func newMockService(name string, failures int32) *MockService {
	return &MockService{name: name, failures: failures, started: make(chan struct{}, 16)}
}

func (m *MockService) Serve(ctx context.Context) error {
	n := m.starts.Add(1)
	select {
	case m.started <- struct{}{}:
	default:
	}
	if n <= m.failures {
		return errors.New("simulated crash")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *MockService) String() string { return m.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 10,
		FailureDecay:     1,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	}
}

func waitStarts(t *testing.T, svc *MockService, want int32) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for svc.starts.Load() < want {
		select {
		case <-svc.started:
		case <-deadline:
			t.Fatalf("%s: starts = %d, want >= %d", svc.name, svc.starts.Load(), want)
		}
	}
}

func TestNewSupervisorTreeDefaults(t *testing.T) {
	tests := []struct {
		name   string
		config TreeConfig
		want   TreeConfig
	}{
		{"zero config", TreeConfig{}, DefaultTreeConfig()},
		{
			"explicit values kept",
			TreeConfig{FailureThreshold: 2, FailureDecay: 5, FailureBackoff: time.Second, ShutdownTimeout: 3 * time.Second},
			TreeConfig{FailureThreshold: 2, FailureDecay: 5, FailureBackoff: time.Second, ShutdownTimeout: 3 * time.Second},
		},
		{
			"partial config",
			TreeConfig{FailureBackoff: time.Second},
			TreeConfig{FailureThreshold: 5, FailureDecay: 30, FailureBackoff: time.Second, ShutdownTimeout: 10 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, err := NewSupervisorTree(testLogger(), tt.config)
			if err != nil {
				t.Fatalf("NewSupervisorTree: %v", err)
			}
			if got := tree.Config(); got != tt.want {
				t.Errorf("Config() = %+v, want %+v", got, tt.want)
			}
			if tree.Root() == nil {
				t.Error("Root() is nil")
			}
		})
	}
}

func TestSupervisorTreeRunsEveryLayer(t *testing.T) {
	tree, err := NewSupervisorTree(testLogger(), fastConfig())
	if err != nil {
		t.Fatalf("NewSupervisorTree: %v", err)
	}

	gc := newMockService("store-gc", 0)
	hub := newMockService("websocket-hub", 0)
	httpSrv := newMockService("http-server", 0)
	tree.AddDataService(gc)
	tree.AddMessagingService(hub)
	tree.AddAPIService(httpSrv)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	for _, svc := range []*MockService{gc, hub, httpSrv} {
		waitStarts(t, svc, 1)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}

	report, err := tree.UnstoppedServiceReport()
	if err != nil {
		t.Fatalf("UnstoppedServiceReport: %v", err)
	}
	if len(report) != 0 {
		t.Errorf("unstopped services: %v", report)
	}
}

func TestSupervisorTreeRestartsCrashedService(t *testing.T) {
	tree, err := NewSupervisorTree(testLogger(), fastConfig())
	if err != nil {
		t.Fatalf("NewSupervisorTree: %v", err)
	}

	feed := newMockService("datahub-feed", 2)
	httpSrv := newMockService("http-server", 0)
	tree.AddMessagingService(feed)
	tree.AddAPIService(httpSrv)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	waitStarts(t, feed, 3)
	waitStarts(t, httpSrv, 1)

	if got := httpSrv.starts.Load(); got != 1 {
		t.Errorf("http-server restarted %d times, crashes must stay inside their layer", got-1)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}
}
