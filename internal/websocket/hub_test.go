// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package websocket

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/soilsense/internal/logging"
	"github.com/tomtom215/soilsense/internal/models"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

// setupHub starts a hub that stops when the test ends.
func setupHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.RunWithContext(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}

func createTestClient(hub *Hub, buffer int) *Client {
	return &Client{id: clientIDCounter.Add(1), hub: hub, send: make(chan Message, buffer)}
}

// waitForClients polls until the hub reports want clients.
func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.GetClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d clients, got %d", want, hub.GetClientCount())
}

func testReading() models.ReadingEvent {
	return models.ReadingEvent{
		Latitude:  10.7769,
		Longitude: 106.7009,
		Record: models.SensorRecord{
			Timestamp:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
			Temperature: models.Float64(25.3),
		},
	}
}

func TestNewHub(t *testing.T) {
	hub := NewHub()

	checks := []struct {
		name  string
		check bool
	}{
		{"clients map", hub.clients != nil},
		{"broadcast channel", cap(hub.broadcast) == broadcastBuffer},
		{"Register channel", hub.Register != nil},
		{"Unregister channel", hub.Unregister != nil},
		{"empty clients", hub.GetClientCount() == 0},
	}
	for _, c := range checks {
		if !c.check {
			t.Errorf("%s not initialized correctly", c.name)
		}
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := setupHub(t)
	client := createTestClient(hub, 4)

	hub.Register <- client
	waitForClients(t, hub, 1)

	hub.Unregister <- client
	waitForClients(t, hub, 0)

	if _, ok := <-client.send; ok {
		t.Error("send channel should be closed after unregister")
	}

	// Unregistering an unknown client is a no-op.
	hub.Unregister <- createTestClient(hub, 1)
	waitForClients(t, hub, 0)
}

func TestHub_PublishReading(t *testing.T) {
	hub := setupHub(t)

	clients := []*Client{createTestClient(hub, 4), createTestClient(hub, 4), createTestClient(hub, 4)}
	for _, c := range clients {
		hub.Register <- c
	}
	waitForClients(t, hub, len(clients))

	hub.PublishReading(testReading())

	for i, c := range clients {
		select {
		case msg := <-c.send:
			if msg.Type != MessageTypeReading {
				t.Errorf("client %d: type = %q, want %q", i, msg.Type, MessageTypeReading)
			}
			event, ok := msg.Data.(models.ReadingEvent)
			if !ok {
				t.Fatalf("client %d: data is %T", i, msg.Data)
			}
			if event.Latitude != 10.7769 || event.Longitude != 106.7009 {
				t.Errorf("client %d: unexpected coordinates %v,%v", i, event.Latitude, event.Longitude)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %d did not receive the reading", i)
		}
	}
}

func TestHub_SlowClientDisconnected(t *testing.T) {
	hub := setupHub(t)

	fast := createTestClient(hub, 4)
	slow := createTestClient(hub, 0)
	hub.Register <- fast
	hub.Register <- slow
	waitForClients(t, hub, 2)

	hub.PublishReading(testReading())
	waitForClients(t, hub, 1)

	select {
	case <-fast.send:
	case <-time.After(time.Second):
		t.Fatal("fast client did not receive the reading")
	}
	if _, ok := <-slow.send; ok {
		t.Error("slow client channel should be closed")
	}
}

func TestHub_PublishWithoutRunningHubDoesNotBlock(t *testing.T) {
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastBuffer+10; i++ {
			hub.PublishReading(testReading())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PublishReading blocked on a full queue")
	}
	if len(hub.broadcast) != broadcastBuffer {
		t.Errorf("queued = %d, want %d", len(hub.broadcast), broadcastBuffer)
	}
}

func TestHub_RunWithContextShutdown(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- hub.RunWithContext(ctx) }()

	client := createTestClient(hub, 1)
	hub.Register <- client
	waitForClients(t, hub, 1)

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunWithContext() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	if hub.GetClientCount() != 0 {
		t.Errorf("clients after shutdown = %d", hub.GetClientCount())
	}
	if _, ok := <-client.send; ok {
		t.Error("client channel should be closed on shutdown")
	}
}

func TestGetShutdownReason(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	expired, cancel2 := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel2()

	tests := []struct {
		name string
		ctx  context.Context
		want ShutdownReason
	}{
		{"canceled", canceled, ShutdownReasonContextCanceled},
		{"deadline", expired, ShutdownReasonContextDeadline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getShutdownReason(tt.ctx); got != tt.want {
				t.Errorf("getShutdownReason() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMarshalMessage(t *testing.T) {
	data, err := MarshalMessage(Message{Type: MessageTypeReading, Data: testReading()})
	if err != nil {
		t.Fatalf("MarshalMessage() error = %v", err)
	}
	got := string(data)
	for _, want := range []string{
		`"type":"reading"`,
		`"latitude":10.7769`,
		`"longitude":106.7009`,
		`"temperature":25.3`,
		`"humidity":null`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("encoded message %s missing %s", got, want)
		}
	}
}

func TestHub_AddRemoveAfterStop(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.RunWithContext(ctx)
		close(done)
	}()

	client := createTestClient(hub, 1)
	if !hub.Add(client) {
		t.Fatal("Add() = false on a running hub")
	}
	waitForClients(t, hub, 1)

	cancel()
	<-done

	start := time.Now()
	if hub.Add(createTestClient(hub, 1)) {
		t.Error("Add() = true after the hub stopped")
	}
	if hub.Remove(client) {
		t.Error("Remove() = true after the hub stopped")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Add/Remove on a stopped hub took %v", elapsed)
	}
}

func TestHub_AddGivesUpWhenNotRunning(t *testing.T) {
	hub := NewHub()
	hub.lifecycleTimeout = 20 * time.Millisecond
	if hub.Add(createTestClient(hub, 1)) {
		t.Error("Add() = true with no hub loop running")
	}
}
