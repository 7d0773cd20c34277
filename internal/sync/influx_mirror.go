// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/tomtom215/soilsense/internal/config"
	"github.com/tomtom215/soilsense/internal/logging"
	"github.com/tomtom215/soilsense/internal/metrics"
	"github.com/tomtom215/soilsense/internal/models"
)

// Ensure InfluxMirror implements ReadingMirror
var _ ReadingMirror = (*InfluxMirror)(nil)

// Mirror queue defaults
const (
	DefaultMirrorWriteTimeout = 2 * time.Second
	DefaultMirrorQueueSize    = 1024
)

// ErrMirrorQueueFull is returned by WriteReading when the writer has fallen
// behind and the reading was dropped.
var ErrMirrorQueueFull = errors.New("influxdb mirror queue full")

// InfluxMirror writes each stored reading as one InfluxDB point. Coordinates
// are tags so a location's series can be selected directly.
//
// WriteReading only queues; RunWithContext drains the queue, bounding each
// write by the configured timeout.
type InfluxMirror struct {
	client       influxdb2.Client
	writeAPI     api.WriteAPIBlocking
	measurement  string
	writeTimeout time.Duration
	queue        chan models.ReadingEvent
}

// NewInfluxMirror creates a mirror for cfg. It does not contact the server;
// call Health to verify connectivity.
func NewInfluxMirror(cfg *config.InfluxDBConfig) *InfluxMirror {
	measurement := cfg.Measurement
	if measurement == "" {
		measurement = "sensor_data"
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultMirrorWriteTimeout
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultMirrorQueueSize
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxMirror{
		client:       client,
		writeAPI:     client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement:  measurement,
		writeTimeout: writeTimeout,
		queue:        make(chan models.ReadingEvent, queueSize),
	}
}

// WriteReading queues event for the writer goroutine. It never blocks.
func (m *InfluxMirror) WriteReading(_ context.Context, event models.ReadingEvent) error {
	select {
	case m.queue <- event:
		return nil
	default:
		return ErrMirrorQueueFull
	}
}

// RunWithContext writes queued readings until ctx is cancelled. Write
// failures are counted and logged; the reading is not retried.
func (m *InfluxMirror) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-m.queue:
			err := m.write(ctx, event)
			metrics.RecordMirrorWrite(err)
			if err != nil && ctx.Err() == nil {
				logging.Warn().
					Err(err).
					Float64("latitude", event.Latitude).
					Float64("longitude", event.Longitude).
					Msg("Failed to mirror reading")
			}
		}
	}
}

func (m *InfluxMirror) write(ctx context.Context, event models.ReadingEvent) error {
	ctx, cancel := context.WithTimeout(ctx, m.writeTimeout)
	defer cancel()

	if err := m.writeAPI.WritePoint(ctx, m.point(event)); err != nil {
		return fmt.Errorf("influxdb write: %w", err)
	}
	return nil
}

func (m *InfluxMirror) point(event models.ReadingEvent) *write.Point {
	tags := map[string]string{
		"latitude":  strconv.FormatFloat(event.Latitude, 'f', -1, 64),
		"longitude": strconv.FormatFloat(event.Longitude, 'f', -1, 64),
	}

	// Coordinates are repeated as fields so a point always has at least one field.
	fields := map[string]interface{}{
		"lat": event.Latitude,
		"lng": event.Longitude,
	}
	if v := event.Record.Humidity; v != nil {
		fields[TagHumidity] = *v
	}
	if v := event.Record.Conductivity; v != nil {
		fields[TagConductivity] = *v
	}
	if v := event.Record.Temperature; v != nil {
		fields[TagTemperature] = *v
	}

	return influxdb2.NewPoint(m.measurement, tags, fields, event.Record.Timestamp)
}

// Health checks that the InfluxDB server is reachable and healthy.
func (m *InfluxMirror) Health(ctx context.Context) error {
	health, err := m.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health: %w", err)
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("influxdb unhealthy: %s %s", health.Status, msg)
	}
	return nil
}

// Close releases the client's resources.
func (m *InfluxMirror) Close() {
	m.client.Close()
	logging.Debug().Msg("InfluxDB mirror closed")
}
