// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package sync

import (
	"bytes"
	"context"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/soilsense/internal/logging"
	"github.com/tomtom215/soilsense/internal/metrics"
	"github.com/tomtom215/soilsense/internal/models"
)

// LocationWriter is the part of the location store the ingestor needs.
// AppendRecord returns the record as persisted, at the store's precision.
type LocationWriter interface {
	AppendRecord(ctx context.Context, latitude, longitude float64, rec models.SensorRecord) (models.SensorRecord, error)
}

// ReadingPublisher receives every reading after it has been stored.
type ReadingPublisher interface {
	PublishReading(event models.ReadingEvent)
}

// ReadingMirror copies stored readings to a secondary sink. WriteReading runs
// on the feed's read loop, so implementations must hand the reading off
// without waiting on the sink. Mirror failures never affect the primary store.
type ReadingMirror interface {
	WriteReading(ctx context.Context, event models.ReadingEvent) error
}

// IngestResult summarizes one batch.
type IngestResult struct {
	Stored             int
	SkippedReadings    int
	MissingCoordinates int
	Failed             int
}

// Ingestor turns feed frames into stored records: decode, aggregate by
// timestamp, drop records without coordinates, upsert the rest in timestamp
// order, then fan out to the publisher and mirror.
type Ingestor struct {
	store LocationWriter

	mu        sync.RWMutex
	publisher ReadingPublisher
	mirror    ReadingMirror
}

// NewIngestor creates an ingestor writing to store.
func NewIngestor(store LocationWriter) *Ingestor {
	return &Ingestor{store: store}
}

// SetPublisher registers the live broadcast target. nil disables it.
func (i *Ingestor) SetPublisher(p ReadingPublisher) {
	i.mu.Lock()
	i.publisher = p
	i.mu.Unlock()
}

// SetMirror registers the secondary sink. nil disables it.
func (i *Ingestor) SetMirror(m ReadingMirror) {
	i.mu.Lock()
	i.mirror = m
	i.mu.Unlock()
}

// HandleFrame decodes one raw feed frame and ingests its readings. Malformed
// frames are logged and discarded.
func (i *Ingestor) HandleFrame(ctx context.Context, data []byte) {
	readings, reason, err := DecodeFrame(data)
	if reason != "" {
		metrics.FeedFramesDiscarded.WithLabelValues(reason).Inc()
		if err != nil {
			logging.Warn().Err(err).Int("bytes", len(data)).Msg("Discarding unparseable datahub frame")
		} else {
			logging.Debug().Str("reason", reason).Msg("Ignoring datahub frame without readings")
		}
		return
	}
	i.Ingest(ctx, readings)
}

// Frame discard reasons
const (
	DiscardParseError = "parse_error"
	DiscardEmpty      = "empty"
	DiscardNotArray   = "not_array"
)

// DecodeFrame extracts the readings from {"message":[...]}. A non-empty
// reason means the frame carries nothing to ingest; err is set only when the
// frame is not valid JSON of the expected shape.
func DecodeFrame(data []byte) ([]models.FeedReading, string, error) {
	var msg models.FeedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, DiscardParseError, err
	}

	payload := bytes.TrimSpace(msg.Message)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return nil, DiscardEmpty, nil
	}
	if payload[0] != '[' {
		return nil, DiscardNotArray, nil
	}

	var readings []models.FeedReading
	if err := json.Unmarshal(payload, &readings); err != nil {
		return nil, DiscardParseError, err
	}
	if len(readings) == 0 {
		return nil, DiscardEmpty, nil
	}
	return readings, "", nil
}

// Ingest persists a batch of readings. Persistence failures drop the affected
// record and the batch continues.
func (i *Ingestor) Ingest(ctx context.Context, readings []models.FeedReading) IngestResult {
	var result IngestResult

	grouped, skipped := Aggregate(readings)
	result.SkippedReadings = skipped
	metrics.RecordFeedDrop(metrics.DropMissingTimestamp, skipped)

	i.mu.RLock()
	publisher, mirror := i.publisher, i.mirror
	i.mu.RUnlock()

	for _, partial := range Sorted(grouped) {
		latitude, longitude, err := partial.Location()
		if err != nil {
			result.MissingCoordinates++
			metrics.RecordFeedDrop(metrics.DropMissingCoordinate, 1)
			logging.Debug().
				Time("timestamp", partial.Timestamp).
				Int("tags", len(partial.Values)).
				Msg("Dropping datahub record without coordinates")
			continue
		}

		rec, err := i.store.AppendRecord(ctx, latitude, longitude, partial.SensorRecord())
		if err != nil {
			result.Failed++
			metrics.RecordFeedDrop(metrics.DropPersistFailed, 1)
			logging.Error().
				Err(err).
				Float64("latitude", latitude).
				Float64("longitude", longitude).
				Time("timestamp", rec.Timestamp).
				Msg("Failed to store datahub reading")
			continue
		}

		result.Stored++
		metrics.FeedRecordsStored.Inc()
		logging.Debug().
			Float64("latitude", latitude).
			Float64("longitude", longitude).
			Time("timestamp", rec.Timestamp).
			Msg("Stored datahub reading")

		event := models.ReadingEvent{Latitude: latitude, Longitude: longitude, Record: rec}
		if publisher != nil {
			publisher.PublishReading(event)
		}
		if mirror != nil {
			if err := mirror.WriteReading(ctx, event); err != nil {
				metrics.RecordMirrorWrite(err)
				logging.Warn().Err(err).Msg("Failed to queue reading for mirror")
			}
		}
	}

	return result
}
