// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/soilsense/internal/logging"
	"github.com/tomtom215/soilsense/internal/metrics"
	"github.com/tomtom215/soilsense/internal/models"
)

const maxUpsertRetries = 3

// UpsertRecord appends rec to the location at (latitude, longitude), creating
// the location first if it does not exist. The returned document reflects the
// committed state including rec.
//
// Writes for one coordinate are serialized by a per-coordinate lock; writes
// for different coordinates proceed concurrently.
func (db *DB) UpsertRecord(ctx context.Context, latitude, longitude float64, rec models.SensorRecord) (*models.SensorLocation, error) {
	start := time.Now()
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	locationID, _, err := db.appendRecord(ctx, latitude, longitude, rec)
	if err != nil {
		metrics.RecordDBQuery(backendName, "upsert", time.Since(start), err)
		return nil, err
	}

	loc, err := db.loadLocation(ctx, locationID, nil)
	metrics.RecordDBQuery(backendName, "upsert", time.Since(start), err)
	return loc, err
}

// AppendRecord stores rec like UpsertRecord but returns only the record as
// persisted, without reading the location's history back.
func (db *DB) AppendRecord(ctx context.Context, latitude, longitude float64, rec models.SensorRecord) (models.SensorRecord, error) {
	start := time.Now()
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	_, stored, err := db.appendRecord(ctx, latitude, longitude, rec)
	metrics.RecordDBQuery(backendName, "append", time.Since(start), err)
	return stored, err
}

// appendRecord runs the upsert transaction under the coordinate lock,
// retrying conflicts. The returned record carries the stored precision.
func (db *DB) appendRecord(ctx context.Context, latitude, longitude float64, rec models.SensorRecord) (string, models.SensorRecord, error) {
	key := coordKey(latitude, longitude)

	mu := db.acquireCoordLock(key)
	defer db.releaseCoordLock(mu)

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	// TIMESTAMP columns hold microseconds.
	rec.Timestamp = time.UnixMicro(rec.Timestamp.UnixMicro()).UTC()

	var lastErr error
	for attempt := 0; attempt < maxUpsertRetries; attempt++ {
		locationID, err := db.doUpsertRecord(ctx, latitude, longitude, rec)
		if err == nil {
			return locationID, rec, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return "", rec, fmt.Errorf("operation timed out or canceled: %w", ctx.Err())
		}

		if isInternalError(err) {
			return "", rec, fmt.Errorf("duckdb internal error: %w", err)
		}

		if (isTransactionConflict(err) || isConstraintViolation(err)) && attempt < maxUpsertRetries-1 {
			metrics.DBUpsertRetries.WithLabelValues(backendName).Inc()
			logging.Debug().
				Err(err).
				Int("attempt", attempt+1).
				Str("coordinate", key).
				Msg("Retrying sensor record upsert after conflict")

			backoff := time.Millisecond * time.Duration(1<<uint(attempt)) // 1ms, 2ms, 4ms
			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
				return "", rec, ctx.Err()
			}
		}

		return "", rec, err
	}

	return "", rec, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// doUpsertRecord runs find-or-create and the record append in one transaction
// and returns the location id.
func (db *DB) doUpsertRecord(ctx context.Context, latitude, longitude float64, rec models.SensorRecord) (string, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sensor_locations (id, latitude, longitude, created_at)
		VALUES (?, ?, ?, make_timestamp(?))
		ON CONFLICT (latitude, longitude) DO NOTHING`,
		uuid.New().String(), latitude, longitude, time.Now().UTC().UnixMicro())
	if err != nil {
		return "", fmt.Errorf("failed to insert location: %w", err)
	}

	var locationID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM sensor_locations WHERE latitude = ? AND longitude = ?`,
		latitude, longitude).Scan(&locationID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve location id: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sensor_records (location_id, ts, humidity, conductivity, temperature)
		VALUES (?, make_timestamp(?), ?, ?, ?)`,
		locationID,
		rec.Timestamp.UTC().UnixMicro(),
		nullFloat(rec.Humidity),
		nullFloat(rec.Conductivity),
		nullFloat(rec.Temperature),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert sensor record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit sensor record: %w", err)
	}
	return locationID, nil
}

func (db *DB) acquireCoordLock(key string) *sync.Mutex {
	muInterface, _ := db.coordLocks.LoadOrStore(key, &sync.Mutex{})
	mu, ok := muInterface.(*sync.Mutex)
	if !ok {
		mu = &sync.Mutex{}
		db.coordLocks.Store(key, mu)
	}
	mu.Lock()
	return mu
}

func (db *DB) releaseCoordLock(mu *sync.Mutex) {
	mu.Unlock()
}

func coordKey(latitude, longitude float64) string {
	return strconv.FormatFloat(latitude, 'g', -1, 64) + ":" + strconv.FormatFloat(longitude, 'g', -1, 64)
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
