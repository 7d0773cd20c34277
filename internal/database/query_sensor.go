// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/soilsense/internal/metrics"
	"github.com/tomtom215/soilsense/internal/models"
)

// Timestamps cross the driver boundary as epoch microseconds so no
// timezone-aware conversion is needed.
const locationRecordColumns = `
	l.id, l.latitude, l.longitude,
	epoch_us(r.ts), r.humidity, r.conductivity, r.temperature`

// ListAll returns every location in creation order with all of its records.
func (db *DB) ListAll(ctx context.Context) ([]models.SensorLocation, error) {
	start := time.Now()
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	query := `SELECT ` + locationRecordColumns + `
		FROM sensor_locations l
		LEFT JOIN sensor_records r ON r.location_id = l.id
		ORDER BY l.seq, r.seq`

	locations, err := db.queryLocations(ctx, query)
	metrics.RecordDBQuery(backendName, "list_all", time.Since(start), err)
	return locations, err
}

// FindByCoordinates returns the location at exactly (latitude, longitude).
// When day is set, only records on that UTC date are included.
// Returns ErrNotFound when no location exists.
func (db *DB) FindByCoordinates(ctx context.Context, latitude, longitude float64, day *time.Time) (*models.SensorLocation, error) {
	start := time.Now()
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	var locationID string
	err := db.conn.QueryRowContext(ctx,
		`SELECT id FROM sensor_locations WHERE latitude = ? AND longitude = ?`,
		latitude, longitude).Scan(&locationID)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordDBQuery(backendName, "find_by_coordinates", time.Since(start), nil)
		return nil, ErrNotFound
	}
	if err != nil {
		err = fmt.Errorf("failed to query location: %w", err)
		metrics.RecordDBQuery(backendName, "find_by_coordinates", time.Since(start), err)
		return nil, err
	}

	loc, err := db.loadLocation(ctx, locationID, day)
	metrics.RecordDBQuery(backendName, "find_by_coordinates", time.Since(start), err)
	return loc, err
}

// FindByDate returns the locations holding at least one record on the UTC
// date of day. Each location carries only its records from that date.
func (db *DB) FindByDate(ctx context.Context, day time.Time) ([]models.SensorLocation, error) {
	start := time.Now()
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	from := models.StartOfDay(day)
	query := `SELECT ` + locationRecordColumns + `
		FROM sensor_locations l
		JOIN sensor_records r ON r.location_id = l.id
		WHERE r.ts >= make_timestamp(?) AND r.ts < make_timestamp(?)
		ORDER BY l.seq, r.seq`

	locations, err := db.queryLocations(ctx, query, from.UnixMicro(), from.Add(24*time.Hour).UnixMicro())
	metrics.RecordDBQuery(backendName, "find_by_date", time.Since(start), err)
	return locations, err
}

// loadLocation reads one location and its records, optionally restricted to a day.
func (db *DB) loadLocation(ctx context.Context, locationID string, day *time.Time) (*models.SensorLocation, error) {
	query := `SELECT ` + locationRecordColumns + `
		FROM sensor_locations l
		LEFT JOIN sensor_records r ON r.location_id = l.id`
	args := []interface{}{locationID}

	if day != nil {
		from := models.StartOfDay(*day)
		query += ` AND r.ts >= make_timestamp(?) AND r.ts < make_timestamp(?)`
		args = []interface{}{from.UnixMicro(), from.Add(24 * time.Hour).UnixMicro(), locationID}
	}
	query += ` WHERE l.id = ? ORDER BY r.seq`

	locations, err := db.queryLocations(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(locations) == 0 {
		return nil, ErrNotFound
	}
	return &locations[0], nil
}

// queryLocations folds joined location/record rows into documents. Rows must
// be ordered so that all rows of one location are adjacent.
func (db *DB) queryLocations(ctx context.Context, query string, args ...interface{}) ([]models.SensorLocation, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor locations: %w", err)
	}
	defer rows.Close()

	locations := make([]models.SensorLocation, 0)
	for rows.Next() {
		var (
			id                                  string
			latitude, longitude                 float64
			tsMicros                            sql.NullInt64
			humidity, conductivity, temperature sql.NullFloat64
		)
		if err := rows.Scan(&id, &latitude, &longitude, &tsMicros, &humidity, &conductivity, &temperature); err != nil {
			return nil, fmt.Errorf("failed to scan sensor location: %w", err)
		}

		if n := len(locations); n == 0 || locations[n-1].ID != id {
			locations = append(locations, models.SensorLocation{
				ID:        id,
				Latitude:  latitude,
				Longitude: longitude,
				Records:   make([]models.SensorRecord, 0),
			})
		}

		if !tsMicros.Valid {
			continue
		}
		loc := &locations[len(locations)-1]
		loc.Records = append(loc.Records, models.SensorRecord{
			Timestamp:    time.UnixMicro(tsMicros.Int64).UTC(),
			Humidity:     floatPtr(humidity),
			Conductivity: floatPtr(conductivity),
			Temperature:  floatPtr(temperature),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sensor locations: %w", err)
	}
	return locations, nil
}
