// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package database

import (
	"context"
	"fmt"
)

// The UNIQUE constraint on (latitude, longitude) is what guarantees one
// location per coordinate pair; the seq columns give stable insertion order.
var schemaStatements = []string{
	`CREATE SEQUENCE IF NOT EXISTS sensor_locations_seq START 1`,
	`CREATE TABLE IF NOT EXISTS sensor_locations (
		id VARCHAR PRIMARY KEY,
		seq BIGINT NOT NULL DEFAULT nextval('sensor_locations_seq'),
		latitude DOUBLE NOT NULL,
		longitude DOUBLE NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (latitude, longitude)
	)`,
	`CREATE SEQUENCE IF NOT EXISTS sensor_records_seq START 1`,
	`CREATE TABLE IF NOT EXISTS sensor_records (
		seq BIGINT PRIMARY KEY DEFAULT nextval('sensor_records_seq'),
		location_id VARCHAR NOT NULL,
		ts TIMESTAMP NOT NULL,
		humidity DOUBLE,
		conductivity DOUBLE,
		temperature DOUBLE
	)`,
}

var indexStatements = []string{
	`CREATE INDEX IF NOT EXISTS idx_sensor_records_location ON sensor_records(location_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sensor_records_ts ON sensor_records(ts)`,
}

func (db *DB) createTables(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

func (db *DB) createIndexes(ctx context.Context) error {
	for _, stmt := range indexStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
