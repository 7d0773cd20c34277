// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package models

import (
	"errors"
	"time"
)

// ErrNotFound is returned by location stores when no location matches.
// Backend packages re-export it so callers can test either name with errors.Is.
var ErrNotFound = errors.New("sensor location not found")

// SensorLocation is the per-coordinate document. At most one exists for each
// (latitude, longitude) pair; the pair never changes after creation.
type SensorLocation struct {
	ID        string         `json:"_id"`
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	Records   []SensorRecord `json:"records"`
}

// SensorRecord is one aggregated reading. Records are append-only and kept in
// insertion order. Missing measurements serialize as null, never omitted.
type SensorRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Humidity     *float64  `json:"humidity"`
	Conductivity *float64  `json:"conductivity"`
	Temperature  *float64  `json:"temperature"`
}

// LocationRecords is the body returned by the by-coordinate endpoints.
type LocationRecords struct {
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	Records   []SensorRecord `json:"records"`
}

// ReadingEvent is broadcast to live subscribers for every stored record.
type ReadingEvent struct {
	Latitude  float64      `json:"latitude"`
	Longitude float64      `json:"longitude"`
	Record    SensorRecord `json:"record"`
}

// Float64 returns a pointer to v. Handy for building records in code and tests.
func Float64(v float64) *float64 {
	return &v
}

// SameDay reports whether t falls on the UTC calendar day that starts at day.
func SameDay(t, day time.Time) bool {
	start := StartOfDay(day)
	t = t.UTC()
	return !t.Before(start) && t.Before(start.Add(24*time.Hour))
}

// StartOfDay truncates t to 00:00 UTC of its UTC date.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FilterByDay returns the records whose timestamp falls on day (UTC). The
// result is never nil so it encodes as [] rather than null.
func FilterByDay(records []SensorRecord, day time.Time) []SensorRecord {
	out := make([]SensorRecord, 0, len(records))
	for _, rec := range records {
		if SameDay(rec.Timestamp, day) {
			out = append(out, rec)
		}
	}
	return out
}
