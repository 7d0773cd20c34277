// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package sync

import (
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/soilsense/internal/models"
)

func feedReading(tag, value, ts string) models.FeedReading {
	return models.FeedReading{
		TagName: tag,
		Value:   json.RawMessage(value),
		Ts:      json.RawMessage(ts),
	}
}

func TestAggregate_GroupsByTimestamp(t *testing.T) {
	readings := []models.FeedReading{
		feedReading("Latitude", `10.7769`, `"2024-05-01T10:00:00Z"`),
		feedReading("Longitude", `106.7009`, `"2024-05-01T10:00:00.000Z"`),
		feedReading("temperature", `25.3`, `1714557600000`),
		feedReading("Latitude", `10.8`, `"2024-05-01T10:00:01Z"`),
		feedReading("humidity", `40`, `"2024-05-01T10:00:01Z"`),
	}

	grouped, skipped := Aggregate(readings)
	if skipped != 0 {
		t.Errorf("skipped = %d, want 0", skipped)
	}
	if len(grouped) != 2 {
		t.Fatalf("len(grouped) = %d, want 2", len(grouped))
	}

	first, ok := grouped["2024-05-01T10:00:00.000Z"]
	if !ok {
		t.Fatalf("missing key for 10:00:00, got keys %v", keys(grouped))
	}
	lat, lng, err := first.Location()
	if err != nil {
		t.Fatalf("Location() error = %v", err)
	}
	if lat != 10.7769 || lng != 106.7009 {
		t.Errorf("Location() = (%v, %v)", lat, lng)
	}
	rec := first.SensorRecord()
	if rec.Temperature == nil || *rec.Temperature != 25.3 {
		t.Errorf("Temperature = %v, want 25.3", rec.Temperature)
	}
	if rec.Humidity != nil || rec.Conductivity != nil {
		t.Error("absent measurements must be nil")
	}
	if !rec.Timestamp.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("Timestamp = %v", rec.Timestamp)
	}

	second := grouped["2024-05-01T10:00:01.000Z"]
	if _, _, err := second.Location(); !errors.Is(err, ErrMissingCoordinate) {
		t.Errorf("Location() without longitude error = %v, want ErrMissingCoordinate", err)
	}
}

func TestAggregate_SkipsUnusableTimestamps(t *testing.T) {
	readings := []models.FeedReading{
		feedReading("Latitude", `1`, ``),
		feedReading("Latitude", `1`, `null`),
		feedReading("Latitude", `1`, `""`),
		feedReading("Latitude", `1`, `0`),
		feedReading("Latitude", `1`, `"0"`),
		feedReading("Latitude", `1`, `"yesterday"`),
		feedReading("Latitude", `1`, `true`),
		feedReading("", `1`, `"2024-05-01T10:00:00Z"`),
		feedReading("Latitude", `1`, `"2024-05-01T10:00:00Z"`),
	}

	grouped, skipped := Aggregate(readings)
	if skipped != 8 {
		t.Errorf("skipped = %d, want 8", skipped)
	}
	if len(grouped) != 1 {
		t.Errorf("len(grouped) = %d, want 1", len(grouped))
	}
}

func TestAggregate_LastValueWins(t *testing.T) {
	readings := []models.FeedReading{
		feedReading("Temperature", `20`, `"2024-05-01T10:00:00Z"`),
		feedReading("temperature", `21`, `"2024-05-01T10:00:00Z"`),
	}

	grouped, _ := Aggregate(readings)
	got := grouped["2024-05-01T10:00:00.000Z"].Float(TagTemperature)
	if got == nil || *got != 21 {
		t.Errorf("temperature = %v, want 21", got)
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	readings := []models.FeedReading{
		feedReading("Latitude", `"10.5"`, `"2024-05-01T10:00:00Z"`),
		feedReading("Longitude", `106.5`, `"2024-05-01T10:00:00Z"`),
		feedReading("humidity", `"55%"`, `"2024-05-01T10:00:00Z"`),
	}

	a, _ := Aggregate(readings)
	b, _ := Aggregate(append(append([]models.FeedReading{}, readings...), readings...))

	if len(a) != len(b) {
		t.Fatalf("len = %d vs %d", len(a), len(b))
	}
	for key, pa := range a {
		pb, ok := b[key]
		if !ok {
			t.Fatalf("key %s missing after duplicate aggregation", key)
		}
		ra, rb := pa.SensorRecord(), pb.SensorRecord()
		if *ra.Humidity != *rb.Humidity || !ra.Timestamp.Equal(rb.Timestamp) {
			t.Errorf("records differ: %+v vs %+v", ra, rb)
		}
	}
}

func TestPartialRecord_Float(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want *float64
	}{
		{"number", `25.3`, models.Float64(25.3)},
		{"negative number", `-3`, models.Float64(-3)},
		{"numeric string", `"25.3"`, models.Float64(25.3)},
		{"string with unit", `"25.3C"`, models.Float64(25.3)},
		{"leading whitespace", `"  7.5 "`, models.Float64(7.5)},
		{"exponent", `"1.5e2"`, models.Float64(150)},
		{"dangling exponent", `"12e"`, models.Float64(12)},
		{"leading dot", `".5"`, models.Float64(0.5)},
		{"null", `null`, nil},
		{"empty string", `""`, nil},
		{"not numeric", `"abc"`, nil},
		{"bool", `true`, nil},
		{"object", `{"v":1}`, nil},
		{"sign only", `"-"`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &PartialRecord{Values: map[string]json.RawMessage{"x": json.RawMessage(tt.raw)}}
			got := p.Float("x")
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("Float() = %v, want nil", *got)
			case tt.want != nil && got == nil:
				t.Errorf("Float() = nil, want %v", *tt.want)
			case tt.want != nil && *got != *tt.want:
				t.Errorf("Float() = %v, want %v", *got, *tt.want)
			}
		})
	}

	p := &PartialRecord{Values: map[string]json.RawMessage{}}
	if p.Float("missing") != nil {
		t.Error("Float() of absent key should be nil")
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"rfc3339", `"2024-05-01T10:00:00Z"`, true},
		{"rfc3339 offset", `"2024-05-01T17:00:00+07:00"`, true},
		{"millis", `"2024-05-01T10:00:00.000Z"`, true},
		{"zone-less", `"2024-05-01T10:00:00"`, true},
		{"space separated", `"2024-05-01 10:00:00"`, true},
		{"epoch millis number", `1714557600000`, true},
		{"epoch millis string", `"1714557600000"`, true},
		{"garbage", `"soon"`, false},
		{"zero", `0`, false},
		{"null", `null`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseTimestamp(json.RawMessage(tt.raw))
			if ok != tt.ok {
				t.Fatalf("parseTimestamp(%s) ok = %v, want %v", tt.raw, ok, tt.ok)
			}
			if ok && !got.Equal(want) {
				t.Errorf("parseTimestamp(%s) = %v, want %v", tt.raw, got, want)
			}
			if ok && got.Location() != time.UTC {
				t.Errorf("parseTimestamp(%s) location = %v, want UTC", tt.raw, got.Location())
			}
		})
	}
}

func TestSorted(t *testing.T) {
	readings := []models.FeedReading{
		feedReading("a", `1`, `"2024-05-01T10:00:02Z"`),
		feedReading("a", `1`, `"2024-05-01T10:00:00Z"`),
		feedReading("a", `1`, `"2024-05-01T10:00:01Z"`),
	}
	grouped, _ := Aggregate(readings)
	sorted := Sorted(grouped)

	if len(sorted) != 3 {
		t.Fatalf("len(Sorted) = %d, want 3", len(sorted))
	}
	for i := 1; i < len(sorted); i++ {
		if !sorted[i-1].Timestamp.Before(sorted[i].Timestamp) {
			t.Errorf("Sorted() out of order at %d", i)
		}
	}
}

func keys(m map[string]*PartialRecord) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
