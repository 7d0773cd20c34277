// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package sync

import (
	"bytes"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/soilsense/internal/models"
)

// TimestampKeyLayout is the canonical form readings are grouped by:
// UTC with millisecond precision.
const TimestampKeyLayout = "2006-01-02T15:04:05.000Z"

// Lower-cased tag names the aggregator maps onto record fields.
const (
	TagLatitude     = "latitude"
	TagLongitude    = "longitude"
	TagHumidity     = "humidity"
	TagConductivity = "conductivity"
	TagTemperature  = "temperature"
)

// ErrMissingCoordinate is returned by PartialRecord.Location when latitude or
// longitude is absent or not numeric.
var ErrMissingCoordinate = errors.New("reading has no usable coordinates")

// PartialRecord collects the tag values that share one timestamp.
type PartialRecord struct {
	Timestamp time.Time
	Values    map[string]json.RawMessage
}

// Float returns the value of key parsed leniently: JSON numbers, numeric
// strings and strings with a numeric prefix ("25.3C") are accepted. JSON null,
// absent keys and anything without a finite numeric prefix yield nil.
func (p *PartialRecord) Float(key string) *float64 {
	raw, ok := p.Values[key]
	if !ok {
		return nil
	}
	v, ok := parseLenientFloat(raw)
	if !ok {
		return nil
	}
	return &v
}

// Location returns the record's coordinates.
func (p *PartialRecord) Location() (latitude, longitude float64, err error) {
	lat := p.Float(TagLatitude)
	lng := p.Float(TagLongitude)
	if lat == nil || lng == nil {
		return 0, 0, ErrMissingCoordinate
	}
	return *lat, *lng, nil
}

// SensorRecord builds the stored record. Absent measurements stay nil.
func (p *PartialRecord) SensorRecord() models.SensorRecord {
	return models.SensorRecord{
		Timestamp:    p.Timestamp,
		Humidity:     p.Float(TagHumidity),
		Conductivity: p.Float(TagConductivity),
		Temperature:  p.Float(TagTemperature),
	}
}

// Aggregate groups readings by canonical timestamp. Readings without a
// parseable timestamp or without a tag name are skipped; the second return
// value counts them. A tag repeated at one timestamp keeps its last value.
func Aggregate(readings []models.FeedReading) (map[string]*PartialRecord, int) {
	records := make(map[string]*PartialRecord)
	skipped := 0

	for _, reading := range readings {
		ts, ok := parseTimestamp(reading.Ts)
		if !ok || reading.TagName == "" {
			skipped++
			continue
		}

		key := ts.Format(TimestampKeyLayout)
		rec, exists := records[key]
		if !exists {
			rec = &PartialRecord{
				Timestamp: ts,
				Values:    make(map[string]json.RawMessage),
			}
			records[key] = rec
		}
		rec.Values[strings.ToLower(reading.TagName)] = reading.Value
	}

	return records, skipped
}

// Sorted returns the partial records in timestamp order.
func Sorted(records map[string]*PartialRecord) []*PartialRecord {
	out := make([]*PartialRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// parseTimestamp accepts an RFC 3339 style string, a numeric string or a JSON
// number. Numbers are epoch milliseconds. Null, empty and zero values are
// treated as missing. Zone-less strings are read as UTC. The result is
// truncated to milliseconds, matching the grouping key.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, false
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, false
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return time.Time{}, false
		}
		if ms, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpochMillis(ms)
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC().Truncate(time.Millisecond), true
			}
		}
		return time.Time{}, false
	}

	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, false
	}
	return fromEpochMillis(ms)
}

func fromEpochMillis(ms float64) (time.Time, bool) {
	if ms == 0 || math.IsNaN(ms) || math.IsInf(ms, 0) {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)).UTC(), true
}

// parseLenientFloat decodes a JSON number, or the longest numeric prefix of
// a JSON string.
func parseLenientFloat(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		return parseFloatPrefix(s)
	}

	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

// parseFloatPrefix parses the longest decimal prefix of s after leading
// whitespace: optional sign, digits with an optional fraction, then an
// optional exponent. Non-finite results are rejected.
func parseFloatPrefix(s string) (float64, bool) {
	s = strings.TrimLeft(s, " \t\n\r\v\f")

	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}

	digits := 0
	for end < len(s) && isDigit(s[end]) {
		end++
		digits++
	}
	if end < len(s) && s[end] == '.' {
		end++
		for end < len(s) && isDigit(s[end]) {
			end++
			digits++
		}
	}
	if digits == 0 {
		return 0, false
	}

	// The exponent only counts when at least one digit follows it.
	if end < len(s) && (s[end] == 'e' || s[end] == 'E') {
		exp := end + 1
		if exp < len(s) && (s[exp] == '+' || s[exp] == '-') {
			exp++
		}
		if exp < len(s) && isDigit(s[exp]) {
			for exp < len(s) && isDigit(s[exp]) {
				exp++
			}
			end = exp
		}
	}

	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
