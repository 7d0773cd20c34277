// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/soilsense/internal/models"
	"github.com/tomtom215/soilsense/internal/validation"
)

// maxBodyBytes bounds POST bodies; a reading is a handful of numbers.
const maxBodyBytes = 64 << 10

// CreateReadingRequest is the POST /api/sensordata body.
type CreateReadingRequest struct {
	Latitude     *float64 `json:"latitude" validate:"required,latitude"`
	Longitude    *float64 `json:"longitude" validate:"required,longitude"`
	Humidity     *float64 `json:"humidity"`
	Conductivity *float64 `json:"conductivity"`
	Temperature  *float64 `json:"temperature"`
}

// Record builds the stored record, stamped with now in UTC.
func (req *CreateReadingRequest) Record(now time.Time) models.SensorRecord {
	return models.SensorRecord{
		Timestamp:    now.UTC(),
		Humidity:     req.Humidity,
		Conductivity: req.Conductivity,
		Temperature:  req.Temperature,
	}
}

// LocationRequest carries the path and query parameters of the
// by-coordinate endpoints.
type LocationRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
	Date      string   `json:"date" validate:"omitempty,day"`
}

// Day returns the requested UTC day, or nil when no date was given.
// Only valid after validation.
func (req *LocationRequest) Day() *time.Time {
	if req.Date == "" {
		return nil
	}
	day, err := parseDay(req.Date)
	if err != nil {
		return nil
	}
	return &day
}

// DateQuery is the optional ?date= filter of GET /api/sensordata.
type DateQuery struct {
	Date string `json:"date" validate:"omitempty,day"`
}

// decodeCreateReading reads and validates a POST body. The returned error is
// either ErrInvalidBody or a *validation.RequestValidationError.
func decodeCreateReading(w http.ResponseWriter, r *http.Request) (*CreateReadingRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req CreateReadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty body", ErrInvalidBody)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}

	if verr := validation.ValidateStruct(&req); verr != nil {
		return nil, verr
	}
	return &req, nil
}

// parseLocationRequest parses {latitude}/{longitude} path segments and an
// optional date. Non-numeric coordinates return ErrInvalidCoordinate; range
// and date failures return a *validation.RequestValidationError.
func parseLocationRequest(latitude, longitude, date string) (*LocationRequest, error) {
	lat, err := parseCoordinate(latitude)
	if err != nil {
		return nil, fmt.Errorf("latitude %q: %w", latitude, err)
	}
	lng, err := parseCoordinate(longitude)
	if err != nil {
		return nil, fmt.Errorf("longitude %q: %w", longitude, err)
	}

	req := &LocationRequest{Latitude: &lat, Longitude: &lng, Date: date}
	if verr := validation.ValidateStruct(req); verr != nil {
		return nil, verr
	}
	return req, nil
}

func parseCoordinate(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidCoordinate
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, ErrInvalidCoordinate
	}
	return v, nil
}

// parseDay parses YYYY-MM-DD as midnight UTC.
func parseDay(s string) (time.Time, error) {
	day, err := time.Parse(validation.DayLayout, s)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return day.UTC(), nil
}
