// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package api

import "errors"

var (
	// ErrInvalidCoordinate is returned when a path coordinate is not a number.
	ErrInvalidCoordinate = errors.New("coordinate is not a number")

	// ErrInvalidDate is returned when a date parameter is not YYYY-MM-DD.
	ErrInvalidDate = errors.New("date must be in YYYY-MM-DD format")

	// ErrInvalidBody is returned when a request body is not a JSON object.
	ErrInvalidBody = errors.New("request body must be a JSON object")
)
