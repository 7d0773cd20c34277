// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/soilsense/internal/logging"
	"github.com/tomtom215/soilsense/internal/models"
	"github.com/tomtom215/soilsense/internal/validation"
)

// SensorData lists every location, or with ?date=YYYY-MM-DD only the
// locations with records on that UTC day, each carrying just those records.
func (h *Handler) SensorData(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	query := DateQuery{Date: r.URL.Query().Get("date")}
	if verr := validation.ValidateStruct(&query); verr != nil {
		rw.ValidationError(verr)
		return
	}

	var (
		locations []models.SensorLocation
		err       error
	)
	if query.Date == "" {
		locations, err = h.store.ListAll(r.Context())
	} else {
		day, perr := parseDay(query.Date)
		if perr != nil {
			rw.BadRequest(perr.Error())
			return
		}
		locations, err = h.store.FindByDate(r.Context(), day)
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	if locations == nil {
		locations = []models.SensorLocation{}
	}
	rw.JSON(http.StatusOK, locations)
}

// CreateSensorData stores one reading stamped with the server time and
// answers 201 with the full location document.
func (h *Handler) CreateSensorData(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	req, err := decodeCreateReading(w, r)
	if err != nil {
		h.writeRequestError(rw, err)
		return
	}

	rec := req.Record(h.now())
	location, err := h.store.UpsertRecord(r.Context(), *req.Latitude, *req.Longitude, rec)
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	logging.Ctx(r.Context()).Debug().
		Float64("latitude", location.Latitude).
		Float64("longitude", location.Longitude).
		Int("records", len(location.Records)).
		Msg("stored reading from API")

	// Records come back in insertion order, so the last one is rec at the
	// store's precision.
	if h.wsHub != nil && len(location.Records) > 0 {
		h.wsHub.PublishReading(models.ReadingEvent{
			Latitude:  location.Latitude,
			Longitude: location.Longitude,
			Record:    location.Records[len(location.Records)-1],
		})
	}

	rw.JSON(http.StatusCreated, location)
}

// SensorDataByLocation returns one location's records, filtered to a UTC day
// when the date comes from the path or the ?date= query.
func (h *Handler) SensorDataByLocation(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	date := chi.URLParam(r, "date")
	if date == "" {
		date = r.URL.Query().Get("date")
	}

	req, err := parseLocationRequest(chi.URLParam(r, "latitude"), chi.URLParam(r, "longitude"), date)
	if err != nil {
		h.writeRequestError(rw, err)
		return
	}

	location, err := h.store.FindByCoordinates(r.Context(), *req.Latitude, *req.Longitude, req.Day())
	if errors.Is(err, models.ErrNotFound) {
		rw.NotFound("No data for this coordinate")
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	records := location.Records
	if records == nil {
		records = []models.SensorRecord{}
	}
	rw.JSON(http.StatusOK, models.LocationRecords{
		Latitude:  location.Latitude,
		Longitude: location.Longitude,
		Records:   records,
	})
}

// writeRequestError maps request parsing failures to 400 responses.
func (h *Handler) writeRequestError(rw *ResponseWriter, err error) {
	var verr *validation.RequestValidationError
	if errors.As(err, &verr) {
		rw.ValidationError(verr)
		return
	}
	rw.BadRequest(err.Error())
}
