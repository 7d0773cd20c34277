// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

/*
Package models defines the Soilsense data shapes shared by the stores, the
feed ingestor and the API.

  - SensorLocation: one document per (latitude, longitude) holding an
    append-only list of SensorRecord values.
  - SensorRecord: one timestamped reading set. Absent measurements encode as
    JSON null, never as zero.
  - FeedReading and SubscribeRequest: the datahub wire formats.
  - ReadingEvent: a stored record together with its coordinates, as pushed to
    live subscribers.

ErrNotFound is returned by every store when no location matches.
*/
package models
