// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

// Package services adapts Soilsense components to suture.Service.
//
//   - HTTPServerService: ListenAndServe plus graceful Shutdown on cancel.
//   - RunnerService: anything with RunWithContext, such as the live reading hub.
//   - StoreGCService: periodic Badger value-log GC.
//
// The datahub feed subscriber implements suture.Service itself and is added
// to the tree directly.
package services
