// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package main

import (
	"fmt"
	"io"

	"github.com/tomtom215/soilsense/internal/api"
	"github.com/tomtom215/soilsense/internal/config"
	"github.com/tomtom215/soilsense/internal/database"
	"github.com/tomtom215/soilsense/internal/kvstore"
	"github.com/tomtom215/soilsense/internal/supervisor/services"
	"github.com/tomtom215/soilsense/internal/sync"
)

// locationStore is what both backends provide to the API and the ingestor.
type locationStore interface {
	api.SensorStore
	sync.LocationWriter
	io.Closer
}

var (
	_ locationStore             = (*database.DB)(nil)
	_ locationStore             = (*kvstore.Store)(nil)
	_ services.GarbageCollector = (*kvstore.Store)(nil)
)

// openStore opens the backend named by cfg.Driver. gc is non-nil only when
// the backend needs periodic value-log collection.
func openStore(cfg *config.DatabaseConfig) (store locationStore, gc services.GarbageCollector, err error) {
	switch cfg.Driver {
	case config.DriverDuckDB, "":
		db, err := database.New(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open duckdb store: %w", err)
		}
		return db, nil, nil

	case config.DriverBadger:
		kv, err := kvstore.Open(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open badger store: %w", err)
		}
		return kv, kv, nil

	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
