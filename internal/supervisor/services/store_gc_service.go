// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package services

import (
	"context"
	"time"

	"github.com/tomtom215/soilsense/internal/logging"
)

// DefaultGCInterval is used when no interval is configured.
const DefaultGCInterval = 10 * time.Minute

// GarbageCollector reclaims space in an embedded store. Satisfied by
// *kvstore.Store.
type GarbageCollector interface {
	RunGC() error
}

// StoreGCService runs value-log garbage collection on a fixed interval. A
// failed run is logged and retried on the next tick; it never restarts the
// service.
type StoreGCService struct {
	store    GarbageCollector
	interval time.Duration
	name     string

	// tick is replaced in tests.
	tick func(d time.Duration) (<-chan time.Time, func())
}

// NewStoreGCService creates the GC loop for store.
func NewStoreGCService(store GarbageCollector, interval time.Duration) *StoreGCService {
	if interval <= 0 {
		interval = DefaultGCInterval
	}
	return &StoreGCService{
		store:    store,
		interval: interval,
		name:     "store-gc",
		tick: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// Serve implements suture.Service.
func (s *StoreGCService) Serve(ctx context.Context) error {
	ticks, stop := s.tick(s.interval)
	defer stop()

	logging.Debug().Dur("interval", s.interval).Msg("store GC loop started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticks:
			if err := s.store.RunGC(); err != nil {
				logging.Warn().Err(err).Msg("store GC run failed")
			}
		}
	}
}

// String implements fmt.Stringer for suture logs.
func (s *StoreGCService) String() string {
	return s.name
}
