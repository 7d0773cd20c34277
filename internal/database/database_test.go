// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/soilsense/internal/config"
	"github.com/tomtom215/soilsense/internal/models"
)

// testDBSemaphore serializes DuckDB usage across tests. It is held for the
// whole test, not only during creation, because concurrent CGO calls from
// several tests can hang under CI resource pressure.
var testDBSemaphore = make(chan struct{}, 1)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	cfg := &config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "512MB",
	}

	type result struct {
		db  *DB
		err error
	}

	resultCh := make(chan result, 1)
	go func() {
		db, err := New(cfg)
		resultCh <- result{db: db, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("Failed to create test database: %v", res.err)
		}
		t.Cleanup(func() {
			if err := res.db.Close(); err != nil {
				t.Errorf("Close() error = %v", err)
			}
		})
		return res.db
	case <-time.After(120 * time.Second):
		t.Fatalf("Timeout: database creation took longer than 120s")
		return nil
	}
}

func reading(ts time.Time, temperature float64) models.SensorRecord {
	return models.SensorRecord{
		Timestamp:   ts,
		Temperature: models.Float64(temperature),
	}
}

func TestUpsertRecord_CreatesLocation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	loc, err := db.UpsertRecord(ctx, 10.7769, 106.7009, reading(ts, 25.3))
	if err != nil {
		t.Fatalf("UpsertRecord() error = %v", err)
	}

	if loc.ID == "" {
		t.Error("expected generated location id")
	}
	if loc.Latitude != 10.7769 || loc.Longitude != 106.7009 {
		t.Errorf("coordinates = (%v, %v), want (10.7769, 106.7009)", loc.Latitude, loc.Longitude)
	}
	if len(loc.Records) != 1 {
		t.Fatalf("len(Records) = %d, want 1", len(loc.Records))
	}

	rec := loc.Records[0]
	if !rec.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", rec.Timestamp, ts)
	}
	if rec.Timestamp.Location() != time.UTC {
		t.Errorf("Timestamp location = %v, want UTC", rec.Timestamp.Location())
	}
	if rec.Temperature == nil || *rec.Temperature != 25.3 {
		t.Errorf("Temperature = %v, want 25.3", rec.Temperature)
	}
	if rec.Humidity != nil || rec.Conductivity != nil {
		t.Errorf("absent measurements should stay nil, got humidity=%v conductivity=%v", rec.Humidity, rec.Conductivity)
	}
}

func TestAppendRecord_ReturnsStoredPrecision(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	ts := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)
	stored, err := db.AppendRecord(ctx, 10.7769, 106.7009, reading(ts, 25.3))
	if err != nil {
		t.Fatalf("AppendRecord() error = %v", err)
	}
	if want := ts.Truncate(time.Microsecond); !stored.Timestamp.Equal(want) {
		t.Errorf("stored Timestamp = %v, want %v", stored.Timestamp, want)
	}

	if _, err := db.AppendRecord(ctx, 10.7769, 106.7009, reading(ts.Add(time.Minute), 26)); err != nil {
		t.Fatalf("second AppendRecord() error = %v", err)
	}

	loc, err := db.FindByCoordinates(ctx, 10.7769, 106.7009, nil)
	if err != nil {
		t.Fatalf("FindByCoordinates() error = %v", err)
	}
	if len(loc.Records) != 2 {
		t.Fatalf("len(Records) = %d, want 2", len(loc.Records))
	}
	if !loc.Records[0].Timestamp.Equal(stored.Timestamp) {
		t.Errorf("read back %v, AppendRecord returned %v", loc.Records[0].Timestamp, stored.Timestamp)
	}
}

func TestUpsertRecord_AppendsToExistingLocation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Minute)

	created, err := db.UpsertRecord(ctx, 10.5, 106.5, reading(first, 20))
	if err != nil {
		t.Fatalf("first UpsertRecord() error = %v", err)
	}
	updated, err := db.UpsertRecord(ctx, 10.5, 106.5, reading(second, 21))
	if err != nil {
		t.Fatalf("second UpsertRecord() error = %v", err)
	}

	if updated.ID != created.ID {
		t.Errorf("location id changed: %s -> %s", created.ID, updated.ID)
	}
	if len(updated.Records) != 2 {
		t.Fatalf("len(Records) = %d, want 2", len(updated.Records))
	}
	if !updated.Records[0].Timestamp.Equal(first) || !updated.Records[1].Timestamp.Equal(second) {
		t.Errorf("records not in insertion order: %v, %v", updated.Records[0].Timestamp, updated.Records[1].Timestamp)
	}

	all, err := db.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(all) != 1 {
		t.Errorf("ListAll() returned %d locations, want 1", len(all))
	}
}

func TestUpsertRecord_KeepsInsertionOrderForOutOfOrderTimestamps(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	later := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)

	for _, ts := range []time.Time{later, earlier} {
		if _, err := db.UpsertRecord(ctx, 1, 2, reading(ts, 1)); err != nil {
			t.Fatalf("UpsertRecord() error = %v", err)
		}
	}

	loc, err := db.FindByCoordinates(ctx, 1, 2, nil)
	if err != nil {
		t.Fatalf("FindByCoordinates() error = %v", err)
	}
	if len(loc.Records) != 2 || !loc.Records[0].Timestamp.Equal(later) {
		t.Errorf("records were reordered: %+v", loc.Records)
	}
}

func TestUpsertRecord_ConcurrentFirstReadings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	const writers = 8
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := db.UpsertRecord(ctx, 11.1, 107.7, reading(base.Add(time.Duration(i)*time.Second), float64(i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent UpsertRecord() error = %v", err)
		}
	}

	all, err := db.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("ListAll() returned %d locations, want 1", len(all))
	}
	if len(all[0].Records) != writers {
		t.Errorf("len(Records) = %d, want %d", len(all[0].Records), writers)
	}
}

func TestListAll(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	empty, err := db.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("ListAll() on empty store = %#v, want empty non-nil slice", empty)
	}

	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	coords := [][2]float64{{3, 3}, {1, 1}, {2, 2}}
	for _, c := range coords {
		if _, err := db.UpsertRecord(ctx, c[0], c[1], reading(ts, 1)); err != nil {
			t.Fatalf("UpsertRecord() error = %v", err)
		}
	}

	all, err := db.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(all) != len(coords) {
		t.Fatalf("ListAll() returned %d locations, want %d", len(all), len(coords))
	}
	for i, c := range coords {
		if all[i].Latitude != c[0] {
			t.Errorf("location %d latitude = %v, want %v (creation order)", i, all[i].Latitude, c[0])
		}
	}
}

func TestFindByCoordinates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	stamps := []time.Time{
		day.Add(-time.Minute),               // previous day
		day.Add(9 * time.Hour),              // on day
		day.Add(24*time.Hour - time.Second), // on day
		day.Add(24 * time.Hour),             // next day
	}
	for i, ts := range stamps {
		if _, err := db.UpsertRecord(ctx, 10.7769, 106.7009, reading(ts, float64(i))); err != nil {
			t.Fatalf("UpsertRecord() error = %v", err)
		}
	}

	t.Run("all records", func(t *testing.T) {
		loc, err := db.FindByCoordinates(ctx, 10.7769, 106.7009, nil)
		if err != nil {
			t.Fatalf("FindByCoordinates() error = %v", err)
		}
		if len(loc.Records) != len(stamps) {
			t.Errorf("len(Records) = %d, want %d", len(loc.Records), len(stamps))
		}
	})

	t.Run("day filter", func(t *testing.T) {
		loc, err := db.FindByCoordinates(ctx, 10.7769, 106.7009, &day)
		if err != nil {
			t.Fatalf("FindByCoordinates() error = %v", err)
		}
		if len(loc.Records) != 2 {
			t.Fatalf("len(Records) = %d, want 2", len(loc.Records))
		}
		for _, rec := range loc.Records {
			if !models.SameDay(rec.Timestamp, day) {
				t.Errorf("record %v outside %v", rec.Timestamp, day)
			}
		}
	})

	t.Run("day without records", func(t *testing.T) {
		other := day.AddDate(0, 1, 0)
		loc, err := db.FindByCoordinates(ctx, 10.7769, 106.7009, &other)
		if err != nil {
			t.Fatalf("FindByCoordinates() error = %v", err)
		}
		if loc.Records == nil || len(loc.Records) != 0 {
			t.Errorf("Records = %#v, want empty non-nil slice", loc.Records)
		}
	})

	t.Run("unknown coordinates", func(t *testing.T) {
		_, err := db.FindByCoordinates(ctx, 0, 0, nil)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("FindByCoordinates() error = %v, want ErrNotFound", err)
		}
		if !errors.Is(err, models.ErrNotFound) {
			t.Errorf("ErrNotFound should alias models.ErrNotFound")
		}
	})
}

func TestFindByDate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	// Location A has records on the day and on the next day.
	if _, err := db.UpsertRecord(ctx, 1, 1, reading(day.Add(time.Hour), 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := db.UpsertRecord(ctx, 1, 1, reading(day.Add(25*time.Hour), 2)); err != nil {
		t.Fatal(err)
	}
	// Location B only has a record on the previous day.
	if _, err := db.UpsertRecord(ctx, 2, 2, reading(day.Add(-time.Hour), 3)); err != nil {
		t.Fatal(err)
	}

	locations, err := db.FindByDate(ctx, day.Add(13*time.Hour))
	if err != nil {
		t.Fatalf("FindByDate() error = %v", err)
	}
	if len(locations) != 1 {
		t.Fatalf("FindByDate() returned %d locations, want 1", len(locations))
	}
	if locations[0].Latitude != 1 {
		t.Errorf("unexpected location %+v", locations[0])
	}
	if len(locations[0].Records) != 1 {
		t.Fatalf("len(Records) = %d, want 1 (adjacent days excluded)", len(locations[0].Records))
	}
	if got := *locations[0].Records[0].Temperature; got != 1 {
		t.Errorf("Temperature = %v, want 1", got)
	}

	none, err := db.FindByDate(ctx, day.AddDate(1, 0, 0))
	if err != nil {
		t.Fatalf("FindByDate() error = %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("FindByDate() for empty day = %#v, want empty non-nil slice", none)
	}
}

func TestNew_FileDatabasePersists(t *testing.T) {
	testDBSemaphore <- struct{}{}
	defer func() { <-testDBSemaphore }()

	path := filepath.Join(t.TempDir(), "nested", "soilsense.duckdb")
	cfg := &config.DatabaseConfig{Path: path, MaxMemory: "256MB", Threads: 1}

	db, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if _, err := db.UpsertRecord(context.Background(), 5, 6, reading(ts, 7)); err != nil {
		t.Fatalf("UpsertRecord() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := New(cfg)
	if err != nil {
		t.Fatalf("reopen New() error = %v", err)
	}
	defer reopened.Close()

	loc, err := reopened.FindByCoordinates(context.Background(), 5, 6, nil)
	if err != nil {
		t.Fatalf("FindByCoordinates() after reopen error = %v", err)
	}
	if len(loc.Records) != 1 {
		t.Errorf("len(Records) = %d, want 1", len(loc.Records))
	}
}

func TestPing(t *testing.T) {
	db := setupTestDB(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestErrorClassifiers(t *testing.T) {
	tests := []struct {
		err        error
		conflict   bool
		constraint bool
		internal   bool
	}{
		{nil, false, false, false},
		{errors.New("TransactionContext Error: Transaction conflict"), true, false, false},
		{errors.New("Constraint Error: Duplicate key \"latitude: 1\""), false, true, false},
		{fmt.Errorf("wrapped: %w", errors.New("INTERNAL Error: boom")), false, false, true},
		{errors.New("connection closed"), false, false, false},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			if got := isTransactionConflict(tt.err); got != tt.conflict {
				t.Errorf("isTransactionConflict() = %v, want %v", got, tt.conflict)
			}
			if got := isConstraintViolation(tt.err); got != tt.constraint {
				t.Errorf("isConstraintViolation() = %v, want %v", got, tt.constraint)
			}
			if got := isInternalError(tt.err); got != tt.internal {
				t.Errorf("isInternalError() = %v, want %v", got, tt.internal)
			}
		})
	}
}
