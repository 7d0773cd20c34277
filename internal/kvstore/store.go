// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

// Package kvstore is the BadgerDB location store. Each coordinate pair is one
// key holding the whole location document as JSON; appends are
// read-modify-write transactions retried on conflict.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/soilsense/internal/config"
	"github.com/tomtom215/soilsense/internal/logging"
	"github.com/tomtom215/soilsense/internal/metrics"
	"github.com/tomtom215/soilsense/internal/models"
)

const backendName = "badger"

// Key layout
const (
	prefixLocation = "loc:"
	sequenceKey    = "meta:location_seq"
)

const (
	maxUpsertRetries = 50
	closeTimeout     = 30 * time.Second
	defaultGCRatio   = 0.5
)

var (
	// ErrNotFound is returned when no location matches the requested coordinates.
	ErrNotFound = models.ErrNotFound

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("location store is closed")
)

// Store implements the location store on BadgerDB.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence

	mu     sync.RWMutex
	closed bool
}

// storedLocation is the persisted value. Seq orders locations by creation
// since keys sort by coordinate text.
type storedLocation struct {
	ID        string                `json:"id"`
	Seq       uint64                `json:"seq"`
	Latitude  float64               `json:"latitude"`
	Longitude float64               `json:"longitude"`
	CreatedAt time.Time             `json:"created_at"`
	Records   []models.SensorRecord `json:"records"`
}

func (s *storedLocation) document(day *time.Time) *models.SensorLocation {
	records := make([]models.SensorRecord, 0, len(s.Records))
	for _, rec := range s.Records {
		rec.Timestamp = rec.Timestamp.UTC()
		if day != nil && !models.SameDay(rec.Timestamp, *day) {
			continue
		}
		records = append(records, rec)
	}
	return &models.SensorLocation{
		ID:        s.ID,
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Records:   records,
	}
}

// Open opens (or creates) the Badger directory at cfg.BadgerPath.
func Open(cfg *config.DatabaseConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.BadgerPath, 0o750); err != nil {
		return nil, fmt.Errorf("create badger directory %s: %w", cfg.BadgerPath, err)
	}

	opts := badger.DefaultOptions(cfg.BadgerPath)
	opts.SyncWrites = cfg.BadgerSyncWrites
	opts.Compression = options.Snappy
	opts.Logger = newBadgerLogger()

	return open(opts)
}

// OpenInMemory opens a store without a backing directory, for tests.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts)
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	seq, err := db.GetSequence([]byte(sequenceKey), 100)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("allocate location sequence: %w", err)
	}

	logging.Info().
		Str("path", opts.Dir).
		Bool("in_memory", opts.InMemory).
		Bool("sync_writes", opts.SyncWrites).
		Msg("Badger location store ready")

	return &Store{db: db, seq: seq}, nil
}

// UpsertRecord appends rec to the location at (latitude, longitude), creating
// the location if needed. Conflicting concurrent writers retry against the
// committed state, so exactly one of them creates the location.
func (s *Store) UpsertRecord(ctx context.Context, latitude, longitude float64, rec models.SensorRecord) (*models.SensorLocation, error) {
	start := time.Now()
	stored, _, err := s.appendRecord(ctx, latitude, longitude, rec)
	metrics.RecordDBQuery(backendName, "upsert", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return stored.document(nil), nil
}

// AppendRecord stores rec like UpsertRecord and returns just the stored record.
func (s *Store) AppendRecord(ctx context.Context, latitude, longitude float64, rec models.SensorRecord) (models.SensorRecord, error) {
	start := time.Now()
	_, stored, err := s.appendRecord(ctx, latitude, longitude, rec)
	metrics.RecordDBQuery(backendName, "append", time.Since(start), err)
	return stored, err
}

// appendRecord rewrites the location document with rec appended. The whole
// document is re-marshalled on every write.
func (s *Store) appendRecord(ctx context.Context, latitude, longitude float64, rec models.SensorRecord) (*storedLocation, models.SensorRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, rec, err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	key := locationKey(latitude, longitude)

	var lastErr error
	for attempt := 0; attempt < maxUpsertRetries; attempt++ {
		var stored *storedLocation
		err := s.db.Update(func(txn *badger.Txn) error {
			loc, err := getLocation(txn, key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				seq, seqErr := s.seq.Next()
				if seqErr != nil {
					return fmt.Errorf("next location sequence: %w", seqErr)
				}
				loc = &storedLocation{
					ID:        uuid.New().String(),
					Seq:       seq,
					Latitude:  normalizeZero(latitude),
					Longitude: normalizeZero(longitude),
					CreatedAt: time.Now().UTC(),
				}
			} else if err != nil {
				return err
			}

			loc.Records = append(loc.Records, rec)
			data, err := json.Marshal(loc)
			if err != nil {
				return fmt.Errorf("marshal location: %w", err)
			}
			if err := txn.Set(key, data); err != nil {
				return err
			}
			stored = loc
			return nil
		})
		if err == nil {
			return stored, rec, nil
		}

		lastErr = err
		if !errors.Is(err, badger.ErrConflict) {
			break
		}

		metrics.DBUpsertRetries.WithLabelValues(backendName).Inc()
		// Jitter keeps colliding writers from retrying in lockstep.
		backoff := time.Duration(rand.Int64N(int64(time.Millisecond) << uint(min(attempt, 4))))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, rec, ctx.Err()
		}
	}

	if errors.Is(lastErr, badger.ErrConflict) {
		return nil, rec, fmt.Errorf("max retries exceeded: %w", lastErr)
	}
	return nil, rec, fmt.Errorf("upsert sensor record: %w", lastErr)
}

// ListAll returns every location in creation order.
func (s *Store) ListAll(ctx context.Context) ([]models.SensorLocation, error) {
	start := time.Now()
	locations, err := s.scan(ctx, nil)
	metrics.RecordDBQuery(backendName, "list_all", time.Since(start), err)
	return locations, err
}

// FindByDate returns the locations holding at least one record on the UTC
// date of day, each carrying only that day's records.
func (s *Store) FindByDate(ctx context.Context, day time.Time) ([]models.SensorLocation, error) {
	start := time.Now()
	locations, err := s.scan(ctx, &day)
	metrics.RecordDBQuery(backendName, "find_by_date", time.Since(start), err)
	return locations, err
}

// FindByCoordinates returns the location at exactly (latitude, longitude),
// optionally restricted to records on day.
func (s *Store) FindByCoordinates(ctx context.Context, latitude, longitude float64, day *time.Time) (*models.SensorLocation, error) {
	start := time.Now()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var loc *storedLocation
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		loc, err = getLocation(txn, locationKey(latitude, longitude))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		metrics.RecordDBQuery(backendName, "find_by_coordinates", time.Since(start), nil)
		return nil, ErrNotFound
	}
	metrics.RecordDBQuery(backendName, "find_by_coordinates", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("get location: %w", err)
	}
	return loc.document(day), nil
}

// scan walks the location prefix. With day set, locations without a record
// on that day are skipped.
func (s *Store) scan(ctx context.Context, day *time.Time) ([]models.SensorLocation, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var stored []*storedLocation
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixLocation)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			item := it.Item()
			var loc storedLocation
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &loc)
			})
			if err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("Skipping undecodable location")
				continue
			}
			stored = append(stored, &loc)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate locations: %w", err)
	}

	sort.Slice(stored, func(i, j int) bool {
		return stored[i].Seq < stored[j].Seq
	})

	locations := make([]models.SensorLocation, 0, len(stored))
	for _, loc := range stored {
		doc := loc.document(day)
		if day != nil && len(doc.Records) == 0 {
			continue
		}
		locations = append(locations, *doc)
	}
	return locations, nil
}

// Ping reports whether the store is open.
func (s *Store) Ping(_ context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return ErrClosed
	}
	return nil
}

// RunGC runs value-log garbage collection until nothing is left to rewrite.
func (s *Store) RunGC() error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	start := time.Now()
	rewrites := 0
	for {
		err := s.db.RunValueLogGC(defaultGCRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			break
		}
		if err != nil {
			metrics.RecordDBQuery(backendName, "gc", time.Since(start), err)
			return fmt.Errorf("run GC: %w", err)
		}
		rewrites++
	}

	metrics.RecordDBQuery(backendName, "gc", time.Since(start), nil)
	logging.Debug().Int("rewrites", rewrites).Dur("duration", time.Since(start)).Msg("Badger value log GC finished")
	return nil
}

// Close releases the sequence lease and closes the database. It gives up
// after a fixed timeout so a stuck compaction cannot block shutdown.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.seq.Release(); err != nil {
		logging.Warn().Err(err).Msg("Failed to release location sequence")
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		return nil
	case <-time.After(closeTimeout):
		return fmt.Errorf("badgerdb close timeout after %v", closeTimeout)
	}
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func getLocation(txn *badger.Txn, key []byte) (*storedLocation, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	var loc storedLocation
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &loc)
	})
	if err != nil {
		return nil, fmt.Errorf("decode location %s: %w", key, err)
	}
	return &loc, nil
}

// locationKey formats coordinates with the shortest exact representation, so
// two keys are equal exactly when the float64 values are equal.
func locationKey(latitude, longitude float64) []byte {
	return []byte(prefixLocation +
		strconv.FormatFloat(normalizeZero(latitude), 'g', -1, 64) + ":" +
		strconv.FormatFloat(normalizeZero(longitude), 'g', -1, 64))
}

// normalizeZero maps -0 to 0 so both spellings address the same location.
func normalizeZero(v float64) float64 {
	if v == 0 {
		return 0
	}
	return v
}
