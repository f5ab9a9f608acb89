// Package testutil provides in-memory fakes shared by package tests.
package testutil

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/GiacomoSorbiWork/Volteras/internal/core"
	"github.com/GiacomoSorbiWork/Volteras/internal/logging"
)

// MemoryStore implements core.Store in memory, mirroring the Postgres
// store's constraint and ordering behavior closely enough for handler and
// service tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records []core.Record
	nextID  int64

	// BulkLoadErr, when set, is returned by BulkLoad before anything is staged.
	BulkLoadErr error
	// PingErr is returned by Ping.
	PingErr error
	// BulkLoads counts BulkLoad calls.
	BulkLoads int

	normalizer *core.Normalizer
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, normalizer: core.NewNormalizer(logging.Discard())}
}

// Seed inserts records directly, assigning IDs. It panics on conflicts.
func (m *MemoryStore) Seed(recs ...core.Record) {
	for i := range recs {
		rec := recs[i]
		if err := m.Insert(context.Background(), &rec); err != nil {
			panic(fmt.Sprintf("seed %v: %v", rec, err))
		}
	}
}

// All returns a copy of every stored record in insertion order.
func (m *MemoryStore) All() []core.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.Record(nil), m.records...)
}

func (m *MemoryStore) Ping(context.Context) error { return m.PingErr }

func (m *MemoryStore) Insert(_ context.Context, rec *core.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conflictLocked(rec.VehicleID, rec) {
		return &core.ConflictError{Fields: core.UniqueFields}
	}
	rec.ID = m.nextID
	rec.Timestamp = rec.Timestamp.UTC()
	m.nextID++
	m.records = append(m.records, *rec)
	return nil
}

func (m *MemoryStore) conflictLocked(vehicleID string, rec *core.Record) bool {
	for _, existing := range m.records {
		if existing.VehicleID == vehicleID && existing.Timestamp.Equal(rec.Timestamp) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) Get(_ context.Context, id int64) (*core.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.records {
		if rec.ID == id {
			out := rec
			return &out, nil
		}
	}
	return nil, &core.NotFoundError{Message: "Not found."}
}

func (m *MemoryStore) Count(_ context.Context, q core.Resolved) (int64, error) {
	return int64(len(m.matching(q))), nil
}

func (m *MemoryStore) List(_ context.Context, q core.Resolved, limit, offset int) ([]core.Record, error) {
	recs := m.matching(q)
	if offset >= len(recs) {
		return []core.Record{}, nil
	}
	end := offset + limit
	if end > len(recs) {
		end = len(recs)
	}
	return recs[offset:end], nil
}

func (m *MemoryStore) Stream(ctx context.Context, q core.Resolved, fn func(core.Record) error) error {
	for _, rec := range m.matching(q) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) VehicleIDs(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	ids := []string{}
	for _, rec := range m.records {
		if !seen[rec.VehicleID] {
			seen[rec.VehicleID] = true
			ids = append(ids, rec.VehicleID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// matching filters and sorts like the SQL store: NULLs sort last ascending
// and first descending, id breaks ties.
func (m *MemoryStore) matching(q core.Resolved) []core.Record {
	m.mu.RLock()
	var out []core.Record
	for _, rec := range m.records {
		if q.Matches(rec) {
			out = append(out, rec)
		}
	}
	m.mu.RUnlock()

	order := q.Order
	if len(order) == 0 {
		order = core.DefaultOrder
	}
	sort.SliceStable(out, func(i, j int) bool {
		for _, term := range order {
			c := compareField(out[i], out[j], term.Field)
			if term.Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func compareField(a, b core.Record, field string) int {
	switch field {
	case "id":
		return cmpOrdered(a.ID, b.ID)
	case "vehicle_id":
		return strings.Compare(a.VehicleID, b.VehicleID)
	case "timestamp":
		return a.Timestamp.Compare(b.Timestamp)
	case "speed":
		return cmpNullable(a.Speed, b.Speed, cmpOrdered[float64])
	case "odometer":
		return cmpOrdered(a.Odometer, b.Odometer)
	case "soc":
		return cmpOrdered(a.SOC, b.SOC)
	case "elevation":
		return cmpOrdered(a.Elevation, b.Elevation)
	case "shift_state":
		return cmpNullable(a.ShiftState, b.ShiftState, strings.Compare)
	}
	return 0
}

func cmpOrdered[T int | int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// cmpNullable treats NULL as larger than any value, as Postgres does.
func cmpNullable[T any](a, b *T, cmp func(T, T) int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return cmp(*a, *b)
}

// BulkLoad parses the staged CSV (header line first) and merges it. Like
// the SQL store the load is atomic: a bad value or NULL in a required
// column rejects the whole file.
func (m *MemoryStore) BulkLoad(ctx context.Context, columns []string, r io.Reader) (core.BulkResult, error) {
	m.mu.Lock()
	m.BulkLoads++
	m.mu.Unlock()

	var res core.BulkResult
	if m.BulkLoadErr != nil {
		return res, m.BulkLoadErr
	}

	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c] = i
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(columns)
	if _, err := reader.Read(); err != nil {
		return res, &core.StorageError{Op: "copy into staging", Err: err}
	}

	var staged []core.Record
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, &core.StorageError{Op: "copy into staging", Err: err}
		}
		rec, err := m.stagedRecord(row, index)
		if err != nil {
			return res, &core.StorageError{Op: "merge staging", Err: err}
		}
		staged = append(staged, rec)
	}
	res.Staged = int64(len(staged))

	if err := ctx.Err(); err != nil {
		return core.BulkResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range staged {
		rec := staged[i]
		if m.conflictLocked(rec.VehicleID, &rec) {
			continue
		}
		rec.ID = m.nextID
		m.nextID++
		m.records = append(m.records, rec)
		res.Inserted++
	}
	return res, nil
}

func (m *MemoryStore) stagedRecord(row []string, index map[string]int) (core.Record, error) {
	get := func(col string) string { return row[index[col]] }

	var rec core.Record
	rec.VehicleID = get("vehicle_id")
	if rec.VehicleID == "" {
		return rec, errors.New(`null value in column "vehicle_id" violates not-null constraint`)
	}

	ts, err := m.normalizer.Parse(get("timestamp"), "")
	if err != nil {
		return rec, fmt.Errorf(`null or invalid value in column "timestamp": %w`, err)
	}
	rec.Timestamp = ts

	if v := get("speed"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return rec, fmt.Errorf("invalid input syntax for type double precision: %q", v)
		}
		rec.Speed = &f
	}

	for _, target := range []struct {
		col string
		dst *float64
	}{{"odometer", &rec.Odometer}, {"elevation", &rec.Elevation}} {
		v := get(target.col)
		if v == "" {
			return rec, fmt.Errorf("null value in column %q violates not-null constraint", target.col)
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return rec, fmt.Errorf("invalid input syntax for type double precision: %q", v)
		}
		*target.dst = f
	}

	soc := get("soc")
	if soc == "" {
		return rec, errors.New(`null value in column "soc" violates not-null constraint`)
	}
	f, err := strconv.ParseFloat(soc, 64)
	if err != nil {
		return rec, fmt.Errorf("invalid input syntax for type double precision: %q", soc)
	}
	rec.SOC = int(math.RoundToEven(f))

	if v := get("shift_state"); v != "" {
		rec.ShiftState = &v
	}
	return rec, nil
}
