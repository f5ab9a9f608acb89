package core_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GiacomoSorbiWork/Volteras/internal/config"
	"github.com/GiacomoSorbiWork/Volteras/internal/core"
	"github.com/GiacomoSorbiWork/Volteras/internal/logging"
	"github.com/GiacomoSorbiWork/Volteras/internal/testutil"
)

const csvHeader = "timestamp,speed,odometer,soc,elevation,shift_state\n"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Upload: config.UploadConfig{
			ChunkDir:      t.TempDir(),
			MaxFileSize:   1 << 20,
			MaxChunkSize:  1 << 20,
			MaxConcurrent: 2,
			MaxWaitTime:   time.Second,
			Timeout:       time.Minute,
		},
		Query: config.QueryConfig{DefaultPageSize: 10, MaxPageSize: 100},
	}
}

func newTestService(t *testing.T, locker core.Locker) (*core.Service, *testutil.MemoryStore, *config.Config) {
	t.Helper()
	cfg := testConfig(t)
	store := testutil.NewMemoryStore()
	return core.NewService(store, locker, cfg, logging.Discard()), store, cfg
}

// upload splits content into n roughly equal chunks and stores them.
func upload(t *testing.T, svc *core.Service, fileName, content string, n int) {
	t.Helper()
	size := (len(content) + n - 1) / n
	for i := 0; i < n; i++ {
		start := i * size
		end := start + size
		if start > len(content) {
			start = len(content)
		}
		if end > len(content) {
			end = len(content)
		}
		_, err := svc.PutChunk(context.Background(), fileName, i, strings.NewReader(content[start:end]))
		require.NoError(t, err)
	}
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Empty(t, names, "temp files left in chunk dir")
}

func TestFinalize_LoadsRows(t *testing.T) {
	svc, store, cfg := newTestService(t, nil)
	ctx := context.Background()

	content := csvHeader +
		"2024-01-01T00:00:00Z,10.5,100,80,5,D\n" +
		"2024-01-01T00:00:01Z,NULL,101,79,5.5,NULL\n" +
		"2024-01-01T00:00:02Z,,102,78,6,P\n"
	upload(t, svc, "drive.csv", content, 3)

	res, err := svc.Finalize(ctx, core.FinalizeRequest{FileName: "drive.csv", TotalChunks: 3, VehicleID: "veh-1"})
	require.NoError(t, err)

	assert.Equal(t, core.FinalizeStatus, res.Status)
	assert.NotEmpty(t, res.UploadID)
	assert.EqualValues(t, 3, res.RowsStaged)
	assert.EqualValues(t, 3, res.RowsInserted)

	recs := store.All()
	require.Len(t, recs, 3)
	for _, rec := range recs {
		assert.Equal(t, "veh-1", rec.VehicleID)
	}
	require.NotNil(t, recs[0].Speed)
	assert.Equal(t, 10.5, *recs[0].Speed)
	assert.Nil(t, recs[1].Speed, "NULL speed should load as null")
	assert.Nil(t, recs[1].ShiftState, "NULL shift_state should load as null")
	assert.Nil(t, recs[2].Speed, "empty speed should load as null")

	assertDirEmpty(t, cfg.Upload.ChunkDir)
}

func TestFinalize_HeaderVariants(t *testing.T) {
	svc, store, _ := newTestService(t, nil)

	// BOM, mixed case, reordered columns, an unknown column and a
	// vehicle_id column that the request overrides.
	content := "\xEF\xBB\xBF Shift_State,notes,SOC,timestamp,vehicle_id,elevation,odometer,speed\n" +
		"R,hello,55,2024-02-01 12:00:00,other,1,2,3\n"
	upload(t, svc, "mixed.csv", content, 1)

	res, err := svc.Finalize(context.Background(), core.FinalizeRequest{FileName: "mixed.csv", TotalChunks: 1, VehicleID: "veh-2"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.RowsInserted)

	recs := store.All()
	require.Len(t, recs, 1)
	assert.Equal(t, "veh-2", recs[0].VehicleID)
	assert.Equal(t, 55, recs[0].SOC)
	assert.Equal(t, 1.0, recs[0].Elevation)
	assert.Equal(t, 2.0, recs[0].Odometer)
	require.NotNil(t, recs[0].ShiftState)
	assert.Equal(t, "R", *recs[0].ShiftState)
	assert.True(t, recs[0].Timestamp.Equal(time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)))
}

func TestFinalize_SkipsDuplicates(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	ctx := context.Background()

	content := csvHeader +
		"2024-01-01T00:00:00Z,1,1,1,1,D\n" +
		"2024-01-01T00:00:00Z,2,2,2,2,D\n" +
		"2024-01-01T00:00:01Z,3,3,3,3,D\n"

	upload(t, svc, "a.csv", content, 2)
	res, err := svc.Finalize(ctx, core.FinalizeRequest{FileName: "a.csv", TotalChunks: 2, VehicleID: "veh-1"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.RowsStaged)
	assert.EqualValues(t, 2, res.RowsInserted)

	// Same file again: everything conflicts, nothing fails.
	upload(t, svc, "a.csv", content, 2)
	res, err = svc.Finalize(ctx, core.FinalizeRequest{FileName: "a.csv", TotalChunks: 2, VehicleID: "veh-1"})
	require.NoError(t, err)
	assert.EqualValues(t, 0, res.RowsInserted)

	// Same rows for another vehicle are distinct.
	upload(t, svc, "a.csv", content, 1)
	res, err = svc.Finalize(ctx, core.FinalizeRequest{FileName: "a.csv", TotalChunks: 1, VehicleID: "veh-2"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.RowsInserted)

	assert.Len(t, store.All(), 4)
}

func TestFinalize_MissingColumns(t *testing.T) {
	svc, store, cfg := newTestService(t, nil)

	upload(t, svc, "bad.csv", "timestamp,speed,odometer,soc,shift_state\n2024-01-01,1,1,1,D\n", 1)

	_, err := svc.Finalize(context.Background(), core.FinalizeRequest{FileName: "bad.csv", TotalChunks: 1, VehicleID: "veh-1"})
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "CSV header missing required columns.", verr.Message)
	assert.Equal(t, []string{"elevation"}, verr.Fields["missing"])

	assert.Zero(t, store.BulkLoads, "bulk load must not start for a bad header")
	assert.Empty(t, store.All())
	assertDirEmpty(t, cfg.Upload.ChunkDir)
}

func TestFinalize_EmptyFile(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	_, err := svc.Finalize(context.Background(), core.FinalizeRequest{FileName: "none.csv", TotalChunks: 0, VehicleID: "veh-1"})
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestFinalize_HeaderOnly(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	upload(t, svc, "h.csv", csvHeader, 1)

	res, err := svc.Finalize(context.Background(), core.FinalizeRequest{FileName: "h.csv", TotalChunks: 1, VehicleID: "veh-1"})
	require.NoError(t, err)
	assert.Zero(t, res.RowsStaged)
	assert.Zero(t, res.RowsInserted)
}

func TestFinalize_MissingChunk(t *testing.T) {
	svc, store, cfg := newTestService(t, nil)
	upload(t, svc, "gap.csv", csvHeader, 1)

	_, err := svc.Finalize(context.Background(), core.FinalizeRequest{FileName: "gap.csv", TotalChunks: 2, VehicleID: "veh-1"})
	var serr *core.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, err.Error(), "missing chunk 1")
	assert.Zero(t, store.BulkLoads)
	assertDirEmpty(t, cfg.Upload.ChunkDir)
}

func TestFinalize_BadValueRejectsWholeFile(t *testing.T) {
	svc, store, cfg := newTestService(t, nil)

	content := csvHeader +
		"2024-01-01T00:00:00Z,1,1,1,1,D\n" +
		"2024-01-01T00:00:01Z,1,1,full,1,D\n"
	upload(t, svc, "v.csv", content, 1)

	_, err := svc.Finalize(context.Background(), core.FinalizeRequest{FileName: "v.csv", TotalChunks: 1, VehicleID: "veh-1"})
	var serr *core.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Empty(t, store.All(), "no row may be committed from a failed file")
	assertDirEmpty(t, cfg.Upload.ChunkDir)
}

func TestFinalize_MissingRequiredValue(t *testing.T) {
	svc, store, _ := newTestService(t, nil)

	content := csvHeader + "2024-01-01T00:00:00Z,1,1,1,,D\n"
	upload(t, svc, "e.csv", content, 1)

	_, err := svc.Finalize(context.Background(), core.FinalizeRequest{FileName: "e.csv", TotalChunks: 1, VehicleID: "veh-1"})
	require.Error(t, err)
	assert.Empty(t, store.All())
}

func TestFinalize_StoreFailure(t *testing.T) {
	svc, store, cfg := newTestService(t, nil)
	store.BulkLoadErr = &core.StorageError{Op: "copy into staging", Err: errors.New("connection reset")}

	upload(t, svc, "s.csv", csvHeader+"2024-01-01,1,1,1,1,D\n", 1)

	_, err := svc.Finalize(context.Background(), core.FinalizeRequest{FileName: "s.csv", TotalChunks: 1, VehicleID: "veh-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assertDirEmpty(t, cfg.Upload.ChunkDir)
}

func TestFinalize_InvalidRequest(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	tests := []struct {
		name string
		req  core.FinalizeRequest
	}{
		{"traversal", core.FinalizeRequest{FileName: "../x.csv", TotalChunks: 1, VehicleID: "v"}},
		{"no file", core.FinalizeRequest{TotalChunks: 1, VehicleID: "v"}},
		{"negative chunks", core.FinalizeRequest{FileName: "x.csv", TotalChunks: -1, VehicleID: "v"}},
		{"no vehicle", core.FinalizeRequest{FileName: "x.csv", TotalChunks: 1}},
		{"long vehicle", core.FinalizeRequest{FileName: "x.csv", TotalChunks: 1, VehicleID: strings.Repeat("v", 101)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Finalize(context.Background(), tt.req)
			var verr *core.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

type busyLocker struct{}

func (busyLocker) Acquire(context.Context, string) (func(), error) {
	return nil, core.ErrFinalizeInProgress
}

func TestFinalize_LockHeld(t *testing.T) {
	svc, store, cfg := newTestService(t, busyLocker{})
	upload(t, svc, "l.csv", csvHeader, 1)

	_, err := svc.Finalize(context.Background(), core.FinalizeRequest{FileName: "l.csv", TotalChunks: 1, VehicleID: "veh-1"})
	require.ErrorIs(t, err, core.ErrFinalizeInProgress)
	assert.Zero(t, store.BulkLoads)

	// The holder's chunks are left alone.
	_, statErr := os.Stat(core.NewChunkStore(cfg.Upload.ChunkDir, 0, nil).ChunkPath("l.csv", 0))
	assert.NoError(t, statErr)
}

func TestFinalize_TooManyUploads(t *testing.T) {
	dir := t.TempDir()
	store := testutil.NewMemoryStore()
	chunks := core.NewChunkStore(dir, 0, logging.Discard())
	limiter := core.NewUploadLimiter(1, 20*time.Millisecond)
	f := core.NewFinalizer(chunks, store, limiter, nil, core.FinalizerConfig{}, logging.Discard())

	require.True(t, limiter.TryAcquire())
	defer limiter.Release()

	_, err := f.Finalize(context.Background(), core.FinalizeRequest{FileName: "x.csv", TotalChunks: 1, VehicleID: "veh-1"})
	require.ErrorIs(t, err, core.ErrTooManyUploads)
	assert.Equal(t, "UPL002", core.MapError(err).Code)
}

func seedRecords(store *testutil.MemoryStore, vehicle string, n int, start time.Time) {
	for i := 0; i < n; i++ {
		speed := float64(i)
		store.Seed(core.Record{
			VehicleID: vehicle,
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Speed:     &speed,
			Odometer:  float64(i * 10),
			SOC:       100 - i,
			Elevation: 1,
		})
	}
}

func TestService_List(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seedRecords(store, "veh-b", 15, start)
	seedRecords(store, "veh-a", 10, start)

	t.Run("first page", func(t *testing.T) {
		page, err := svc.List(ctx, core.Filters{}, core.PageRequest{})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Number)
		assert.Equal(t, 10, page.Size)
		assert.EqualValues(t, 25, page.Count)
		assert.Len(t, page.Results, 10)
		assert.True(t, page.HasNext)
		assert.False(t, page.HasPrevious)
		assert.Equal(t, []string{"veh-a", "veh-b"}, page.VehicleIDs)
	})

	t.Run("last page", func(t *testing.T) {
		page, err := svc.List(ctx, core.Filters{}, core.PageRequest{Page: "last"})
		require.NoError(t, err)
		assert.Equal(t, 3, page.Number)
		assert.Len(t, page.Results, 5)
		assert.False(t, page.HasNext)
		assert.True(t, page.HasPrevious)
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := svc.List(ctx, core.Filters{}, core.PageRequest{Page: "4"})
		var nf *core.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "Invalid page.", nf.Message)
	})

	t.Run("page size capped", func(t *testing.T) {
		page, err := svc.List(ctx, core.Filters{}, core.PageRequest{PageSize: "500"})
		require.NoError(t, err)
		assert.Equal(t, 100, page.Size)
		assert.Len(t, page.Results, 25)
	})

	t.Run("filter and order", func(t *testing.T) {
		page, err := svc.List(ctx, core.Filters{
			VehicleID:        "veh-a",
			InitialTimestamp: "2024-01-01T00:02:00Z",
			FinalTimestamp:   "2024-01-01T00:05:00Z",
			Ordering:         "-timestamp",
		}, core.PageRequest{})
		require.NoError(t, err)
		require.Len(t, page.Results, 4)
		for _, rec := range page.Results {
			assert.Equal(t, "veh-a", rec.VehicleID)
		}
		assert.True(t, page.Results[0].Timestamp.After(page.Results[3].Timestamp))
		// Vehicle list is unfiltered.
		assert.Equal(t, []string{"veh-a", "veh-b"}, page.VehicleIDs)
	})

	t.Run("bad filters ignored", func(t *testing.T) {
		page, err := svc.List(ctx, core.Filters{InitialTimestamp: "garbage", Timezone: "Nowhere/Land", Ordering: "bogus"}, core.PageRequest{})
		require.NoError(t, err)
		assert.EqualValues(t, 25, page.Count)
	})
}

func TestService_ListEmpty(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	page, err := svc.List(context.Background(), core.Filters{}, core.PageRequest{Page: "1"})
	require.NoError(t, err)
	assert.Zero(t, page.Count)
	assert.Empty(t, page.Results)
	assert.Empty(t, page.VehicleIDs)
	assert.False(t, page.HasNext)
}

func TestService_CreateAndGet(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()

	fields := map[string]any{
		"vehicle_id": "veh-1",
		"timestamp":  "2024-01-01T10:00:00+01:00",
		"odometer":   "12.5",
		"soc":        "50",
		"elevation":  "3",
	}
	rec, err := svc.Create(ctx, fields)
	require.NoError(t, err)
	assert.NotZero(t, rec.ID)
	assert.True(t, rec.Timestamp.Equal(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)))

	got, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.VehicleID, got.VehicleID)

	_, err = svc.Create(ctx, fields)
	var cerr *core.ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "The fields vehicle_id, timestamp must make a unique set.", cerr.Error())

	_, err = svc.Get(ctx, rec.ID+100)
	var nf *core.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestService_CreateInvalid(t *testing.T) {
	svc, store, _ := newTestService(t, nil)

	_, err := svc.Create(context.Background(), map[string]any{"vehicle_id": "veh-1"})
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "timestamp")
	assert.Empty(t, store.All())
}

func TestService_Ping(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	require.NoError(t, svc.Ping(context.Background()))

	store.PingErr = fmt.Errorf("db down")
	assert.Error(t, svc.Ping(context.Background()))
}

func TestService_UploadStatus(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	status := svc.UploadLimiterStatus()
	assert.Equal(t, 2, status.MaxConcurrent)
	assert.Zero(t, status.Active)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, svc.WaitForUploads(ctx))
}
