package core

import (
	"context"
	"io"
	"log/slog"

	"github.com/GiacomoSorbiWork/Volteras/internal/config"
	"github.com/GiacomoSorbiWork/Volteras/internal/logging"
)

// Service is the entry point for every telemetry operation: listing,
// retrieval, single-record creation, chunked upload and export.
type Service struct {
	store      Store
	normalizer *Normalizer
	chunks     *ChunkStore
	finalizer  *Finalizer
	limiter    *UploadLimiter

	defaultPageSize int
	maxPageSize     int

	logger *slog.Logger
}

// NewService wires a Service from configuration. A nil locker disables
// finalize locking.
func NewService(store Store, locker Locker, cfg *config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	chunks := NewChunkStore(cfg.Upload.ChunkDir, cfg.Upload.MaxChunkSize, logger)
	limiter := NewUploadLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime)
	finalizer := NewFinalizer(chunks, store, limiter, locker, FinalizerConfig{
		MaxFileSize: cfg.Upload.MaxFileSize,
		Timeout:     cfg.Upload.Timeout,
	}, logger)

	return &Service{
		store:           store,
		normalizer:      NewNormalizer(logger),
		chunks:          chunks,
		finalizer:       finalizer,
		limiter:         limiter,
		defaultPageSize: cfg.Query.DefaultPageSize,
		maxPageSize:     cfg.Query.MaxPageSize,
		logger:          logger,
	}
}

// Resolve turns raw filters into a query.
func (s *Service) Resolve(ctx context.Context, f Filters) Resolved {
	return ResolveFilters(ctx, s.normalizer, f)
}

// List returns one page of records matching f plus every known vehicle ID.
func (s *Service) List(ctx context.Context, f Filters, pr PageRequest) (*Page, error) {
	q := s.Resolve(ctx, f)
	size := ResolvePageSize(pr.PageSize, s.defaultPageSize, s.maxPageSize)

	count, err := s.store.Count(ctx, q)
	if err != nil {
		return nil, err
	}

	number, err := ResolvePageNumber(pr.Page, count, size)
	if err != nil {
		return nil, err
	}

	results, err := s.store.List(ctx, q, size, (number-1)*size)
	if err != nil {
		return nil, err
	}

	ids, err := s.store.VehicleIDs(ctx)
	if err != nil {
		return nil, err
	}

	return &Page{
		Number:      number,
		Size:        size,
		Count:       count,
		Results:     results,
		VehicleIDs:  ids,
		HasNext:     int64(number*size) < count,
		HasPrevious: number > 1,
	}, nil
}

// Get returns one record by primary key.
func (s *Service) Get(ctx context.Context, id int64) (*Record, error) {
	return s.store.Get(ctx, id)
}

// Create validates fields and inserts one record. A duplicate
// (vehicle_id, timestamp) is a ConflictError.
func (s *Service) Create(ctx context.Context, fields map[string]any) (*Record, error) {
	rec, err := DecodeRecord(fields, s.normalizer)
	if err != nil {
		return nil, err
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return nil, err
	}
	logging.Enrich(ctx, s.logger).Info("record created", "id", rec.ID, "vehicle_id", rec.VehicleID)
	return rec, nil
}

// PutChunk stores one chunk of an upload.
func (s *Service) PutChunk(ctx context.Context, fileName string, index int, r io.Reader) (int64, error) {
	return s.chunks.PutChunk(ctx, fileName, index, r)
}

// Finalize reassembles an upload and bulk-loads it.
func (s *Service) Finalize(ctx context.Context, req FinalizeRequest) (*FinalizeResult, error) {
	return s.finalizer.Finalize(ctx, req)
}

// ExportInfo returns the download headers for an export.
func (s *Service) ExportInfo(f Filters, format string) ExportMeta {
	return ExportInfo(f, format)
}

// Export streams every record matching f to w in format.
func (s *Service) Export(ctx context.Context, f Filters, format string, w io.Writer) (ExportMeta, error) {
	meta := ExportInfo(f, format)
	n, err := ExportRecords(ctx, s.store, s.Resolve(ctx, f), meta.Format, w)
	if err != nil {
		return meta, err
	}
	logging.Enrich(ctx, s.logger).Info("export completed",
		"format", meta.Format,
		"file_name", meta.FileName,
		"rows", n,
	)
	return meta, nil
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// UploadLimiterStatus returns finalize slot usage.
func (s *Service) UploadLimiterStatus() UploadLimiterStatus {
	return s.limiter.Status()
}

// WaitForUploads blocks until running finalize calls complete.
func (s *Service) WaitForUploads(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
