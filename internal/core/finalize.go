package core

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GiacomoSorbiWork/Volteras/internal/logging"
)

// FinalizeStatus is reported on every successful finalize.
const FinalizeStatus = "file reassembled and processed (streaming insert)"

// FinalizeRequest names the upload to finalize.
type FinalizeRequest struct {
	FileName    string
	TotalChunks int
	VehicleID   string
}

// Validate checks the request before any file is touched.
func (r FinalizeRequest) Validate() error {
	if err := ValidateFileName(r.FileName); err != nil {
		return err
	}
	if r.TotalChunks < 0 {
		return &ValidationError{Message: "total_chunks must be a non-negative integer"}
	}
	if strings.TrimSpace(r.VehicleID) == "" {
		return &ValidationError{Message: "vehicle_id is required"}
	}
	if len([]rune(r.VehicleID)) > MaxVehicleIDLen {
		return &ValidationError{Message: "vehicle_id: " + maxLenMessage(MaxVehicleIDLen)}
	}
	return nil
}

// FinalizeResult is the outcome of a successful finalize.
type FinalizeResult struct {
	Status       string `json:"status"`
	UploadID     string `json:"upload_id"`
	RowsStaged   int64  `json:"rows_staged"`
	RowsInserted int64  `json:"rows_inserted"`
}

// Finalizer turns uploaded chunks into stored records.
type Finalizer struct {
	chunks      *ChunkStore
	store       Store
	limiter     *UploadLimiter
	locker      Locker
	maxFileSize int64
	timeout     time.Duration
	logger      *slog.Logger
}

// FinalizerConfig holds Finalizer limits.
type FinalizerConfig struct {
	MaxFileSize int64
	// Timeout bounds one finalize call; zero means no extra bound.
	Timeout time.Duration
}

// NewFinalizer wires a Finalizer. A nil locker means no locking.
func NewFinalizer(chunks *ChunkStore, store Store, limiter *UploadLimiter, locker Locker, cfg FinalizerConfig, logger *slog.Logger) *Finalizer {
	if locker == nil {
		locker = NopLocker{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Finalizer{
		chunks:      chunks,
		store:       store,
		limiter:     limiter,
		locker:      locker,
		maxFileSize: cfg.MaxFileSize,
		timeout:     cfg.Timeout,
		logger:      logger,
	}
}

// Finalize reassembles, validates, rewrites and bulk-loads one upload.
// The reassembled and rewritten files are removed whatever the outcome.
func (f *Finalizer) Finalize(ctx context.Context, req FinalizeRequest) (*FinalizeResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	uploadID := uuid.NewString()
	log := logging.Enrich(ctx, f.logger).With(
		"upload_id", uploadID,
		"file_name", req.FileName,
		"vehicle_id", req.VehicleID,
	)

	if f.limiter != nil {
		if err := f.limiter.Acquire(ctx); err != nil {
			log.Warn("finalize rejected", "error", err)
			return nil, err
		}
		defer f.limiter.Release()
	}

	release, err := f.locker.Acquire(ctx, req.FileName)
	if err != nil {
		log.Warn("finalize lock unavailable", "error", err)
		return nil, err
	}
	defer release()

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	defer f.chunks.Cleanup(ctx, req.FileName)

	start := time.Now()
	res, err := f.run(ctx, log, req)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			log.Warn("finalize rejected", "error", err)
		} else {
			log.Error("finalize failed", "error", err, "duration", time.Since(start))
		}
		return nil, err
	}

	res.UploadID = uploadID
	log.Info("finalize completed",
		"rows_staged", res.RowsStaged,
		"rows_inserted", res.RowsInserted,
		"duration", time.Since(start),
	)
	return res, nil
}

func (f *Finalizer) run(ctx context.Context, log *slog.Logger, req FinalizeRequest) (*FinalizeResult, error) {
	log.Info("reassembling upload", "total_chunks", req.TotalChunks)
	size, err := f.chunks.Reassemble(ctx, req.FileName, req.TotalChunks, f.maxFileSize)
	if err != nil {
		return nil, err
	}

	log.Info("rewriting csv with vehicle_id", "bytes", size)
	rewrite, err := f.rewrite(ctx, req)
	if err != nil {
		return nil, err
	}

	log.Info("streaming insert", "rows", rewrite.Rows)
	in, err := os.Open(f.chunks.TransformedPath(req.FileName))
	if err != nil {
		return nil, storageErr("open rewritten csv", err)
	}
	defer in.Close()

	bulk, err := f.store.BulkLoad(ctx, rewrite.StagingColumns, in)
	if err != nil {
		return nil, err
	}

	return &FinalizeResult{
		Status:       FinalizeStatus,
		RowsStaged:   bulk.Staged,
		RowsInserted: bulk.Inserted,
	}, nil
}

func (f *Finalizer) rewrite(ctx context.Context, req FinalizeRequest) (*RewriteResult, error) {
	in, err := os.Open(f.chunks.AssembledPath(req.FileName))
	if err != nil {
		return nil, storageErr("open reassembled file", err)
	}
	defer in.Close()

	out, err := os.Create(f.chunks.TransformedPath(req.FileName))
	if err != nil {
		return nil, storageErr("create rewritten csv", err)
	}
	defer out.Close()

	res, err := RewriteCSV(ctx, in, out, req.VehicleID)
	if err != nil {
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, storageErr("close rewritten csv", err)
	}
	return res, nil
}
