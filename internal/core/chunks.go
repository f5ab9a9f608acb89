package core

// chunks.go stores upload chunks on local disk and stitches them back into
// the original file.
//
// Layout under the chunk directory:
//
//	{file_name}_part_{i}       one chunk, written by PutChunk
//	{file_name}                the reassembled upload
//	{file_name}.with_id.csv    the rewritten CSV handed to the bulk loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/GiacomoSorbiWork/Volteras/internal/logging"
)

const transformedSuffix = ".with_id.csv"

// ChunkStore persists chunks under one directory.
type ChunkStore struct {
	dir          string
	maxChunkSize int64
	logger       *slog.Logger
}

// NewChunkStore returns a store rooted at dir. maxChunkSize <= 0 disables
// the per-chunk limit. The directory is created lazily on first write.
func NewChunkStore(dir string, maxChunkSize int64, logger *slog.Logger) *ChunkStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChunkStore{dir: dir, maxChunkSize: maxChunkSize, logger: logger}
}

// ValidateFileName rejects names that could escape the chunk directory.
func ValidateFileName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return &ValidationError{Message: "invalid file name: file_name is required"}
	case name == "." || name == "..":
		return &ValidationError{Message: fmt.Sprintf("invalid file name %q", name)}
	case strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0):
		return &ValidationError{Message: fmt.Sprintf("invalid file name %q: path separators are not allowed", name)}
	}
	return nil
}

// ChunkPath returns where chunk index of fileName is stored.
func (s *ChunkStore) ChunkPath(fileName string, index int) string {
	return filepath.Join(s.dir, fileName+"_part_"+strconv.Itoa(index))
}

// AssembledPath returns where the reassembled file is written.
func (s *ChunkStore) AssembledPath(fileName string) string {
	return filepath.Join(s.dir, fileName)
}

// TransformedPath returns where the rewritten CSV is written.
func (s *ChunkStore) TransformedPath(fileName string) string {
	return s.AssembledPath(fileName) + transformedSuffix
}

// PutChunk stores r as chunk index of fileName and returns the bytes written.
// The chunk is written to a temp file and renamed into place, so readers
// never observe a partial chunk. Re-sending an index replaces it.
func (s *ChunkStore) PutChunk(ctx context.Context, fileName string, index int, r io.Reader) (int64, error) {
	if err := ValidateFileName(fileName); err != nil {
		return 0, err
	}
	if index < 0 {
		return 0, &ValidationError{Message: "chunk_index must be a non-negative integer"}
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return 0, storageErr("create chunk directory", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".chunk-*")
	if err != nil {
		return 0, storageErr("create chunk file", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	src := r
	if s.maxChunkSize > 0 {
		src = io.LimitReader(r, s.maxChunkSize+1)
	}
	n, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: src})
	if err != nil {
		return 0, storageErr("write chunk", err)
	}
	if s.maxChunkSize > 0 && n > s.maxChunkSize {
		return 0, fmt.Errorf("chunk %d exceeds %d bytes: %w", index, s.maxChunkSize, ErrFileTooLarge)
	}
	if err := tmp.Close(); err != nil {
		return 0, storageErr("close chunk file", err)
	}

	final := s.ChunkPath(fileName, index)
	if err := os.Rename(tmpName, final); err != nil {
		return 0, storageErr("store chunk", err)
	}
	committed = true

	logging.Enrich(ctx, s.logger).Debug("chunk stored",
		"file_name", fileName,
		"chunk_index", index,
		"bytes", n,
	)
	return n, nil
}

// Reassemble concatenates chunks 0..total-1 of fileName into AssembledPath,
// deleting each chunk once appended. maxSize <= 0 disables the size limit.
func (s *ChunkStore) Reassemble(ctx context.Context, fileName string, total int, maxSize int64) (int64, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return 0, storageErr("create chunk directory", err)
	}

	out, err := os.Create(s.AssembledPath(fileName))
	if err != nil {
		return 0, storageErr("create assembled file", err)
	}
	defer out.Close()

	var size int64
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return size, err
		}

		n, err := s.appendChunk(out, fileName, i, maxSize-size, maxSize > 0)
		size += n
		if err != nil {
			return size, err
		}
	}

	if err := out.Close(); err != nil {
		return size, storageErr("close assembled file", err)
	}
	return size, nil
}

func (s *ChunkStore) appendChunk(out io.Writer, fileName string, index int, remaining int64, limited bool) (int64, error) {
	path := s.ChunkPath(fileName, index)
	in, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, &StorageError{Op: "reassemble", Err: fmt.Errorf("missing chunk %d of %s", index, fileName)}
		}
		return 0, storageErr("open chunk", err)
	}
	defer in.Close()

	var src io.Reader = in
	if limited {
		src = io.LimitReader(in, remaining+1)
	}
	n, err := io.Copy(out, src)
	if err != nil {
		return n, storageErr("append chunk", err)
	}
	if limited && n > remaining {
		return n, fmt.Errorf("reassembled %s: %w", fileName, ErrFileTooLarge)
	}

	in.Close()
	if err := os.Remove(path); err != nil {
		return n, storageErr("remove chunk", err)
	}
	return n, nil
}

// Cleanup removes the reassembled and transformed files of fileName.
// Missing files are not an error.
func (s *ChunkStore) Cleanup(ctx context.Context, fileName string) {
	for _, path := range []string{s.AssembledPath(fileName), s.TransformedPath(fileName)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logging.Enrich(ctx, s.logger).Warn("failed to remove temp file",
				"path", path,
				"error", err,
			)
		}
	}
}

// ctxReader stops copying once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
