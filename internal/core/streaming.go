package core

// streaming.go rewrites a reassembled upload into the CSV the bulk loader
// consumes, one record at a time so memory stays flat regardless of file size.
//
// Input cleanup applied on the way through:
//
//   - a leading UTF-8 BOM is dropped
//   - invalid UTF-8 in any field becomes U+FFFD
//   - fields whose trimmed value is NULL (any case) become empty
//   - rows shorter than the header are padded with empty fields

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RequiredColumns must all appear in an uploaded CSV header.
var RequiredColumns = []string{"timestamp", "speed", "odometer", "soc", "elevation", "shift_state"}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// errMissingColumns is the header validation failure message.
const errMissingColumns = "CSV header missing required columns."

// RewriteResult describes the rewritten CSV.
type RewriteResult struct {
	// Header is the normalized input header plus vehicle_id, as written.
	Header []string
	// StagingColumns names each written column for the staging table.
	// Known columns keep their name; anything else becomes extra_N.
	StagingColumns []string
	Rows           int64
	BytesRead      int64
}

// SkipBOM returns a reader positioned after a leading UTF-8 BOM, if any.
func SkipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		br.Discard(len(utf8BOM))
	}
	return br
}

// countingReader tracks bytes read for logging.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// NormalizeHeader trims and lower-cases header names.
func NormalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = strings.ToLower(strings.TrimSpace(strings.ToValidUTF8(h, "\uFFFD")))
	}
	return out
}

// MissingColumns returns the required columns absent from a normalized header.
func MissingColumns(header []string) []string {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}
	var missing []string
	for _, c := range RequiredColumns {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	return missing
}

// stagingColumns maps header positions to staging column names. The first
// occurrence of a known column keeps its name; vehicle_id from the file is
// shadowed by the appended one.
func stagingColumns(header []string) []string {
	known := make(map[string]bool, len(RequiredColumns))
	for _, c := range RequiredColumns {
		known[c] = true
	}

	cols := make([]string, 0, len(header)+1)
	for i, h := range header {
		if known[h] {
			cols = append(cols, h)
			delete(known, h)
			continue
		}
		cols = append(cols, "extra_"+strconv.Itoa(i))
	}
	return append(cols, "vehicle_id")
}

// RewriteCSV validates the header of src and copies every row to dst with
// vehicleID appended. A header without the required columns yields a
// ValidationError before anything is written.
func RewriteCSV(ctx context.Context, src io.Reader, dst io.Writer, vehicleID string) (*RewriteResult, error) {
	counter := &countingReader{r: src}
	reader := csv.NewReader(SkipBOM(counter))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	rawHeader, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ValidationError{Message: errMissingColumns}
	}
	if err != nil {
		return nil, storageErr("read header", err)
	}

	header := NormalizeHeader(rawHeader)
	if missing := MissingColumns(header); len(missing) > 0 {
		return nil, &ValidationError{
			Message: errMissingColumns,
			Fields:  map[string][]string{"missing": missing},
		}
	}

	res := &RewriteResult{
		Header:         append(append([]string{}, header...), "vehicle_id"),
		StagingColumns: stagingColumns(header),
	}

	writer := csv.NewWriter(dst)
	if err := writer.Write(res.Header); err != nil {
		return nil, storageErr("write header", err)
	}

	width := len(header)
	out := make([]string, width+1)
	for {
		if res.Rows%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, storageErr("read row", err)
		}
		if len(record) > width {
			line, _ := reader.FieldPos(0)
			return nil, &StorageError{
				Op:  "rewrite",
				Err: fmt.Errorf("record on line %d: more fields than header (%d > %d)", line, len(record), width),
			}
		}

		for i := 0; i < width; i++ {
			if i >= len(record) {
				out[i] = ""
				continue
			}
			out[i] = cleanField(record[i])
		}
		out[width] = vehicleID

		if err := writer.Write(out); err != nil {
			return nil, storageErr("write row", err)
		}
		res.Rows++
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, storageErr("flush rewritten csv", err)
	}
	res.BytesRead = counter.n
	return res, nil
}

func cleanField(v string) string {
	if strings.EqualFold(strings.TrimSpace(v), "NULL") {
		return ""
	}
	return strings.ToValidUTF8(v, "\uFFFD")
}
