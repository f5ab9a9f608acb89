package core

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

// DefaultExportStem names export files when no vehicle_id filter is set.
const DefaultExportStem = "vehicle_data"

const (
	xlsxSheet      = "Sheet1"
	xlsxTimeFormat = "yyyy-mm-dd hh:mm:ss"
)

// ExportMeta describes an export download.
type ExportMeta struct {
	Format      string
	ContentType string
	FileName    string
}

// ContentDisposition returns the attachment header value.
func (m ExportMeta) ContentDisposition() string {
	return "attachment; filename=" + m.FileName
}

// NormalizeFormat maps a requested format to a supported one. Anything
// unrecognized falls back to CSV.
func NormalizeFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatJSON:
		return FormatJSON
	case FormatXLSX:
		return FormatXLSX
	default:
		return FormatCSV
	}
}

// ExportInfo returns headers for an export before any data is streamed.
func ExportInfo(f Filters, format string) ExportMeta {
	format = NormalizeFormat(format)
	stem := strings.TrimSpace(f.VehicleID)
	if stem == "" {
		stem = DefaultExportStem
	}

	meta := ExportMeta{Format: format, FileName: stem + "." + format}
	switch format {
	case FormatJSON:
		meta.ContentType = "application/json"
	case FormatXLSX:
		meta.ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		meta.ContentType = "text/csv"
	}
	return meta
}

// recordWriter encodes a stream of records in one format.
type recordWriter interface {
	Write(rec Record) error
	Close() error
}

func newRecordWriter(format string, w io.Writer) (recordWriter, error) {
	switch format {
	case FormatJSON:
		return &jsonRecordWriter{w: w}, nil
	case FormatXLSX:
		return newXLSXRecordWriter(w)
	default:
		return &csvRecordWriter{w: csv.NewWriter(w)}, nil
	}
}

// ExportRecords streams matching records from store to w.
func ExportRecords(ctx context.Context, store Store, q Resolved, format string, w io.Writer) (int64, error) {
	rw, err := newRecordWriter(NormalizeFormat(format), w)
	if err != nil {
		return 0, err
	}

	var n int64
	err = store.Stream(ctx, q, func(rec Record) error {
		n++
		return rw.Write(rec)
	})
	if err != nil {
		return n, storageErr("export", err)
	}
	if err := rw.Close(); err != nil {
		return n, storageErr("export", err)
	}
	return n, nil
}

// csvRecordWriter writes the header with the first row, so an empty
// result is an empty body.
type csvRecordWriter struct {
	w       *csv.Writer
	started bool
}

func (c *csvRecordWriter) Write(rec Record) error {
	if !c.started {
		c.started = true
		if err := c.w.Write(Columns); err != nil {
			return err
		}
	}
	return c.w.Write(rec.Values())
}

func (c *csvRecordWriter) Close() error {
	c.w.Flush()
	return c.w.Error()
}

// jsonRecordWriter writes a JSON array one element at a time.
type jsonRecordWriter struct {
	w     io.Writer
	count int
}

func (j *jsonRecordWriter) Write(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %d: %w", rec.ID, err)
	}
	sep := ","
	if j.count == 0 {
		sep = "["
	}
	j.count++
	if _, err := io.WriteString(j.w, sep); err != nil {
		return err
	}
	_, err = j.w.Write(data)
	return err
}

func (j *jsonRecordWriter) Close() error {
	if j.count == 0 {
		_, err := io.WriteString(j.w, "[]")
		return err
	}
	_, err := io.WriteString(j.w, "]")
	return err
}

// xlsxRecordWriter writes one sheet via excelize's stream writer.
// Timestamps are written as UTC wall-clock values since cells carry no zone.
type xlsxRecordWriter struct {
	w         io.Writer
	file      *excelize.File
	sheet     *excelize.StreamWriter
	timeStyle int
	row       int
}

func newXLSXRecordWriter(w io.Writer) (*xlsxRecordWriter, error) {
	f := excelize.NewFile()
	sw, err := f.NewStreamWriter(xlsxSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("xlsx stream writer: %w", err)
	}
	format := xlsxTimeFormat
	style, err := f.NewStyle(&excelize.Style{CustomNumFmt: &format})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("xlsx time style: %w", err)
	}
	return &xlsxRecordWriter{w: w, file: f, sheet: sw, timeStyle: style, row: 1}, nil
}

func (x *xlsxRecordWriter) Write(rec Record) error {
	if x.row == 1 {
		header := make([]any, len(Columns))
		for i, c := range Columns {
			header[i] = c
		}
		if err := x.setRow(header); err != nil {
			return err
		}
	}

	var speed, shift any
	if rec.Speed != nil {
		speed = *rec.Speed
	}
	if rec.ShiftState != nil {
		shift = *rec.ShiftState
	}
	return x.setRow([]any{
		rec.ID,
		rec.VehicleID,
		excelize.Cell{StyleID: x.timeStyle, Value: rec.Timestamp.UTC()},
		speed,
		rec.Odometer,
		rec.SOC,
		rec.Elevation,
		shift,
	})
}

func (x *xlsxRecordWriter) setRow(values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, x.row)
	if err != nil {
		return err
	}
	if err := x.sheet.SetRow(cell, values); err != nil {
		return fmt.Errorf("xlsx row %d: %w", x.row, err)
	}
	x.row++
	return nil
}

func (x *xlsxRecordWriter) Close() error {
	defer x.file.Close()
	if err := x.sheet.Flush(); err != nil {
		return fmt.Errorf("xlsx flush: %w", err)
	}
	if err := x.file.Write(x.w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}
