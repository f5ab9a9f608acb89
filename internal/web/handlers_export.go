package web

import (
	"bufio"
	"net/http"
)

// exportBufferSize is the write buffer between the encoder and the client.
const exportBufferSize = 64 << 10

// flushWriter flushes the response after every buffered write so large
// exports reach the client while rows are still being read.
type flushWriter struct {
	rc      *http.ResponseController
	w       http.ResponseWriter
	written int64
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	f.written += int64(n)
	if err != nil {
		return n, err
	}
	_ = f.rc.Flush()
	return n, nil
}

// handleExport streams every record matching the list filters as a file
// download. The format comes from the export parameter (csv, json, xlsx).
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	filters := parseFilters(r)
	meta := s.service.ExportInfo(filters, r.URL.Query().Get("export"))

	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set("Content-Disposition", meta.ContentDisposition())

	fw := &flushWriter{rc: http.NewResponseController(w), w: w}
	buf := bufio.NewWriterSize(fw, exportBufferSize)
	if _, err := s.service.Export(r.Context(), filters, meta.Format, buf); err != nil {
		// Once bytes are out the status is committed; only log.
		if fw.written == 0 {
			w.Header().Del("Content-Disposition")
			w.Header().Del("Content-Type")
			s.respondError(w, r, err)
			return
		}
		s.logger.Error("export aborted mid-stream", "error", err, "format", meta.Format)
		return
	}
	if err := buf.Flush(); err != nil {
		s.logger.Warn("export flush failed", "error", err)
	}
}
