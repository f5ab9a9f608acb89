package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/GiacomoSorbiWork/Volteras/internal/core"
)

// multipartOverhead allows for form fields and part headers around a chunk.
const multipartOverhead = 1 << 20

// handleUploadChunk stores one chunk of a chunked CSV upload.
// Form fields: chunk (file), file_name, chunk_index.
func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	if max := s.cfg.Upload.MaxChunkSize; max > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, max+multipartOverhead)
	}

	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.respondError(w, r, err)
			return
		}
		s.respondError(w, r, core.NewValidationError("invalid multipart form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("chunk")
	if err != nil {
		s.respondError(w, r, core.NewValidationError("no chunk provided"))
		return
	}
	defer file.Close()

	fileName := strings.TrimSpace(r.FormValue("file_name"))
	index, err := strconv.Atoi(strings.TrimSpace(r.FormValue("chunk_index")))
	if err != nil {
		s.respondError(w, r, core.NewValidationError("chunk_index must be a non-negative integer"))
		return
	}

	if _, err := s.service.PutChunk(r.Context(), fileName, index, file); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "chunk received"})
}

// handleFinalizeUpload reassembles a chunked upload and bulk-loads it.
// Body (JSON or form): file_name, total_chunks, vehicle_id.
func (s *Server) handleFinalizeUpload(w http.ResponseWriter, r *http.Request) {
	fields, err := decodeFields(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	req, err := finalizeRequest(fields)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	res, err := s.service.Finalize(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		body := errorBody(err)
		if status == http.StatusInternalServerError {
			body.Detail = storageDetailPrefix + err.Error()
		}
		s.respondErrorBody(w, r, err, status, body)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// finalizeRequest validates presence and types of the finalize fields.
func finalizeRequest(fields map[string]any) (core.FinalizeRequest, error) {
	var problems []string

	req := core.FinalizeRequest{
		FileName:  fieldString(fields, "file_name"),
		VehicleID: fieldString(fields, "vehicle_id"),
	}
	if req.FileName == "" {
		problems = append(problems, "file_name: This field is required.")
	}

	total, ok, err := fieldInt(fields, "total_chunks")
	switch {
	case err != nil:
		problems = append(problems, "total_chunks: A valid integer is required.")
	case !ok:
		problems = append(problems, "total_chunks: This field is required.")
	default:
		req.TotalChunks = total
	}

	if req.VehicleID == "" {
		problems = append(problems, "vehicle_id: This field is required.")
	}

	if len(problems) > 0 {
		return req, core.NewValidationError("invalid finalize request: %s", strings.Join(problems, " "))
	}
	return req, nil
}
