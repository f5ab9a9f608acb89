package web

// errors.go provides unified error response handling for the web layer.
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls s.respondError(w, r, err)
//  3. The status code is chosen from the error type
//  4. A support code is attached via core.MapError
//  5. Technical error + context is logged with request ID for correlation

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/GiacomoSorbiWork/Volteras/internal/core"
	"github.com/GiacomoSorbiWork/Volteras/internal/logging"
)

// storageDetailPrefix precedes the underlying error on failed finalize calls.
const storageDetailPrefix = "Error processing file: "

// ErrorResponse represents the JSON structure for API error responses.
type ErrorResponse struct {
	Detail  string   `json:"detail"`
	Code    string   `json:"code"`
	Missing []string `json:"missing,omitempty"`
}

// statusFor maps a domain error to an HTTP status code.
func statusFor(err error) int {
	var (
		verr     *core.ValidationError
		conflict *core.ConflictError
		notFound *core.NotFoundError
		tooBig   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verr), errors.As(err, &conflict):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrFileTooLarge), errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrFinalizeInProgress):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyUploads):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorBody builds the response body for err. Validation messages are
// returned without their per-field suffix.
func errorBody(err error) ErrorResponse {
	body := ErrorResponse{Detail: err.Error(), Code: core.MapError(err).Code}

	var verr *core.ValidationError
	if errors.As(err, &verr) {
		body.Detail = verr.Message
		body.Missing = verr.Fields["missing"]
	}
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		body.Detail = core.ErrFileTooLarge.Error()
		body.Code = core.MapError(core.ErrFileTooLarge).Code
	}
	return body
}

// respondError logs err and writes it as {"detail", "code"}.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	s.respondErrorBody(w, r, err, statusFor(err), errorBody(err))
}

func (s *Server) respondErrorBody(w http.ResponseWriter, r *http.Request, err error, status int, body any) {
	log := logging.Enrich(r.Context(), s.logger).With(
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
	)
	if status >= http.StatusInternalServerError {
		log.Error("request error")
	} else {
		log.Warn("request rejected")
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, body)
}

// respondFieldErrors writes a create failure the way form validation
// reports it: a map of field name to messages, or non_field_errors for a
// uniqueness conflict. Other errors fall back to respondError.
func (s *Server) respondFieldErrors(w http.ResponseWriter, r *http.Request, err error) {
	var verr *core.ValidationError
	if errors.As(err, &verr) && len(verr.Fields) > 0 {
		s.respondErrorBody(w, r, err, http.StatusBadRequest, verr.Fields)
		return
	}
	var conflict *core.ConflictError
	if errors.As(err, &conflict) {
		s.respondErrorBody(w, r, err, http.StatusBadRequest, map[string][]string{
			"non_field_errors": {conflict.Error()},
		})
		return
	}
	s.respondError(w, r, err)
}

// writeJSON encodes v as JSON with the given status.
// Encoding errors are ignored since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
