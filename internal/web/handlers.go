package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/GiacomoSorbiWork/Volteras/internal/core"
)

// listResponse is the paginated list body.
type listResponse struct {
	Count      int64         `json:"count"`
	Next       *string       `json:"next"`
	Previous   *string       `json:"previous"`
	Results    []core.Record `json:"results"`
	VehicleIDs []string      `json:"vehicleIDs"`
}

// handleList returns one page of filtered records plus every vehicle ID.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := s.service.List(r.Context(), parseFilters(r), core.PageRequest{
		Page:     q.Get("page"),
		PageSize: q.Get("page_size"),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	resp := listResponse{
		Count:      page.Count,
		Results:    page.Results,
		VehicleIDs: page.VehicleIDs,
	}
	if resp.Results == nil {
		resp.Results = []core.Record{}
	}
	if resp.VehicleIDs == nil {
		resp.VehicleIDs = []string{}
	}
	resp.Next, resp.Previous = pageLinks(r, page)

	writeJSON(w, http.StatusOK, resp)
}

// handleGet returns one record by numeric ID. Non-numeric IDs are 404.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, r, &core.NotFoundError{Message: "Not found."})
		return
	}

	rec, err := s.service.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleCreate inserts one record from a JSON or form body.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	fields, err := decodeFields(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	rec, err := s.service.Create(r.Context(), fields)
	if err != nil {
		s.respondFieldErrors(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// healthResponse reports database reachability and finalize slot usage.
type healthResponse struct {
	Status   string                   `json:"status"`
	Database string                   `json:"database"`
	Uploads  core.UploadLimiterStatus `json:"uploads"`
}

// handleHealth pings the database.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Database: "ok", Uploads: s.service.UploadLimiterStatus()}
	status := http.StatusOK
	if err := s.service.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", "error", err)
		resp.Status = "unavailable"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
