// Package web provides HTTP handlers for the telemetry API.
// This file contains shared utilities and helper functions used across handlers.
package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/GiacomoSorbiWork/Volteras/internal/core"
)

// maxFormMemory is how much of a multipart body is held in memory before
// spilling to temp files.
const maxFormMemory = 32 << 20

// maxJSONBody caps JSON and urlencoded request bodies.
const maxJSONBody = 1 << 20

// parseFilters extracts list/export filters from URL query parameters.
func parseFilters(r *http.Request) core.Filters {
	q := r.URL.Query()
	return core.Filters{
		VehicleID:        q.Get("vehicle_id"),
		InitialTimestamp: q.Get("initial_timestamp"),
		FinalTimestamp:   q.Get("final_timestamp"),
		Timezone:         q.Get("timezone"),
		Ordering:         q.Get("ordering"),
	}
}

// isJSON reports whether the request body is declared as JSON.
func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

// decodeFields reads a JSON object or a form body into a field map.
// JSON numbers are kept as json.Number; form values are strings (first
// value wins).
func decodeFields(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	if isJSON(r) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
		if err != nil {
			return nil, err
		}
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		var fields map[string]any
		if err := dec.Decode(&fields); err != nil || fields == nil {
			return nil, core.NewValidationError("JSON parse error: request body must be a JSON object")
		}
		return fields, nil
	}

	if err := parseForm(w, r); err != nil {
		return nil, err
	}
	fields := make(map[string]any, len(r.Form))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}
	return fields, nil
}

// parseForm parses multipart or urlencoded bodies.
func parseForm(w http.ResponseWriter, r *http.Request) error {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			return formError(err)
		}
		return nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := r.ParseForm(); err != nil {
		return formError(err)
	}
	return nil
}

func formError(err error) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return err
	}
	return core.NewValidationError("invalid form body: %v", err)
}

// fieldString returns a field as a trimmed string. Numbers are rendered
// in their JSON form.
func fieldString(fields map[string]any, name string) string {
	switch v := fields[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// fieldInt parses an integer field. ok is false when the field is absent
// or blank; err is set when it is present but not an integer.
func fieldInt(fields map[string]any, name string) (n int, ok bool, err error) {
	raw := fieldString(fields, name)
	if raw == "" {
		return 0, false, nil
	}
	n, err = strconv.Atoi(raw)
	if err != nil {
		return 0, true, core.NewValidationError("%s must be an integer", name)
	}
	return n, true, nil
}

// absoluteURL rebuilds the request URL with scheme and host, applying fn
// to a copy of its query.
func absoluteURL(r *http.Request, fn func(url.Values)) string {
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}

	q := r.URL.Query()
	fn(q)

	u := url.URL{
		Scheme:   scheme,
		Host:     r.Host,
		Path:     r.URL.Path,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// pageLinks returns the next and previous page URLs, nil when absent.
// The link to page 1 omits the page parameter.
func pageLinks(r *http.Request, page *core.Page) (next, previous *string) {
	if page.HasNext {
		link := absoluteURL(r, func(q url.Values) {
			q.Set("page", strconv.Itoa(page.Number+1))
		})
		next = &link
	}
	if page.HasPrevious {
		link := absoluteURL(r, func(q url.Values) {
			if page.Number-1 == 1 {
				q.Del("page")
			} else {
				q.Set("page", strconv.Itoa(page.Number-1))
			}
		})
		previous = &link
	}
	return next, previous
}
