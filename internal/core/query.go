package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/GiacomoSorbiWork/Volteras/internal/logging"
)

// Filters holds the raw list/export query parameters.
type Filters struct {
	VehicleID        string
	InitialTimestamp string
	FinalTimestamp   string
	Timezone         string
	Ordering         string
}

// OrderTerm is one ORDER BY column.
type OrderTerm struct {
	Field string
	Desc  bool
}

func (o OrderTerm) String() string {
	if o.Desc {
		return "-" + o.Field
	}
	return o.Field
}

// Resolved is a validated, typed form of Filters shared by list and export.
type Resolved struct {
	VehicleID string
	From      *time.Time
	To        *time.Time
	Order     []OrderTerm
}

// orderableFields is the ordering allowlist.
var orderableFields = map[string]bool{
	"id":          true,
	"vehicle_id":  true,
	"timestamp":   true,
	"speed":       true,
	"odometer":    true,
	"soc":         true,
	"elevation":   true,
	"shift_state": true,
}

// DefaultOrder applies when no valid ordering is requested.
var DefaultOrder = []OrderTerm{{Field: "timestamp"}}

// ResolveFilters converts raw filters into a query. Unparseable bounds and
// unknown zones or ordering terms are dropped with a warning, never an error.
func ResolveFilters(ctx context.Context, n *Normalizer, f Filters) Resolved {
	r := Resolved{VehicleID: strings.TrimSpace(f.VehicleID)}

	if v := strings.TrimSpace(f.InitialTimestamp); v != "" {
		if ts, ok := n.ParseSoft(ctx, v, f.Timezone); ok {
			r.From = &ts
		}
	}
	if v := strings.TrimSpace(f.FinalTimestamp); v != "" {
		if ts, ok := n.ParseSoft(ctx, v, f.Timezone); ok {
			r.To = &ts
		}
	}

	r.Order = ParseOrdering(f.Ordering)
	if len(r.Order) == 0 {
		r.Order = DefaultOrder
	}
	if unknown := unknownOrderTerms(f.Ordering); len(unknown) > 0 {
		logging.Enrich(ctx, n.logger).Warn("ignoring unknown ordering fields", "fields", unknown)
	}
	return r
}

// ParseOrdering splits a comma-separated ordering parameter. A leading "-"
// means descending; fields outside the allowlist are dropped, as are repeats.
func ParseOrdering(raw string) []OrderTerm {
	var terms []OrderTerm
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		desc := strings.HasPrefix(part, "-")
		field := strings.TrimPrefix(part, "-")
		if !orderableFields[field] || seen[field] {
			continue
		}
		seen[field] = true
		terms = append(terms, OrderTerm{Field: field, Desc: desc})
	}
	return terms
}

func unknownOrderTerms(raw string) []string {
	var unknown []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !orderableFields[strings.TrimPrefix(part, "-")] {
			unknown = append(unknown, part)
		}
	}
	return unknown
}

// WhereBuilder accumulates AND-ed conditions with $n placeholders.
type WhereBuilder struct {
	conditions []string
	args       []any
}

// NewWhereBuilder returns an empty builder.
func NewWhereBuilder() *WhereBuilder {
	return &WhereBuilder{}
}

// Add appends "column op $n" bound to val.
func (b *WhereBuilder) Add(column, op string, val any) {
	b.args = append(b.args, val)
	b.conditions = append(b.conditions,
		fmt.Sprintf("%s %s $%d", pgx.Identifier{column}.Sanitize(), op, len(b.args)))
}

// Build returns " WHERE ..." (or "") and the bound arguments.
func (b *WhereBuilder) Build() (string, []any) {
	if len(b.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(b.conditions, " AND "), b.args
}

// Where renders the WHERE clause for r.
func (r Resolved) Where() (string, []any) {
	wb := NewWhereBuilder()
	if r.VehicleID != "" {
		wb.Add("vehicle_id", "=", r.VehicleID)
	}
	if r.From != nil {
		wb.Add("timestamp", ">=", *r.From)
	}
	if r.To != nil {
		wb.Add("timestamp", "<=", *r.To)
	}
	return wb.Build()
}

// OrderBy renders the ORDER BY clause for r with an id tiebreaker so
// pagination is stable across equal sort keys.
func (r Resolved) OrderBy() string {
	order := r.Order
	if len(order) == 0 {
		order = DefaultOrder
	}
	parts := make([]string, 0, len(order)+1)
	hasID := false
	for _, t := range order {
		dir := "ASC"
		if t.Desc {
			dir = "DESC"
		}
		parts = append(parts, pgx.Identifier{t.Field}.Sanitize()+" "+dir)
		hasID = hasID || t.Field == "id"
	}
	if !hasID {
		parts = append(parts, `"id" ASC`)
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// Matches reports whether rec satisfies the filter part of r.
func (r Resolved) Matches(rec Record) bool {
	if r.VehicleID != "" && rec.VehicleID != r.VehicleID {
		return false
	}
	if r.From != nil && rec.Timestamp.Before(*r.From) {
		return false
	}
	if r.To != nil && rec.Timestamp.After(*r.To) {
		return false
	}
	return true
}

// PageRequest holds raw page and page_size parameters.
type PageRequest struct {
	Page     string
	PageSize string
}

// Page is one page of list results.
type Page struct {
	Number      int
	Size        int
	Count       int64
	Results     []Record
	VehicleIDs  []string
	HasNext     bool
	HasPrevious bool
}

// errInvalidPage is returned for unparseable or out-of-range pages.
var errInvalidPage = &NotFoundError{Message: "Invalid page."}

// ResolvePageSize applies the default and cap to a raw page_size.
// Non-numeric and non-positive values give the default.
func ResolvePageSize(raw string, def, max int) int {
	size, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || size <= 0 {
		return def
	}
	if max > 0 && size > max {
		return max
	}
	return size
}

// ResolvePageNumber validates a raw page against the result count.
// Empty means page 1; "last" means the final page. Page 1 is valid even
// for an empty result.
func ResolvePageNumber(raw string, count int64, size int) (int, error) {
	pages := int((count + int64(size) - 1) / int64(size))
	if pages < 1 {
		pages = 1
	}

	raw = strings.TrimSpace(raw)
	switch raw {
	case "":
		return 1, nil
	case "last":
		return pages, nil
	}

	number, err := strconv.Atoi(raw)
	if err != nil || number < 1 || number > pages {
		return 0, errInvalidPage
	}
	return number, nil
}
