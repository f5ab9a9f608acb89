package core

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	_ "time/tzdata" // zone names must resolve in minimal containers

	"github.com/araddon/dateparse"

	"github.com/GiacomoSorbiWork/Volteras/internal/logging"
)

var errEmptyTimestamp = errors.New("empty value")

// Normalizer turns loosely formatted timestamps into UTC instants.
//
// Naive values (no offset) are read in the caller's IANA zone when one is
// given and known, otherwise as UTC. Values that carry an offset keep it.
// The result is always converted to UTC.
type Normalizer struct {
	logger *slog.Logger
}

// NewNormalizer returns a Normalizer that logs soft failures to logger.
func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// Parse interprets value strictly. An unknown tz is logged and falls back
// to UTC.
func (n *Normalizer) Parse(value, tz string) (time.Time, error) {
	return parseIn(value, n.Location(context.Background(), tz))
}

// ParseSoft is Parse with option semantics: failures are logged at warning
// level and reported as false.
func (n *Normalizer) ParseSoft(ctx context.Context, value, tz string) (time.Time, bool) {
	ts, err := parseIn(value, n.Location(ctx, tz))
	if err != nil {
		logging.Enrich(ctx, n.logger).Warn("ignoring unparseable timestamp",
			"value", value,
			"timezone", tz,
			"error", err,
		)
		return time.Time{}, false
	}
	return ts, true
}

// Location resolves an IANA zone name. Empty names give UTC; unknown names
// log a warning and give UTC.
func (n *Normalizer) Location(ctx context.Context, tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		logging.Enrich(ctx, n.logger).Warn("invalid timezone provided, using UTC",
			"timezone", tz,
			"error", err,
		)
		return time.UTC
	}
	return loc
}

func parseIn(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, &ParseError{Value: value, Err: errEmptyTimestamp}
	}
	ts, err := dateparse.ParseIn(value, loc)
	if err != nil {
		return time.Time{}, &ParseError{Value: value, Err: err}
	}
	return ts.UTC(), nil
}
