package core

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Column length limits, mirrored by schema.sql.
const (
	MaxVehicleIDLen  = 100
	MaxShiftStateLen = 20
)

// Field validation messages returned in ValidationError.Fields.
const (
	msgRequired      = "This field is required."
	msgNotNull       = "This field may not be null."
	msgInvalidNumber = "A valid number is required."
	msgInvalidInt    = "A valid integer is required."
	msgInvalidDate   = "Datetime has wrong format."
	msgInvalidString = "Not a valid string."
)

// Columns lists exported record fields in model order. CSV and XLSX exports
// use it as their header.
var Columns = []string{"id", "vehicle_id", "timestamp", "speed", "odometer", "soc", "elevation", "shift_state"}

// UniqueFields names the columns of the unique_vehicle_timestamp constraint.
var UniqueFields = []string{"vehicle_id", "timestamp"}

// Record is one telemetry reading for one vehicle at one instant.
type Record struct {
	ID         int64     `json:"id"`
	VehicleID  string    `json:"vehicle_id"`
	Timestamp  time.Time `json:"timestamp"`
	Speed      *float64  `json:"speed"`
	Odometer   float64   `json:"odometer"`
	SOC        int       `json:"soc"`
	Elevation  float64   `json:"elevation"`
	ShiftState *string   `json:"shift_state"`
}

func (r Record) String() string {
	return r.VehicleID + " @ " + r.Timestamp.UTC().Format(time.RFC3339)
}

// Values renders the record as strings in Columns order. Nulls become empty
// strings, floats use their shortest representation.
func (r Record) Values() []string {
	speed := ""
	if r.Speed != nil {
		speed = formatFloat(*r.Speed)
	}
	shift := ""
	if r.ShiftState != nil {
		shift = *r.ShiftState
	}
	return []string{
		strconv.FormatInt(r.ID, 10),
		r.VehicleID,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		speed,
		formatFloat(r.Odometer),
		strconv.Itoa(r.SOC),
		formatFloat(r.Elevation),
		shift,
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// DecodeRecord validates caller-supplied fields for single-record creation.
// Values may be JSON numbers or strings (form posts). Every failing field is
// reported; the id field is read-only and ignored.
func DecodeRecord(fields map[string]any, n *Normalizer) (*Record, error) {
	verr := &ValidationError{Message: "invalid record"}
	rec := &Record{}

	if s, ok := requiredString(fields, "vehicle_id", MaxVehicleIDLen, verr); ok {
		rec.VehicleID = s
	}

	if raw, present := fields["timestamp"]; !present {
		verr.Add("timestamp", msgRequired)
	} else if raw == nil {
		verr.Add("timestamp", msgNotNull)
	} else {
		s, ok := raw.(string)
		switch {
		case !ok:
			verr.Add("timestamp", msgInvalidDate)
		case strings.TrimSpace(s) == "":
			verr.Add("timestamp", msgRequired)
		default:
			ts, err := n.Parse(s, "")
			if err != nil {
				verr.Add("timestamp", msgInvalidDate)
			} else {
				rec.Timestamp = ts
			}
		}
	}

	if raw, present := fields["speed"]; present && !isBlank(raw) {
		if f, ok := toFloat(raw); ok {
			rec.Speed = &f
		} else {
			verr.Add("speed", msgInvalidNumber)
		}
	}

	if f, ok := requiredFloat(fields, "odometer", verr); ok {
		rec.Odometer = f
	}
	if f, ok := requiredFloat(fields, "elevation", verr); ok {
		rec.Elevation = f
	}

	if raw, present := fields["soc"]; !present || isEmptyString(raw) {
		verr.Add("soc", msgRequired)
	} else if raw == nil {
		verr.Add("soc", msgNotNull)
	} else if i, ok := toInt(raw); ok {
		rec.SOC = i
	} else {
		verr.Add("soc", msgInvalidInt)
	}

	if raw, present := fields["shift_state"]; present && raw != nil {
		s, ok := toString(raw)
		switch {
		case !ok:
			verr.Add("shift_state", msgInvalidString)
		case utf8.RuneCountInString(s) > MaxShiftStateLen:
			verr.Add("shift_state", maxLenMessage(MaxShiftStateLen))
		default:
			rec.ShiftState = &s
		}
	}

	if len(verr.Fields) > 0 {
		return nil, verr
	}
	return rec, nil
}

func maxLenMessage(n int) string {
	return fmt.Sprintf("Ensure this field has no more than %d characters.", n)
}

func requiredString(fields map[string]any, name string, maxLen int, verr *ValidationError) (string, bool) {
	raw, present := fields[name]
	if !present {
		verr.Add(name, msgRequired)
		return "", false
	}
	if raw == nil {
		verr.Add(name, msgNotNull)
		return "", false
	}
	s, ok := toString(raw)
	if !ok {
		verr.Add(name, msgInvalidString)
		return "", false
	}
	if s == "" {
		verr.Add(name, msgRequired)
		return "", false
	}
	if utf8.RuneCountInString(s) > maxLen {
		verr.Add(name, maxLenMessage(maxLen))
		return "", false
	}
	return s, true
}

func requiredFloat(fields map[string]any, name string, verr *ValidationError) (float64, bool) {
	raw, present := fields[name]
	if !present || isEmptyString(raw) {
		verr.Add(name, msgRequired)
		return 0, false
	}
	if raw == nil {
		verr.Add(name, msgNotNull)
		return 0, false
	}
	f, ok := toFloat(raw)
	if !ok {
		verr.Add(name, msgInvalidNumber)
		return 0, false
	}
	return f, true
}

func isBlank(v any) bool {
	return v == nil || isEmptyString(v)
}

func isEmptyString(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// toString accepts strings and numbers; strings are trimmed.
func toString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case json.Number:
		return t.String(), true
	case float64:
		return formatFloat(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		return "", false
	}
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// toInt accepts integers and integral decimals such as "12" or 12.0.
func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) || math.Abs(t) > math.MaxInt32 {
			return 0, false
		}
		return int(t), true
	case json.Number:
		return intFromString(t.String())
	case string:
		return intFromString(strings.TrimSpace(t))
	default:
		return 0, false
	}
}

func intFromString(s string) (int, bool) {
	if i, err := strconv.ParseInt(s, 10, 32); err == nil {
		return int(i), true
	}
	// "N.0", "N.00" are integral
	if dot := strings.IndexByte(s, '.'); dot > 0 && strings.Trim(s[dot+1:], "0") == "" {
		i, err := strconv.ParseInt(s[:dot], 10, 32)
		if err == nil {
			return int(i), true
		}
	}
	return 0, false
}
