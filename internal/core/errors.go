package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors surfaced by the upload pipeline.
var (
	// ErrTooManyUploads is returned when all finalize slots are occupied and
	// the wait timeout expires. Clients should retry after a short delay.
	ErrTooManyUploads = errors.New("too many concurrent uploads, please try again later")

	// ErrFinalizeInProgress is returned when another finalize call holds the
	// lock for the same file name.
	ErrFinalizeInProgress = errors.New("finalize already in progress for this file")

	// ErrFileTooLarge is returned when a chunk or reassembled file exceeds
	// its configured size limit.
	ErrFileTooLarge = errors.New("file too large")
)

// ValidationError reports bad caller input. Fields carries per-field
// messages when the failure is attributable to specific fields.
type ValidationError struct {
	Message string
	Fields  map[string][]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], " "))
	}
	msg := e.Message
	if msg == "" {
		msg = "invalid input"
	}
	return msg + " (" + strings.Join(parts, "; ") + ")"
}

// Add records a message against a field.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

// NewValidationError returns a ValidationError without field details.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing record or page.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ConflictError reports a uniqueness violation on single-record insert.
type ConflictError struct {
	Fields []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("The fields %s must make a unique set.", strings.Join(e.Fields, ", "))
}

// StorageError wraps an I/O or database failure with the operation that
// produced it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

// ParseError reports a timestamp that could not be interpreted.
type ParseError struct {
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid date %q: %v", e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
