// Error codes reference.
//
// This file defines user-friendly error messages with codes for support
// reference. Every error body rendered by the HTTP layer carries one of these
// codes, so an operator can go from a client report to the matching log line.
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate reading: a record for this vehicle and timestamp exists
//	        Patterns: "must make a unique set", "duplicate key"
//	DB002 - Unique constraint violated
//	        Patterns: "unique constraint", "violates unique"
//	DB004 - Connection refused        Patterns: "connection refused"
//	DB005 - Connection reset          Patterns: "connection reset"
//	DB006 - Timeout                   Patterns: "timeout"
//	DB007 - Deadlock                  Patterns: "deadlock"
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid date             Patterns: "invalid date", "datetime has wrong format"
//	VAL002 - Invalid number           Patterns: "valid number", "valid integer"
//	VAL003 - Required field           Patterns: "this field is required"
//	VAL004 - Missing CSV columns      Patterns: "missing required columns"
//	VAL005 - Invalid file name        Patterns: "invalid file name"
//	VAL006 - Over-long value          Patterns: "no more than"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large          Patterns: "file too large"
//	FILE002 - Invalid CSV             Patterns: "wrong number of fields", "parse error on line", "more fields than header"
//	FILE003 - Missing chunk           Patterns: "missing chunk"
//	FILE004 - No chunk                Patterns: "no chunk provided"
//	FILE005 - Empty file              Patterns: "empty file"
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL001 - Finalize in progress     Patterns: "finalize already in progress"
//	UPL002 - System busy              Patterns: "too many concurrent uploads"
//	UPL004 - Request cancelled        Patterns: "context canceled"
//	UPL005 - Request timeout          Patterns: "context deadline exceeded"
//
// # Query Errors (QRY001-QRY099)
//
//	QRY001 - Invalid page             Patterns: "invalid page"
//	QRY002 - Record not found         Patterns: "not found"
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests       Patterns: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches. Support staff should check the
// application logs for the original technical error.
//
// Patterns are matched case-insensitively with strings.Contains and the first
// match wins, so more specific patterns come before general ones.
package core

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// The first matching pattern wins, so order matters.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Database Constraint Errors (DB001-DB002)
	// =========================================================================
	{
		pattern: "must make a unique set",
		msg: UserMessage{
			Message: "A reading for this vehicle and timestamp already exists",
			Action:  "Change the timestamp or update the existing reading",
			Code:    "DB001",
		},
	},
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A reading for this vehicle and timestamp already exists",
			Action:  "Change the timestamp or update the existing reading",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate entries in your data",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Review your data for duplicate key values",
			Code:    "DB002",
		},
	},

	// =========================================================================
	// Database Connection Errors (DB004-DB007)
	// =========================================================================
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try uploading a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},

	// =========================================================================
	// Validation Errors (VAL001-VAL006)
	// =========================================================================
	{
		pattern: "invalid date",
		msg: UserMessage{
			Message: "Invalid date format detected",
			Action:  "Use ISO 8601, e.g. 2024-01-15T10:30:00Z",
			Code:    "VAL001",
		},
	},
	{
		pattern: "datetime has wrong format",
		msg: UserMessage{
			Message: "Invalid date format detected",
			Action:  "Use ISO 8601, e.g. 2024-01-15T10:30:00Z",
			Code:    "VAL001",
		},
	},
	{
		pattern: "valid number",
		msg: UserMessage{
			Message: "Invalid number format detected",
			Action:  "Use a plain decimal number",
			Code:    "VAL002",
		},
	},
	{
		pattern: "valid integer",
		msg: UserMessage{
			Message: "Invalid integer detected",
			Action:  "Use a whole number for soc",
			Code:    "VAL002",
		},
	},
	{
		pattern: "this field is required",
		msg: UserMessage{
			Message: "Required field is empty",
			Action:  "Ensure all required fields have values",
			Code:    "VAL003",
		},
	},
	{
		pattern: "missing required columns",
		msg: UserMessage{
			Message: "Required column is missing from CSV",
			Action:  "The header needs timestamp, speed, odometer, soc, elevation and shift_state",
			Code:    "VAL004",
		},
	},
	{
		pattern: "invalid file name",
		msg: UserMessage{
			Message: "The file name is not allowed",
			Action:  "Use a plain file name without directories",
			Code:    "VAL005",
		},
	},
	{
		pattern: "no more than",
		msg: UserMessage{
			Message: "A value is longer than allowed",
			Action:  "Shorten the value and try again",
			Code:    "VAL006",
		},
	},

	// =========================================================================
	// File Errors (FILE001-FILE005)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the file into smaller uploads",
			Code:    "FILE001",
		},
	},
	{
		pattern: "wrong number of fields",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Ensure file is comma-separated with consistent columns",
			Code:    "FILE002",
		},
	},
	{
		pattern: "parse error on line",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Ensure file is comma-separated with consistent columns",
			Code:    "FILE002",
		},
	},
	{
		pattern: "more fields than header",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Ensure every row has no more values than the header",
			Code:    "FILE002",
		},
	},
	{
		pattern: "missing chunk",
		msg: UserMessage{
			Message: "A chunk of the upload is missing",
			Action:  "Upload every chunk before finalizing",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no chunk provided",
		msg: UserMessage{
			Message: "No chunk was attached",
			Action:  "Send the chunk as the multipart field \"chunk\"",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Please upload a CSV file with a header row",
			Code:    "FILE005",
		},
	},

	// =========================================================================
	// Upload Errors (UPL001-UPL005)
	// =========================================================================
	{
		pattern: "finalize already in progress",
		msg: UserMessage{
			Message: "This file is already being processed",
			Action:  "Wait for the running finalize to complete",
			Code:    "UPL001",
		},
	},
	{
		pattern: "too many concurrent uploads",
		msg: UserMessage{
			Message: "System is busy processing other uploads",
			Action:  "Please wait a moment and try again",
			Code:    "UPL002",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL004",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try uploading a smaller file or check your connection",
			Code:    "UPL005",
		},
	},

	// =========================================================================
	// Query Errors (QRY001-QRY002)
	// =========================================================================
	{
		pattern: "invalid page",
		msg: UserMessage{
			Message: "The requested page does not exist",
			Action:  "Go back to the first page",
			Code:    "QRY001",
		},
	},
	{
		pattern: "not found",
		msg: UserMessage{
			Message: "Record not found",
			Action:  "Verify the record ID",
			Code:    "QRY002",
		},
	},

	// =========================================================================
	// Rate Limiting (RATE001)
	// =========================================================================
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It searches through known error patterns (case-insensitive) and returns
// the first match. If no pattern matches, a generic fallback message with
// code ERR000 is returned.
//
// Example:
//
//	err := errors.New("ERROR: duplicate key value violates unique constraint")
//	msg := MapError(err)
//	// msg.Code == "DB001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern rather than the
// generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
