// Error codes reference.
//
// MapError turns technical errors into messages for API clients. Codes are
// grouped by category so users can quote them to support:
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Job not found
//	         Patterns: "import job not found"
//	IMP002 - Log not found
//	         Patterns: "import log not found"
//	IMP003 - Unknown model
//	         Patterns: "unknown model"
//	IMP004 - Model not importable (excluded by IMPORT_MODELS / IMPORT_EXCEPT)
//	         Patterns: "model is not importable"
//	IMP005 - Invalid options document
//	         Patterns: "invalid options"
//	IMP006 - Unknown reflection
//	         Patterns: "unknown reflection", "malformed reflection spec"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	          Patterns: "file too large", "request body too large"
//	FILE002 - Unsupported format
//	          Patterns: "unsupported format"
//	FILE003 - Invalid parser parameter
//	          Patterns: "invalid parser parameter"
//	FILE004 - No file
//	          Patterns: "no file provided"
//	FILE005 - Bad file name
//	          Patterns: "invalid file name"
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate value
//	        Patterns: "duplicate key", "unique constraint"
//	DB002 - Referenced record missing
//	        Patterns: "foreign key"
//	DB003 - Other constraint
//	        Patterns: "constraint violation"
//	DB004 - Connection refused
//	        Patterns: "connection refused"
//	DB005 - Ambiguous identity
//	        Patterns: "multiple records match"
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL001 - System busy
//	         Patterns: "too many concurrent imports"
//	UPL002 - Request cancelled
//	         Patterns: "context canceled"
//	UPL003 - Request timeout
//	         Patterns: "context deadline exceeded"
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests
//	          Patterns: "rate limit"
//
// ERR000 is the fallback when nothing matches; the original error is in
// the process log.
//
// Patterns are matched case-insensitively with strings.Contains and the
// first match wins, so specific patterns come before general ones.
package importer

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Import
	{"import job not found", UserMessage{"Import job not found", "Check the job id", "IMP001"}},
	{"import log not found", UserMessage{"Import log not found", "Check the log id", "IMP002"}},
	{"unknown model", UserMessage{"Unknown model", "Pick one of the models listed by /api/models", "IMP003"}},
	{"model is not importable", UserMessage{"This model is not open for import", "Ask an administrator to allow the model", "IMP004"}},
	{"invalid options", UserMessage{"The import options could not be read", "Send options as a JSON, YAML or TOML mapping", "IMP005"}},
	{"unknown reflection", UserMessage{"A reflection function is not registered", "Check reflection names against /api/reflections", "IMP006"}},
	{"malformed reflection spec", UserMessage{"A reflection is not formatted properly", "Use a function name or a {function, parameters} mapping", "IMP006"}},

	// File
	{"file too large", UserMessage{"File exceeds the maximum upload size", "Split the file into smaller chunks", "FILE001"}},
	{"request body too large", UserMessage{"File exceeds the maximum upload size", "Split the file into smaller chunks", "FILE001"}},
	{"unsupported format", UserMessage{"File format is not supported", "Use csv, table, excel or json", "FILE002"}},
	{"invalid parser parameter", UserMessage{"A format parameter is invalid", "Check the parameters section of the options", "FILE003"}},
	{"no file provided", UserMessage{"No file was selected", "Attach the data file as the \"file\" form field", "FILE004"}},
	{"invalid file name", UserMessage{"The file name is not allowed", "Rename the file and try again", "FILE005"}},

	// Database
	{"duplicate key", UserMessage{"This value must be unique but already exists", "Add the field to identity to update existing records", "DB001"}},
	{"unique constraint", UserMessage{"This value must be unique but already exists", "Add the field to identity to update existing records", "DB001"}},
	{"foreign key", UserMessage{"Referenced record does not exist", "Import the related records first", "DB002"}},
	{"constraint violation", UserMessage{"A record violates a database constraint", "Review the run log for the failing rows", "DB003"}},
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB004"}},
	{"multiple records match", UserMessage{"Identity fields match more than one record", "Choose identity fields that are unique", "DB005"}},

	// Upload
	{"too many concurrent imports", UserMessage{"System is busy processing other imports", "Please wait a moment and try again", "UPL001"}},
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "UPL002"}},
	{"context deadline exceeded", UserMessage{"Request timed out", "Try a smaller file or try again later", "UPL003"}},

	// Rate limiting
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
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

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
