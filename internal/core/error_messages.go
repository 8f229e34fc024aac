package core

// error_messages.go maps technical errors to user-facing messages with a
// support code.
//
// # Error Codes Reference
//
// # Database Errors (DB000-DB099)
//
//	DB000 - Database error: generic backing-store failure (*DatabaseError)
//	DB001 - Duplicate key          Patterns: "duplicate key"
//	DB004 - Connection refused     Patterns: "connection refused"
//	DB005 - Connection reset       Patterns: "connection reset"
//	DB006 - Timeout                Patterns: "timeout"
//	DB007 - Deadlock               Patterns: "deadlock"
//	DB008 - Missing object         Patterns: "does not exist"
//
// # Record Errors (FIS001-FIS099)
//
//	FIS001 - Receipt not found (ErrNotFound)
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid date          Patterns: "invalid date"
//	VAL002 - Invalid number        Patterns: "invalid number"
//	VAL003 - Missing identifiers   Patterns: "no ids"
//	VAL004 - Invalid identifier    Patterns: "invalid fis id"
//	VAL005 - Schema mismatch       Patterns: "does not match schema"
//	VAL006 - Empty selection       Patterns: "empty selection"
//	VAL007 - Malformed body        Patterns: "invalid request body"
//	VAL008 - Nothing to update     Patterns: "no fields to update"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large       Patterns: "file too large"
//	FILE002 - Unsupported type     Patterns: "unsupported file type"
//	FILE003 - Image too small      Patterns: "image too small"
//	FILE004 - No file              Patterns: "no file provided"
//	FILE005 - Empty file           Patterns: "empty file"
//	FILE006 - Name too long        Patterns: "file name too long"
//	FILE007 - Too many files       Patterns: "too many files"
//
// # Workflow Errors (WF001-WF099)
//
// Rejections carry the workflow's own message verbatim; the code is chosen
// from the structured rejection code.
//
//	WF001 - Not a receipt          Code: NOT_A_RECEIPT
//	WF002 - Low confidence         Code: LOW_CONFIDENCE
//	WF003 - Image too small        Code: IMAGE_TOO_SMALL
//	WF004 - Unclear image          Code: UNCLEAR_IMAGE
//	WF005 - Workflow unreachable   (*WorkflowError without status)
//	WF006 - Workflow failed        (*WorkflowError with status)
//	WF007 - Workflow timed out     (*WorkflowError wrapping context.DeadlineExceeded)
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL002 - System busy           Patterns: "too many concurrent uploads"
//	UPL004 - Request cancelled     Patterns: "context canceled"
//	UPL005 - Request timeout       Patterns: "context deadline exceeded"
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Rate limited         Patterns: "rate limit"
//
// # Default Error (ERR000)
//
// Patterns are matched case-insensitively with strings.Contains; the first
// match wins, so specific patterns precede general ones.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Request lifecycle; before "timeout" so deadline errors keep their code.
	{"context deadline exceeded", UserMessage{"Request timed out", "Please try again", "UPL005"}},
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "UPL004"}},
	{"too many concurrent uploads", UserMessage{"System is busy processing other uploads", "Please wait a moment and try again", "UPL002"}},

	// Database
	{"duplicate key", UserMessage{"A receipt with this ID already exists", "Refresh the list and try again", "DB001"}},
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB004"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB005"}},
	{"timeout", UserMessage{"Operation timed out", "Please try again later", "DB006"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB007"}},

	// Validation
	{"invalid date", UserMessage{"Invalid date format detected", "Use YYYY-MM-DD", "VAL001"}},
	{"invalid number", UserMessage{"Invalid number format detected", "Use digits with a dot as decimal separator", "VAL002"}},
	{"no ids", UserMessage{"No receipts were selected", "Select at least one receipt", "VAL003"}},
	{"invalid fis id", UserMessage{"Invalid receipt identifier", "Refresh the list and try again", "VAL004"}},
	{"does not match schema", UserMessage{"Receipt data does not match the expected shape", "Check the workflow output mapping", "VAL005"}},
	{"empty selection", UserMessage{"Nothing selected to export", "Select at least one receipt", "VAL006"}},
	{"invalid request body", UserMessage{"Request body could not be read", "Send a JSON body", "VAL007"}},
	{"no fields to update", UserMessage{"Nothing to update", "Provide at least one field", "VAL008"}},

	// Files
	{"file too large", UserMessage{"File exceeds maximum size limit (10MB)", "Upload a smaller file", "FILE001"}},
	{"unsupported file type", UserMessage{"File type is not supported", "Upload a PDF, JPEG, PNG or text file", "FILE002"}},
	{"image too small", UserMessage{"Image is too small to be a receipt", "Upload a clearer, higher resolution photo", "FILE003"}},
	{"no file provided", UserMessage{"No file was selected", "Please select a file to upload", "FILE004"}},
	{"empty file", UserMessage{"The uploaded file is empty", "Please upload a non-empty file", "FILE005"}},
	{"file name too long", UserMessage{"File name is too long", "Rename the file and try again", "FILE006"}},
	{"too many files", UserMessage{"Too many files in one upload", "Upload at most 20 files at a time", "FILE007"}},

	// Store objects missing (search or delete procedure, table)
	{"does not exist", UserMessage{"A database object is missing", "Run the migrations and try again", "DB008"}},

	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

var rejectionMessages = map[string]UserMessage{
	RejectNotAReceipt:   {Action: "Upload a photo or scan of a receipt", Code: "WF001"},
	RejectLowConfidence: {Action: "Upload a sharper photo with the whole receipt visible", Code: "WF002"},
	RejectImageTooSmall: {Action: "Upload a higher resolution image", Code: "WF003"},
	RejectUnclearImage:  {Action: "Retake the photo in better light", Code: "WF004"},
}

var (
	databaseMessage = UserMessage{Message: "Database error", Action: "Please try again or contact support", Code: "DB000"}
	notFoundMessage = UserMessage{Message: "Receipt not found", Action: "It may have been deleted; refresh the list", Code: "FIS001"}
	defaultMessage  = UserMessage{Message: "An unexpected error occurred", Action: "Please try again or contact support", Code: "ERR000"}
)

// MapError converts a technical error to a user-friendly message.
//
// Typed errors are classified first: validation errors keep their own
// reason as the message, workflow rejections keep the workflow's message
// verbatim, store failures become "Database error" unless a more specific
// pattern matches the cause. Everything else goes through the pattern
// table, falling back to ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		msg := matchPattern(ve.Error(), UserMessage{Action: "Correct the input and try again", Code: "VAL000"})
		msg.Message = ve.Error()
		return msg
	}

	var we *WorkflowError
	if errors.As(err, &we) {
		return mapWorkflowError(we)
	}

	if errors.Is(err, ErrNotFound) {
		return notFoundMessage
	}

	var de *DatabaseError
	if errors.As(err, &de) {
		return matchPattern(de.Details(), databaseMessage)
	}

	return matchPattern(err.Error(), defaultMessage)
}

func mapWorkflowError(we *WorkflowError) UserMessage {
	if rm, ok := rejectionMessages[we.Code]; ok {
		rm.Message = we.Message
		if rm.Message == "" {
			rm.Message = "The document was rejected by the extraction workflow"
		}
		return rm
	}
	if errors.Is(we, context.DeadlineExceeded) {
		return UserMessage{Message: "Extraction workflow timed out", Action: "The document may still be processed; check the list shortly", Code: "WF007"}
	}
	if we.Status == 0 {
		return UserMessage{Message: "Extraction workflow is unreachable", Action: "Please try again in a few moments", Code: "WF005"}
	}
	msg := we.Message
	if msg == "" {
		msg = "Extraction workflow failed"
	}
	return UserMessage{Message: msg, Action: "Please try again or contact support", Code: "WF006"}
}

func matchPattern(s string, fallback UserMessage) UserMessage {
	lower := strings.ToLower(s)
	for _, ep := range errorPatterns {
		if strings.Contains(lower, ep.pattern) {
			return ep.msg
		}
	}
	return fallback
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

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
