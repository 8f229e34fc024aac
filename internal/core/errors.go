package core

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("fis not found")

	// ErrEmptySelection is returned when an export is requested for no records.
	ErrEmptySelection = errors.New("empty selection: select at least one fis to export")
)

// ValidationError is an input error detected before any store call.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// DatabaseError wraps a backing-store failure. Its message is the generic
// "database error"; Details carries the original cause for diagnostics.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database error: %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

// Details is the original store message.
func (e *DatabaseError) Details() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// dbError wraps err as a *DatabaseError unless it is nil, ErrNotFound, or
// already one.
func dbError(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var de *DatabaseError
	if errors.As(err, &de) {
		return err
	}
	return &DatabaseError{Op: op, Err: err}
}

// Rejection codes reported by the extraction workflow.
const (
	RejectNotAReceipt   = "NOT_A_RECEIPT"
	RejectLowConfidence = "LOW_CONFIDENCE"
	RejectImageTooSmall = "IMAGE_TOO_SMALL"
	RejectUnclearImage  = "UNCLEAR_IMAGE"
)

// WorkflowError is a failure or domain rejection from the extraction
// workflow. Rejections are relayed to the user verbatim.
type WorkflowError struct {
	// Status is the workflow's HTTP status, 0 when it was unreachable.
	Status int
	// Code is the rejection code, structured or inferred; empty for
	// transport failures.
	Code    string
	Message string
	// Body is the workflow's JSON reply, if any.
	Body json.RawMessage
	Err  error
}

func (e *WorkflowError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("workflow error: %v", e.Err)
	case e.Code != "":
		return fmt.Sprintf("workflow rejected upload (%s): %s", e.Code, e.Message)
	default:
		return fmt.Sprintf("workflow error: status %d: %s", e.Status, e.Message)
	}
}

func (e *WorkflowError) Unwrap() error { return e.Err }

// IsRejection reports whether the workflow refused the document itself,
// as opposed to failing.
func (e *WorkflowError) IsRejection() bool { return e.Code != "" }
