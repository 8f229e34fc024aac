package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "nil error returns empty",
			err:         nil,
			wantCode:    "",
			wantMessage: "",
		},
		{
			name:        "not found",
			err:         fmt.Errorf("get fis: %w", ErrNotFound),
			wantCode:    "FIS001",
			wantMessage: "Receipt not found",
		},
		{
			name:        "database error hides details",
			err:         &DatabaseError{Op: "list fisler", Err: errors.New("syntax error at or near \"LIMIT\"")},
			wantCode:    "DB000",
			wantMessage: "Database error",
		},
		{
			name:        "database error with known cause",
			err:         &DatabaseError{Op: "ping", Err: errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")},
			wantCode:    "DB004",
			wantMessage: "Unable to connect to database",
		},
		{
			name:        "missing procedure",
			err:         &DatabaseError{Op: "delete fisler", Err: errors.New("function delete_fisler(uuid[]) does not exist")},
			wantCode:    "DB008",
			wantMessage: "A database object is missing",
		},
		{
			name:        "deadline keeps upload code",
			err:         context.DeadlineExceeded,
			wantCode:    "UPL005",
			wantMessage: "Request timed out",
		},
		{
			name:        "limiter busy",
			err:         ErrTooManyUploads,
			wantCode:    "UPL002",
			wantMessage: "System is busy processing other uploads",
		},
		{
			name:        "empty selection",
			err:         ErrEmptySelection,
			wantCode:    "VAL006",
			wantMessage: "Nothing selected to export",
		},
		{
			name:        "validation keeps its reason",
			err:         &ValidationError{Field: "startDate", Value: "31/01/2025", Message: "invalid date, use YYYY-MM-DD"},
			wantCode:    "VAL001",
			wantMessage: "startDate: invalid date, use YYYY-MM-DD",
		},
		{
			name:        "unknown validation",
			err:         &ValidationError{Field: "fis_no", Message: "fis_no is required"},
			wantCode:    "VAL000",
			wantMessage: "fis_no: fis_no is required",
		},
		{
			name:        "unknown error",
			err:         errors.New("something weird"),
			wantCode:    "ERR000",
			wantMessage: "An unexpected error occurred",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestMapError_Workflow(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "rejection message is verbatim",
			err:         &WorkflowError{Status: 200, Code: RejectNotAReceipt, Message: "Yüklenen dosya fiş olarak tanımlanamadı"},
			wantCode:    "WF001",
			wantMessage: "Yüklenen dosya fiş olarak tanımlanamadı",
		},
		{
			name:        "low confidence",
			err:         &WorkflowError{Status: 200, Code: RejectLowConfidence, Message: "confidence 0.41"},
			wantCode:    "WF002",
			wantMessage: "confidence 0.41",
		},
		{
			name:        "rejection without message",
			err:         &WorkflowError{Status: 200, Code: RejectUnclearImage},
			wantCode:    "WF004",
			wantMessage: "The document was rejected by the extraction workflow",
		},
		{
			name:        "unreachable",
			err:         &WorkflowError{Err: errors.New("dial tcp: connection refused")},
			wantCode:    "WF005",
			wantMessage: "Extraction workflow is unreachable",
		},
		{
			name:        "timed out",
			err:         &WorkflowError{Message: "workflow request timed out", Err: fmt.Errorf("post: %w", context.DeadlineExceeded)},
			wantCode:    "WF007",
			wantMessage: "Extraction workflow timed out",
		},
		{
			name:        "non-2xx",
			err:         &WorkflowError{Status: 500, Message: "Workflow could not be started"},
			wantCode:    "WF006",
			wantMessage: "Workflow could not be started",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(fmt.Errorf("forward: %w", tt.err))
			if got.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestMapError_CaseInsensitive(t *testing.T) {
	if got := MapError(errors.New("ERROR: DEADLOCK DETECTED")); got.Code != "DB007" {
		t.Errorf("Code = %q, want DB007", got.Code)
	}
}

func TestFormatUserError(t *testing.T) {
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q", got)
	}
	got := FormatUserError(ErrNotFound)
	want := "Receipt not found (Code: FIS001). It may have been deleted; refresh the list"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("nil should not be user facing")
	}
	if IsUserFacing(errors.New("random")) {
		t.Error("unknown error should not be user facing")
	}
	if !IsUserFacing(errors.New("file too large: 12 MB exceeds 10 MB")) {
		t.Error("file size error should be user facing")
	}
}

func TestErrorPatternsHaveUniqueCodes(t *testing.T) {
	seen := map[string]string{}
	for _, ep := range errorPatterns {
		if prev, ok := seen[ep.msg.Code]; ok {
			t.Errorf("code %s used by %q and %q", ep.msg.Code, prev, ep.pattern)
		}
		seen[ep.msg.Code] = ep.pattern
		if ep.pattern != strings.ToLower(ep.pattern) {
			t.Errorf("pattern %q must be lower case", ep.pattern)
		}
	}
}
