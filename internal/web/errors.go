package web

// errors.go turns handler errors into responses. The technical error is
// logged with the request id; the client gets core.MapError's message and
// code, as JSON or, for HTMX requests, as an alert fragment.

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JonMunkholm/fisler/internal/core"
	"github.com/JonMunkholm/fisler/internal/logging"
	"github.com/JonMunkholm/fisler/internal/web/views"
)

// SeverityRejection marks workflow rejections so the client can show them
// apart from generic failures.
const SeverityRejection = "rejection"

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Success  bool   `json:"success"`
	Error    string `json:"error"`
	Details  string `json:"details,omitempty"`
	Code     string `json:"code"`
	Severity string `json:"severity,omitempty"`
	// WorkflowResponse is the workflow's own reply to a rejected upload.
	WorkflowResponse json.RawMessage `json:"workflowResponse,omitempty"`
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	var (
		ve *core.ValidationError
		de *core.DatabaseError
		we *core.WorkflowError
	)
	switch {
	case errors.As(err, &ve), errors.Is(err, core.ErrEmptySelection):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &we):
		if we.IsRejection() {
			return http.StatusUnprocessableEntity
		}
		if errors.Is(we, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case errors.Is(err, core.ErrTooManyUploads):
		return http.StatusServiceUnavailable
	case errors.As(err, &de):
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorEnvelope builds the client-facing body for err.
func errorEnvelope(err error) errorResponse {
	msg := core.MapError(err)
	resp := errorResponse{
		Error:   msg.Message,
		Details: msg.Action,
		Code:    msg.Code,
	}

	var de *core.DatabaseError
	if errors.As(err, &de) {
		resp.Error = "database error"
		resp.Details = de.Details()
	}

	var we *core.WorkflowError
	if errors.As(err, &we) && we.IsRejection() {
		resp.Severity = SeverityRejection
		resp.WorkflowResponse = we.Body
	}
	return resp
}

// respondError logs err and writes the error response.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorEnvelope(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", resp.Code,
		"error", err.Error(),
	}
	switch {
	case status >= 500:
		logger.Error("request failed", attrs...)
	case resp.Severity == SeverityRejection:
		logger.Info("upload rejected by workflow", attrs...)
	default:
		logger.Warn("request rejected", attrs...)
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}

	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		if err := views.ErrorAlert(core.MapError(err)).Render(r.Context(), w); err != nil {
			logger.Error("render error alert", "error", err)
		}
		return
	}
	writeJSON(w, r, status, resp)
}

// isHTMX checks if the request is an HTMX request.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}
