// Package response writes the JSON envelopes every endpoint answers with:
// {"data": ...} on success, {"data": [...], "meta": {...}} for lists and
// {"error": {...}} on failure.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Error codes shared by handlers and middleware.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeInvalidToken   = "INVALID_TOKEN"
	CodeForbidden      = "FORBIDDEN"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeRateLimited    = "RATE_LIMIT_EXCEEDED"
	CodeDegraded       = "DEGRADED"
	CodeInternal       = "INTERNAL_ERROR"
	CodeNotImplemented = "NOT_IMPLEMENTED"
)

type envelope struct {
	Data any `json:"data"`
}

type listEnvelope struct {
	Data any      `json:"data"`
	Meta ListMeta `json:"meta"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ListMeta describes an unpaginated list. Filter echoes the effective query
// bounds, e.g. the stuck-job threshold.
type ListMeta struct {
	Count  int               `json:"count"`
	Filter map[string]string `json:"filter,omitempty"`
}

// FieldErrors maps request fields to what is wrong with them.
type FieldErrors map[string][]string

// Add records a problem with field.
func (f FieldErrors) Add(field, problem string) {
	f[field] = append(f[field], problem)
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Data: data})
}

// Accepted answers 202 for work handed to the pipeline. location, when set,
// points at the resource to poll.
func Accepted(w http.ResponseWriter, location string, data any) {
	if location != "" {
		w.Header().Set("Location", location)
	}
	writeJSON(w, http.StatusAccepted, envelope{Data: data})
}

// List writes items with a count. A nil slice is written as given; callers
// pass an empty slice when they want [].
func List(w http.ResponseWriter, items any, meta ListMeta) {
	writeJSON(w, http.StatusOK, listEnvelope{Data: items, Meta: meta})
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// Invalid answers 400 INVALID_REQUEST. fields may be nil.
func Invalid(w http.ResponseWriter, message string, fields FieldErrors) {
	var details any
	if len(fields) > 0 {
		details = fields
	}
	Error(w, http.StatusBadRequest, CodeInvalidRequest, message, details)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response body", "status", status, "error", err)
	}
}
