package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/litlb/coupon-api/internal/apperrors"
	"github.com/litlb/coupon-api/internal/platform/requestctx"
)

// Error represents the canonical JSON error envelope returned by the API:
// {statusCode, statusMessage, errorCode, data}.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Data      map[string]any
}

// NewError constructs a new Error with the provided parameters.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    sanitize(code, 80),
		Message: sanitize(message, 512),
		Status:  status,
	}
}

// FromAppError maps a taxonomy error onto the response envelope.
func FromAppError(err *apperrors.Error) Error {
	if err == nil {
		return NewError("internal_error", "internal error", http.StatusInternalServerError)
	}
	out := NewError(err.ErrorCode, err.Message, err.StatusCode)
	if len(err.Data) > 0 {
		out = out.WithData(err.Data)
	}
	return out
}

// WithRequestID sets the request identifier on the error payload.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = sanitize(id, 80)
	return e
}

// WithTraceID sets the trace identifier on the error payload.
func (e Error) WithTraceID(id string) Error {
	e.TraceID = sanitize(id, 64)
	return e
}

// WithData attaches additional JSON-serialisable detail.
func (e Error) WithData(data map[string]any) Error {
	if len(data) == 0 {
		return e
	}
	copied := make(map[string]any, len(data))
	for k, v := range data {
		copied[k] = v
	}
	e.Data = copied
	return e
}

// WriteError writes the structured error as JSON to the provided response writer.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	requestID := err.RequestID
	if requestID == "" {
		requestID = sanitize(middleware.GetReqID(ctx), 80)
	}

	traceID := err.TraceID
	if traceID == "" {
		traceID = sanitize(requestctx.TraceID(ctx), 64)
	}

	payload := map[string]any{
		"statusCode":    status,
		"statusMessage": err.Message,
		"errorCode":     err.Code,
	}
	if len(err.Data) > 0 {
		payload["data"] = err.Data
	}
	if requestID != "" {
		payload["requestId"] = requestID
	}
	if traceID != "" {
		payload["traceId"] = traceID
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteSuccess writes the canonical success envelope {statusCode, statusMessage, data}.
func WriteSuccess(w http.ResponseWriter, status int, data any) {
	if status == 0 {
		status = http.StatusOK
	}
	payload := map[string]any{
		"statusCode":    status,
		"statusMessage": "success",
	}
	if data != nil {
		payload["data"] = data
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func sanitize(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
