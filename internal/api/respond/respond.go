// Package respond provides shared JSON response utilities for API handlers.
//
// Every body uses the same envelope: {"success":true,"data":...} on success
// and {"success":false,"error":...,"code":...,"details":...} on failure.
package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/albapepper/breatheasy/internal/apperr"
)

// Envelope is the success shape.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ErrorResponse is the standard error shape for all API errors.
type ErrorResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// OK writes data in the success envelope.
func OK(w http.ResponseWriter, status int, data any) {
	WriteJSONObject(w, status, Envelope{Success: true, Data: data})
}

// OKMessage writes data and a human-readable message in the success envelope.
func OKMessage(w http.ResponseWriter, status int, message string, data any) {
	WriteJSONObject(w, status, Envelope{Success: true, Message: message, Data: data})
}

// Marshal encodes data in the success envelope, for responses that are cached
// as raw bytes.
func Marshal(data any) ([]byte, error) {
	return json.Marshal(Envelope{Success: true, Data: data})
}

// WriteJSON writes raw JSON bytes to the response with cache and ETag headers.
func WriteJSON(w http.ResponseWriter, data []byte, etag string, ttl time.Duration, cacheHit bool) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", etag)
	w.Header().Set("Vary", "Accept-Encoding")
	setCacheHeaders(w, ttl, cacheHit)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// WriteNotModified sends a 304 with the matching ETag.
func WriteNotModified(w http.ResponseWriter, etag string) {
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusNotModified)
}

// WriteError sends a structured JSON error response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeError(w, status, ErrorResponse{Error: message, Code: code})
}

// WriteErrorDetail sends a structured error with per-field details.
func WriteErrorDetail(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	writeError(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// Error maps err onto a status code by kind and writes it. Server-side
// failures are logged and their message is not exposed.
func Error(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := StatusFor(err)
	code := apperr.Code(err)

	var verr *apperr.ValidationError
	switch {
	case errors.As(err, &verr):
		WriteErrorDetail(w, status, code, "Validation failed", verr.Fields)
	case status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable && status != http.StatusBadGateway:
		if logger != nil {
			logger.Error("Request failed", "error", err, "code", code)
		}
		WriteError(w, status, code, "Internal server error")
	default:
		WriteError(w, status, code, err.Error())
	}
}

// StatusFor returns the HTTP status for an error kind.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperr.ErrDelivery):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSONObject marshals a Go value to JSON and writes it.
func WriteJSONObject(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func setCacheHeaders(w http.ResponseWriter, ttl time.Duration, cacheHit bool) {
	maxAge := int(ttl.Seconds())
	swr := maxAge / 2
	if cacheHit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.Header().Set("Cache-Control",
		fmt.Sprintf("public, max-age=%d, stale-while-revalidate=%d", maxAge, swr))
}
