// Package apperr defines the error kinds shared across the alert pipeline.
//
// Callers wrap a sentinel with fmt.Errorf("...: %w", ...) or one of the
// helpers below and branch on it with errors.Is. The HTTP layer maps each
// kind to a status code.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUpstreamUnavailable means an AQI or geocoding provider was
	// unreachable or returned something unusable.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrValidation means caller input was malformed. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrDelivery means an email or SMS transport rejected a send.
	ErrDelivery = errors.New("delivery failed")

	// ErrPersistence means a datastore operation failed.
	ErrPersistence = errors.New("persistence failed")

	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// ValidationError carries per-field messages alongside ErrValidation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	sort.Strings(parts)
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a single-field ValidationError.
func Invalid(field, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// Upstream wraps err as ErrUpstreamUnavailable.
func Upstream(provider string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, provider, err)
}

// Delivery wraps err as ErrDelivery, keeping the original in the chain.
func Delivery(channel string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDelivery, channel, err)
}

// Persistence wraps err as ErrPersistence, keeping the original in the chain.
func Persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// Code returns the stable machine-readable code for an error kind.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "UPSTREAM_UNAVAILABLE"
	case errors.Is(err, ErrDelivery):
		return "DELIVERY_FAILURE"
	case errors.Is(err, ErrPersistence):
		return "PERSISTENCE_FAILURE"
	default:
		return "INTERNAL_ERROR"
	}
}
