package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the conversation/session core. Handlers map these to
// HTTP statuses; once an SSE stream has started they become error events
// instead.
var (
	// ErrConversationNotFound covers both an unknown conversation id and, for
	// detail-hiding purposes, ids the caller is not allowed to see.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrNotOwner is returned when the conversation exists but belongs to a
	// different owner.
	ErrNotOwner = errors.New("conversation not owned by caller")

	// ErrUpstreamNotConfigured is returned when the upstream endpoint is not
	// configured; it must surface as a clear error, never a hang.
	ErrUpstreamNotConfigured = errors.New("upstream service is not configured")
)

// ValidationError rejects a request before any side effect.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// UpstreamError carries a non-2xx status or malformed reply from the
// answer-generation service.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// Error codes used in SSE error events and JSON error bodies.
const (
	CodeConversationNotFound = "CONVERSATION_NOT_FOUND"
	CodeUpstreamConfig       = "UPSTREAM_CONFIG_ERROR"
	CodeUpstreamService      = "UPSTREAM_SERVICE_ERROR"
	CodeStreamError          = "STREAM_ERROR"
	CodeValidationError      = "VALIDATION_ERROR"
)
