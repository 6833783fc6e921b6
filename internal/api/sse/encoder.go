// Package sse writes the server-sent event stream consumed by the web
// client. Every event is a single data line holding a JSON envelope with a
// type tag and a payload.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Envelope is the wire shape of every streamed event.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Encoder writes SSE events and flushes after each one so chunks reach the
// client immediately.
type Encoder struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewEncoder wraps a response writer for SSE output. Fails when the writer
// cannot flush, since buffered SSE defeats the point.
func NewEncoder(w http.ResponseWriter) (*Encoder, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}
	return &Encoder{w: w, flusher: flusher}, nil
}

// WriteHeaders sets the SSE response headers. Must be called before the first
// event.
func (e *Encoder) WriteHeaders(status int) {
	h := e.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	// Disable proxy buffering so chunks are not held back.
	h.Set("X-Accel-Buffering", "no")
	e.w.WriteHeader(status)
}

// Send writes one event and flushes it out.
func (e *Encoder) Send(eventType string, data any) error {
	payload, err := json.Marshal(Envelope{Type: eventType, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}
