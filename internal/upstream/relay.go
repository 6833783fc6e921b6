// Package upstream relays prompts to the external answer-generation webhook
// and normalizes its reply, whether streamed or single-shot, into a uniform
// event sequence.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/escuelachat/chat-api/internal/config"
	"github.com/escuelachat/chat-api/internal/domain"
	"github.com/rs/zerolog/log"
)

// NoResponsePlaceholder substitutes an answer when none of the candidate
// fields is present in the upstream reply.
const NoResponsePlaceholder = "No response from AI"

// HistoryEntry is one prior turn forwarded to the upstream for context.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Settings are the per-conversation generation knobs forwarded upstream.
type Settings struct {
	TopK        int     `json:"topK"`
	Temperature float64 `json:"temperature"`
	Model       string  `json:"model"`
}

// Request is a single prompt plus its bounded history window.
type Request struct {
	Message  string
	History  []HistoryEntry
	Settings Settings
}

// Relayer sends one request upstream and yields the normalized event
// sequence. The returned channel is closed after the last event; the sequence
// never contains a Complete event (the caller appends it after persisting).
type Relayer interface {
	IsConfigured() bool
	Relay(ctx context.Context, req Request) <-chan Event
}

// Client implements Relayer against the configured webhook endpoint.
type Client struct {
	cfg        config.UpstreamConfig
	httpClient *http.Client
}

// NewClient creates an upstream client.
func NewClient(cfg config.UpstreamConfig) *Client {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 750
	}
	if len(cfg.AnswerFields) == 0 {
		cfg.AnswerFields = []string{"output", "answer", "text"}
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// IsConfigured reports whether the webhook endpoint is known.
func (c *Client) IsConfigured() bool {
	return c.cfg.BaseURL != "" && c.cfg.WebhookPath != ""
}

type webhookPayload struct {
	ChatInput   string         `json:"chatInput"`
	TopK        int            `json:"topK"`
	Temperature float64        `json:"temperature"`
	Model       string         `json:"model"`
	History     []HistoryEntry `json:"history"`
	Metadata    map[string]any `json:"metadata"`
}

// chunkShape is the loose decoding target for upstream payloads; the
// streaming format is not contractually fixed, so every field is optional.
type chunkShape struct {
	Content string          `json:"content"`
	Sources []domain.Source `json:"sources"`
	Usage   map[string]any  `json:"usage"`
}

// Relay issues one HTTP request and emits the normalized events. The channel
// is closed when the sequence ends; an Error event is always the last one
// when something goes wrong.
func (c *Client) Relay(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		c.relay(ctx, req, events)
	}()
	return events
}

func (c *Client) relay(ctx context.Context, req Request, events chan<- Event) {
	if !c.IsConfigured() {
		emit(ctx, events, ErrorEvent(domain.CodeUpstreamConfig, domain.ErrUpstreamNotConfigured.Error()))
		return
	}

	payload := webhookPayload{
		ChatInput:   req.Message,
		TopK:        req.Settings.TopK,
		Temperature: req.Settings.Temperature,
		Model:       req.Settings.Model,
		History:     req.History,
		Metadata: map[string]any{
			"source":     "webapp",
			"appVersion": c.cfg.AppVersion,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		emit(ctx, events, ErrorEvent(domain.CodeStreamError, fmt.Sprintf("failed to marshal upstream request: %v", err)))
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+c.cfg.WebhookPath, bytes.NewReader(body))
	if err != nil {
		emit(ctx, events, ErrorEvent(domain.CodeStreamError, fmt.Sprintf("failed to create upstream request: %v", err)))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		emit(ctx, events, ErrorEvent(domain.CodeUpstreamService, fmt.Sprintf("upstream request failed: %v", err)))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		uerr := &domain.UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(text)),
		}
		log.Warn().Int("status", resp.StatusCode).Msg("upstream returned non-success status")
		emit(ctx, events, ErrorEvent(domain.CodeUpstreamService, uerr.Error()))
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		c.relaySingleShot(ctx, resp.Body, events)
		return
	}
	c.relayStream(ctx, resp.Body, events)
}

// relaySingleShot handles a non-streaming upstream reply: one JSON object (or
// an array, first element taken), re-chunked into a pseudo-stream so the
// client renders incrementally either way.
func (c *Client) relaySingleShot(ctx context.Context, body io.Reader, events chan<- Event) {
	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		emit(ctx, events, ErrorEvent(domain.CodeStreamError, fmt.Sprintf("invalid upstream response: %v", err)))
		return
	}

	data := raw
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil || len(arr) == 0 {
			emit(ctx, events, ErrorEvent(domain.CodeStreamError, "empty upstream response"))
			return
		}
		data = arr[0]
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		emit(ctx, events, ErrorEvent(domain.CodeStreamError, fmt.Sprintf("invalid upstream response: %v", err)))
		return
	}

	output := NoResponsePlaceholder
	for _, name := range c.cfg.AnswerFields {
		rawField, ok := fields[name]
		if !ok {
			continue
		}
		var text string
		if err := json.Unmarshal(rawField, &text); err != nil {
			continue
		}
		output = text
		break
	}

	for _, chunk := range splitRunes(output, c.cfg.ChunkSize) {
		if !emit(ctx, events, ContentEvent(chunk)) {
			return
		}
		// Small delay between chunks keeps rendering incremental even for a
		// single-shot reply.
		if c.cfg.ChunkDelay > 0 {
			select {
			case <-time.After(c.cfg.ChunkDelay):
			case <-ctx.Done():
				return
			}
		}
	}

	if rawSources, ok := fields["sources"]; ok {
		var sources []domain.Source
		if err := json.Unmarshal(rawSources, &sources); err == nil && len(sources) > 0 {
			if !emit(ctx, events, Event{Type: EventSources, Sources: sources}) {
				return
			}
		}
	}

	if rawUsage, ok := fields["usage"]; ok {
		var usage map[string]any
		if err := json.Unmarshal(rawUsage, &usage); err == nil && len(usage) > 0 {
			emit(ctx, events, Event{Type: EventUsage, Usage: usage})
		}
	}
}

// relayStream handles an incrementally produced upstream body. The wire
// format is not contractually fixed: chunks that decode as JSON objects with
// a content field are unwrapped, everything else passes through verbatim.
func (c *Client) relayStream(ctx context.Context, body io.Reader, events chan<- Event) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		// Tolerate SSE-style framing from the upstream.
		payload := strings.TrimPrefix(line, "data: ")

		var chunk chunkShape
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			if !emit(ctx, events, ContentEvent(line)) {
				return
			}
			continue
		}

		if chunk.Content != "" {
			if !emit(ctx, events, ContentEvent(chunk.Content)) {
				return
			}
		}
		if len(chunk.Sources) > 0 {
			if !emit(ctx, events, Event{Type: EventSources, Sources: chunk.Sources}) {
				return
			}
		}
		if len(chunk.Usage) > 0 {
			if !emit(ctx, events, Event{Type: EventUsage, Usage: chunk.Usage}) {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		emit(ctx, events, ErrorEvent(domain.CodeStreamError, fmt.Sprintf("upstream stream interrupted: %v", err)))
	}
}

// emit sends one event unless the context is already gone. Reports whether
// the relay should keep going.
func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// splitRunes cuts s into windows of at most size runes.
func splitRunes(s string, size int) []string {
	runes := []rune(s)
	if len(runes) == 0 {
		return nil
	}
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
