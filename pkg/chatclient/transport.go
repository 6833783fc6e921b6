package chatclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) fetchMessages(ctx context.Context, id string) ([]Message, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/conversations/"+id+"/messages", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid history response: %w", err)
	}

	var messages []Message
	if err := json.Unmarshal(body.Data, &messages); err != nil {
		return nil, fmt.Errorf("invalid history response: %w", err)
	}
	return messages, nil
}

// stream performs the send round trip and applies events as they arrive.
// Returns nil only when the stream terminated with a complete event.
func (c *Client) stream(ctx context.Context, conversationID, text, model string) error {
	payload, err := json.Marshal(map[string]any{
		"conversationId": conversationID,
		"message":        text,
		"model":          model,
	})
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/chat/send", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("send failed: %w", err)
	}
	defer resp.Body.Close()

	// Error statuses still carry parseable bodies: SSE-framed for stream
	// errors, plain JSON for validation.
	if resp.StatusCode != http.StatusOK {
		if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
			return c.consumeStream(ctx, conversationID, resp.Body)
		}
		return decodeAPIError(resp)
	}

	return c.consumeStream(ctx, conversationID, resp.Body)
}

func (c *Client) consumeStream(ctx context.Context, sentID string, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var sources []Source

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var ev envelope
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "message":
			var data struct {
				Content string `json:"content"`
			}
			if err := json.Unmarshal(ev.Data, &data); err == nil {
				c.mu.Lock()
				c.partial.WriteString(data.Content)
				c.mu.Unlock()
			}
		case "sources":
			var data struct {
				Sources []Source `json:"sources"`
			}
			if err := json.Unmarshal(ev.Data, &data); err == nil {
				sources = append(sources, data.Sources...)
			}
		case "complete":
			var data struct {
				ConversationID string `json:"conversationId"`
			}
			_ = json.Unmarshal(ev.Data, &data)
			c.finalize(sentID, data.ConversationID, sources)
			return nil
		case "error":
			var data struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			_ = json.Unmarshal(ev.Data, &data)
			return &ServerError{Code: data.Code, Message: data.Message}
		}
	}

	if ctx.Err() != nil {
		// Aborted mid-stream: the partial buffer is discarded by Send.
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream interrupted: %w", err)
	}
	return &ServerError{Code: "STREAM_ERROR", Message: "stream ended without terminal event"}
}

// finalize turns the accumulated partial into a durable assistant message and
// adopts the server-assigned conversation id.
func (c *Client) finalize(sentID, serverID string, sources []Source) {
	c.mu.Lock()
	c.messages = append(c.messages, Message{
		Role:    "assistant",
		Content: c.partial.String(),
		Sources: sources,
	})
	c.partial.Reset()

	created := serverID != "" && serverID != sentID
	if serverID != "" {
		c.convID = serverID
	}
	id := c.convID
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()

	for _, o := range observers {
		if created {
			o.ConversationCreated(id)
		}
		o.ConversationUpdated(id)
	}
}

func decodeAPIError(resp *http.Response) error {
	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return &ServerError{Code: "HTTP_ERROR", Message: resp.Status}
	}

	var coded struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body.Error, &coded); err == nil && coded.Code != "" {
		return &ServerError{Code: coded.Code, Message: coded.Message}
	}

	var plain string
	if err := json.Unmarshal(body.Error, &plain); err == nil && plain != "" {
		return &ServerError{Code: "HTTP_ERROR", Message: plain}
	}
	return &ServerError{Code: "HTTP_ERROR", Message: resp.Status}
}
