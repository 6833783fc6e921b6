// Package chatclient implements the conversation state machine a chat UI
// drives: selecting conversations, submitting messages, accumulating streamed
// replies and reconciling against login state changes.
package chatclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

const ephemeralPrefix = "temp_"

var (
	// ErrBusy is returned when an operation conflicts with the current state,
	// e.g. submitting while another reply is still streaming.
	ErrBusy = errors.New("chatclient: operation not allowed in current state")

	// ErrSwitchCancelled is returned when the user declines the model-switch
	// confirmation.
	ErrSwitchCancelled = errors.New("chatclient: model switch cancelled")

	// ErrStreamWaitTimeout is returned when a model switch gave up waiting
	// for an in-flight stream. The switch did not happen; the caller should
	// surface this as a warning and let the user retry.
	ErrStreamWaitTimeout = errors.New("chatclient: timed out waiting for active stream")
)

// ServerError is a structured error emitted by the server, either as a
// pre-stream response or as a terminal stream event.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

// Client owns the active conversation and its messages.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// streamWait bounds how long a model switch waits for an in-flight
	// stream before giving up.
	streamWait time.Duration

	mu        sync.Mutex
	state     State
	convID    string
	messages  []Message
	partial   strings.Builder
	loadingID string
	model     string
	token     string
	authed    bool

	// ephemeral holds messages of client-local conversations that have no
	// durable row yet, keyed by their temp id.
	ephemeral map[string][]Message

	streamDone chan struct{}
	observers  []Observer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithModel sets the initial model variant.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// New creates a client against the given API base URL (including the
// /api/v1 prefix).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		streamWait: 10 * time.Second,
		state:      StateNoConversation,
		ephemeral:  make(map[string][]Message),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers an observer for conversation notifications.
func (c *Client) Subscribe(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConversationID returns the active conversation id, empty when none.
func (c *Client) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.convID
}

// Messages returns a copy of the rendered messages.
func (c *Client) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Partial returns the assistant text accumulated so far while streaming.
func (c *Client) Partial() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.partial.String()
}

// Model returns the active model variant.
func (c *Client) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// SetAuthToken updates the bearer token. Losing authentication clears the
// active conversation; the edge only fires on an observed authenticated to
// unauthenticated transition, so constructing the client logged-out does not
// wipe a guest's fresh chat.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasAuthed := c.authed
	c.token = token
	c.authed = token != ""

	if wasAuthed && !c.authed {
		c.resetLocked()
	}
}

// resetLocked drops the active conversation. Caller holds the mutex.
func (c *Client) resetLocked() {
	c.state = StateNoConversation
	c.convID = ""
	c.messages = nil
	c.partial.Reset()
	c.loadingID = ""
}

// StartEphemeral opens a fresh client-local conversation that has no durable
// row until the first message is sent.
func (c *Client) StartEphemeral() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := fmt.Sprintf("%s%d", ephemeralPrefix, time.Now().UnixNano())
	c.ephemeral[id] = nil
	c.convID = id
	c.messages = nil
	c.partial.Reset()
	c.state = StateActive
	return id
}

// Select makes the given conversation active, fetching its history for
// durable ids. Repeated selection of the same conversation is a no-op, so a
// double click cannot produce two divergent loads.
func (c *Client) Select(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.state == StateStreaming {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.loadingID == id || (c.convID == id && c.state == StateActive) {
		c.mu.Unlock()
		return nil
	}

	if strings.HasPrefix(id, ephemeralPrefix) {
		// Client-local conversation: no server round trip.
		c.convID = id
		c.messages = append([]Message(nil), c.ephemeral[id]...)
		c.partial.Reset()
		c.state = StateActive
		c.mu.Unlock()
		return nil
	}

	c.loadingID = id
	c.state = StateLoadingHistory
	c.mu.Unlock()

	messages, err := c.fetchMessages(ctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loadingID != id {
		// A later selection superseded this load; drop the result.
		return nil
	}
	c.loadingID = ""
	if err != nil {
		c.state = StateNoConversation
		c.convID = ""
		return err
	}
	c.convID = id
	c.messages = messages
	c.partial.Reset()
	c.state = StateActive
	return nil
}

// Send submits one user message and streams the reply. The user message is
// appended optimistically before any network round trip; on error the prior
// messages stay intact and only the partial assistant text is discarded.
func (c *Client) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.state == StateStreaming || c.state == StateLoadingHistory {
		c.mu.Unlock()
		return ErrBusy
	}

	sendID := c.convID
	if strings.HasPrefix(sendID, ephemeralPrefix) {
		// The server treats ephemeral ids as "create a conversation".
		delete(c.ephemeral, sendID)
	}

	c.messages = append(c.messages, Message{Role: "user", Content: text})
	c.partial.Reset()
	c.state = StateStreaming
	done := make(chan struct{})
	c.streamDone = done
	model := c.model
	c.mu.Unlock()

	defer close(done)

	err := c.stream(ctx, sendID, text, model)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.partial.Reset()
	c.state = StateActive
	return err
}

// SwitchModel changes the model variant. With existing messages this implies
// a brand-new conversation, so confirm is consulted first; on an empty
// conversation the switch applies in place without confirmation. An in-flight
// stream is awaited up to the configured timeout.
func (c *Client) SwitchModel(ctx context.Context, model string, confirm func() bool) error {
	c.mu.Lock()
	done := c.streamDone
	streaming := c.state == StateStreaming
	c.mu.Unlock()

	if streaming && done != nil {
		select {
		case <-done:
		case <-time.After(c.streamWait):
			return ErrStreamWaitTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.messages) == 0 {
		c.model = model
		return nil
	}

	if confirm == nil || !confirm() {
		return ErrSwitchCancelled
	}

	c.model = model
	c.resetLocked()
	return nil
}
