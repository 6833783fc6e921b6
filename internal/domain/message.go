package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MessageRole represents the sender of a message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Source is a citation attached to an assistant message.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Message is a single turn in a conversation. Messages are immutable once
// created; the only permitted mutation is finalizing the content of an
// assistant row that was created eagerly while its reply streamed.
type Message struct {
	ID             uuid.UUID      `json:"id"`
	ConversationID uuid.UUID      `json:"conversationId"`
	Role           MessageRole    `json:"role"`
	Content        string         `json:"content"`
	Sources        []Source       `json:"sources,omitempty"`
	Usage          map[string]any `json:"usage,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// MessageRepository defines the interface for message storage
type MessageRepository interface {
	Create(ctx context.Context, message *Message) error
	// Finalize fills in the content, sources and usage of an eagerly created
	// assistant message and bumps the parent conversation's updated_at.
	Finalize(ctx context.Context, id uuid.UUID, content string, sources []Source, usage map[string]any) error
	// ListByConversation returns messages ordered by created_at ascending.
	ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]Message, error)
	// ListRecent returns the most recent limit messages in ascending order,
	// used as the bounded history window for the upstream call.
	ListRecent(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error)
}
