package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PlaceholderTitle is the default conversation label until the first message
// produces a real one.
const PlaceholderTitle = "Nueva conversación"

// EphemeralIDPrefix marks client-local conversation ids that have no durable
// row. Any id carrying this prefix is treated as "no id" by the server.
const EphemeralIDPrefix = "temp_"

// IsEphemeralID reports whether the given raw conversation id is a
// client-local ephemeral id.
func IsEphemeralID(id string) bool {
	return strings.HasPrefix(id, EphemeralIDPrefix)
}

// Conversation is a thread of messages owned by either an authenticated user
// or a guest session, never both.
type Conversation struct {
	ID             uuid.UUID      `json:"id"`
	Title          string         `json:"title"`
	UserID         *uuid.UUID     `json:"userId,omitempty"`
	GuestSessionID *uuid.UUID     `json:"-"`
	Settings       map[string]any `json:"settings,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// HasPlaceholderTitle reports whether the title is still the default one.
func (c *Conversation) HasPlaceholderTitle() bool {
	return c.Title == "" || c.Title == PlaceholderTitle
}

// ConversationRepository defines storage for conversations scoped by owner.
type ConversationRepository interface {
	Create(ctx context.Context, conv *Conversation) error
	Get(ctx context.Context, id uuid.UUID) (*Conversation, error)
	ListByOwner(ctx context.Context, owner OwnerRef, limit int) ([]Conversation, error)
	RenameIfPlaceholder(ctx context.Context, id uuid.UUID, title string) error
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteAllByOwner(ctx context.Context, owner OwnerRef) error
	// MigrateGuestToUser reassigns every conversation owned by the guest
	// session to the user and removes the guest session row, all inside a
	// single transaction. Returns the number of migrated conversations.
	MigrateGuestToUser(ctx context.Context, guestSessionID, userID uuid.UUID) (int64, error)
}
