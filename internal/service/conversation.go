package service

import (
	"context"
	"fmt"
	"time"

	"github.com/escuelachat/chat-api/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// listLimit caps conversation listings; the UI only shows the recent tail.
const listLimit = 50

// ConversationService handles conversation lifecycle and ownership.
type ConversationService struct {
	convRepo  domain.ConversationRepository
	msgRepo   domain.MessageRepository
	guestRepo domain.GuestSessionRepository
}

// NewConversationService creates a new conversation service
func NewConversationService(
	convRepo domain.ConversationRepository,
	msgRepo domain.MessageRepository,
	guestRepo domain.GuestSessionRepository,
) *ConversationService {
	return &ConversationService{
		convRepo:  convRepo,
		msgRepo:   msgRepo,
		guestRepo: guestRepo,
	}
}

// Create creates an empty conversation for the owner. An empty title falls
// back to the placeholder; the first message replaces it.
func (s *ConversationService) Create(ctx context.Context, owner domain.OwnerRef, title string, settings map[string]any) (*domain.Conversation, error) {
	if title == "" {
		title = domain.PlaceholderTitle
	}
	now := time.Now()
	conv := &domain.Conversation{
		ID:        uuid.New(),
		Title:     title,
		Settings:  settings,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if owner.IsUser() {
		id := owner.UserID
		conv.UserID = &id
	} else {
		id := owner.GuestSessionID
		conv.GuestSessionID = &id
	}

	if err := s.convRepo.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// List returns the owner's conversations, most recently active first.
func (s *ConversationService) List(ctx context.Context, owner domain.OwnerRef) ([]domain.Conversation, error) {
	conversations, err := s.convRepo.ListByOwner(ctx, owner, listLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return conversations, nil
}

// Get retrieves one conversation with an ownership check.
func (s *ConversationService) Get(ctx context.Context, owner domain.OwnerRef, id uuid.UUID) (*domain.Conversation, error) {
	conv, err := s.convRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !owner.Owns(conv) {
		return nil, domain.ErrNotOwner
	}
	return conv, nil
}

// Messages returns the full message history of an owned conversation.
func (s *ConversationService) Messages(ctx context.Context, owner domain.OwnerRef, id uuid.UUID) ([]domain.Message, error) {
	if _, err := s.Get(ctx, owner, id); err != nil {
		return nil, err
	}
	messages, err := s.msgRepo.ListByConversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// Delete removes an owned conversation and its messages.
func (s *ConversationService) Delete(ctx context.Context, owner domain.OwnerRef, id uuid.UUID) error {
	if _, err := s.Get(ctx, owner, id); err != nil {
		return err
	}
	return s.convRepo.Delete(ctx, id)
}

// DeleteAll removes every conversation of the owner.
func (s *ConversationService) DeleteAll(ctx context.Context, owner domain.OwnerRef) error {
	if err := s.convRepo.DeleteAllByOwner(ctx, owner); err != nil {
		return fmt.Errorf("failed to delete conversations: %w", err)
	}
	return nil
}

// EnsureGuestSession creates the durable row behind a guest cookie if it does
// not exist yet.
func (s *ConversationService) EnsureGuestSession(ctx context.Context, id uuid.UUID) error {
	return s.guestRepo.Ensure(ctx, id)
}

// MigrateGuestToUser moves every conversation of the guest session to the
// user and retires the session. Running it twice is harmless: the second run
// finds nothing to move.
func (s *ConversationService) MigrateGuestToUser(ctx context.Context, guestSessionID, userID uuid.UUID) (int64, error) {
	migrated, err := s.convRepo.MigrateGuestToUser(ctx, guestSessionID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to migrate guest conversations: %w", err)
	}
	if migrated > 0 {
		log.Info().
			Int64("migrated", migrated).
			Str("user_id", userID.String()).
			Msg("migrated guest conversations to user")
	}
	return migrated, nil
}
