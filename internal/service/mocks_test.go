package service

import (
	"context"
	"time"

	"github.com/escuelachat/chat-api/internal/domain"
	"github.com/escuelachat/chat-api/internal/upstream"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockConversationRepository mocks the ConversationRepository interface
type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) Create(ctx context.Context, conv *domain.Conversation) error {
	args := m.Called(ctx, conv)
	return args.Error(0)
}

func (m *MockConversationRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepository) ListByOwner(ctx context.Context, owner domain.OwnerRef, limit int) ([]domain.Conversation, error) {
	args := m.Called(ctx, owner, limit)
	return args.Get(0).([]domain.Conversation), args.Error(1)
}

func (m *MockConversationRepository) RenameIfPlaceholder(ctx context.Context, id uuid.UUID, title string) error {
	args := m.Called(ctx, id, title)
	return args.Error(0)
}

func (m *MockConversationRepository) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockConversationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockConversationRepository) DeleteAllByOwner(ctx context.Context, owner domain.OwnerRef) error {
	args := m.Called(ctx, owner)
	return args.Error(0)
}

func (m *MockConversationRepository) MigrateGuestToUser(ctx context.Context, guestSessionID, userID uuid.UUID) (int64, error) {
	args := m.Called(ctx, guestSessionID, userID)
	return args.Get(0).(int64), args.Error(1)
}

// MockMessageRepository mocks the MessageRepository interface
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Create(ctx context.Context, message *domain.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockMessageRepository) Finalize(ctx context.Context, id uuid.UUID, content string, sources []domain.Source, usage map[string]any) error {
	args := m.Called(ctx, id, content, sources, usage)
	return args.Error(0)
}

func (m *MockMessageRepository) ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	args := m.Called(ctx, conversationID)
	return args.Get(0).([]domain.Message), args.Error(1)
}

func (m *MockMessageRepository) ListRecent(ctx context.Context, conversationID uuid.UUID, limit int) ([]domain.Message, error) {
	args := m.Called(ctx, conversationID, limit)
	return args.Get(0).([]domain.Message), args.Error(1)
}

// MockGuestSessionRepository mocks the GuestSessionRepository interface
type MockGuestSessionRepository struct {
	mock.Mock
}

func (m *MockGuestSessionRepository) Ensure(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockRelayer mocks the upstream.Relayer interface. Configure the event
// sequence it replays with the events field.
type MockRelayer struct {
	mock.Mock
	events []upstream.Event
}

func (m *MockRelayer) IsConfigured() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockRelayer) Relay(ctx context.Context, req upstream.Request) <-chan upstream.Event {
	m.Called(ctx, req)
	ch := make(chan upstream.Event)
	go func() {
		defer close(ch)
		for _, ev := range m.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
