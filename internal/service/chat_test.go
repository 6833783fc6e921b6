package service

import (
	"context"
	"testing"
	"time"

	"github.com/escuelachat/chat-api/internal/domain"
	"github.com/escuelachat/chat-api/internal/upstream"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func collectEvents(t *testing.T, ch <-chan upstream.Event) []upstream.Event {
	t.Helper()
	var events []upstream.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}
}

func TestSend_NewConversationFromEphemeralID(t *testing.T) {
	convRepo := new(MockConversationRepository)
	msgRepo := new(MockMessageRepository)
	relayer := &MockRelayer{events: []upstream.Event{
		upstream.ContentEvent("Hola, "),
		upstream.ContentEvent("¿en qué puedo ayudarte?"),
	}}

	relayer.On("IsConfigured").Return(true)
	relayer.On("Relay", mock.Anything, mock.Anything).Return()
	convRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	convRepo.On("Touch", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	msgRepo.On("ListRecent", mock.Anything, mock.Anything, 10).Return([]domain.Message{}, nil)
	msgRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	msgRepo.On("Finalize", mock.Anything, mock.Anything, "Hola, ¿en qué puedo ayudarte?", mock.Anything, mock.Anything).Return(nil)

	svc := NewChatService(convRepo, msgRepo, relayer, 10)
	owner := domain.GuestOwner(uuid.New())

	result, err := svc.Send(context.Background(), owner, SendRequest{
		ConversationID: "temp_1699999999",
		Message:        "Hola",
	})
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, "Hola", result.Conversation.Title)
	require.NotNil(t, result.Conversation.GuestSessionID)
	assert.Equal(t, owner.GuestSessionID, *result.Conversation.GuestSessionID)

	events := collectEvents(t, result.Events)
	require.Len(t, events, 3)
	assert.Equal(t, upstream.EventContent, events[0].Type)
	assert.Equal(t, upstream.EventComplete, events[2].Type)
	assert.Equal(t, result.Conversation.ID, events[2].ConversationID)
	require.NotNil(t, events[2].MessageID)

	// One user row, one assistant row.
	msgRepo.AssertNumberOfCalls(t, "Create", 2)
	msgRepo.AssertExpectations(t)
}

func TestSend_EmptyMessageRejected(t *testing.T) {
	svc := NewChatService(new(MockConversationRepository), new(MockMessageRepository), &MockRelayer{}, 10)

	_, err := svc.Send(context.Background(), domain.GuestOwner(uuid.New()), SendRequest{Message: "   "})
	require.Error(t, err)

	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "message", vErr.Field)
}

func TestSend_UpstreamNotConfigured(t *testing.T) {
	relayer := &MockRelayer{}
	relayer.On("IsConfigured").Return(false)

	svc := NewChatService(new(MockConversationRepository), new(MockMessageRepository), relayer, 10)

	_, err := svc.Send(context.Background(), domain.GuestOwner(uuid.New()), SendRequest{Message: "Hola"})
	assert.ErrorIs(t, err, domain.ErrUpstreamNotConfigured)
}

func TestSend_ExistingConversationOfOtherOwnerRejected(t *testing.T) {
	otherGuest := uuid.New()
	convID := uuid.New()
	conv := &domain.Conversation{ID: convID, Title: "Consulta", GuestSessionID: &otherGuest}

	convRepo := new(MockConversationRepository)
	convRepo.On("Get", mock.Anything, convID).Return(conv, nil)

	relayer := &MockRelayer{}
	relayer.On("IsConfigured").Return(true)

	svc := NewChatService(convRepo, new(MockMessageRepository), relayer, 10)

	_, err := svc.Send(context.Background(), domain.GuestOwner(uuid.New()), SendRequest{
		ConversationID: convID.String(),
		Message:        "Hola",
	})
	assert.ErrorIs(t, err, domain.ErrNotOwner)
}

func TestSend_UnknownConversation(t *testing.T) {
	convID := uuid.New()
	convRepo := new(MockConversationRepository)
	convRepo.On("Get", mock.Anything, convID).Return(nil, domain.ErrConversationNotFound)

	relayer := &MockRelayer{}
	relayer.On("IsConfigured").Return(true)

	svc := NewChatService(convRepo, new(MockMessageRepository), relayer, 10)

	_, err := svc.Send(context.Background(), domain.GuestOwner(uuid.New()), SendRequest{
		ConversationID: convID.String(),
		Message:        "Hola",
	})
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestSend_PlaceholderTitleReplacedByFirstMessage(t *testing.T) {
	userID := uuid.New()
	convID := uuid.New()
	conv := &domain.Conversation{ID: convID, Title: domain.PlaceholderTitle, UserID: &userID}

	convRepo := new(MockConversationRepository)
	msgRepo := new(MockMessageRepository)
	relayer := &MockRelayer{events: []upstream.Event{upstream.ContentEvent("Claro.")}}

	relayer.On("IsConfigured").Return(true)
	relayer.On("Relay", mock.Anything, mock.Anything).Return()
	convRepo.On("Get", mock.Anything, convID).Return(conv, nil)
	convRepo.On("RenameIfPlaceholder", mock.Anything, convID, "¿Qué es la gracia?").Return(nil)
	convRepo.On("Touch", mock.Anything, convID, mock.Anything).Return(nil)
	msgRepo.On("ListRecent", mock.Anything, convID, 10).Return([]domain.Message{}, nil)
	msgRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	msgRepo.On("Finalize", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	svc := NewChatService(convRepo, msgRepo, relayer, 10)

	result, err := svc.Send(context.Background(), domain.UserOwner(userID), SendRequest{
		ConversationID: convID.String(),
		Message:        "¿Qué es la gracia? Me gustaría entenderlo mejor",
	})
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, "¿Qué es la gracia?", result.Conversation.Title)

	collectEvents(t, result.Events)
	convRepo.AssertExpectations(t)
}

func TestSend_UserMessageSavedBeforeRelay(t *testing.T) {
	convRepo := new(MockConversationRepository)
	msgRepo := new(MockMessageRepository)
	relayer := &MockRelayer{events: []upstream.Event{
		upstream.ErrorEvent(domain.CodeUpstreamService, "upstream returned status 500"),
	}}

	relayer.On("IsConfigured").Return(true)
	relayer.On("Relay", mock.Anything, mock.Anything).Return()
	convRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	convRepo.On("Touch", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	msgRepo.On("ListRecent", mock.Anything, mock.Anything, 10).Return([]domain.Message{}, nil)
	msgRepo.On("Create", mock.Anything, mock.MatchedBy(func(m *domain.Message) bool {
		return m.Role == domain.RoleUser && m.Content == "Hola"
	})).Return(nil)

	svc := NewChatService(convRepo, msgRepo, relayer, 10)

	result, err := svc.Send(context.Background(), domain.GuestOwner(uuid.New()), SendRequest{Message: "Hola"})
	require.NoError(t, err)

	events := collectEvents(t, result.Events)
	require.Len(t, events, 1)
	assert.Equal(t, upstream.EventError, events[0].Type)
	assert.Equal(t, domain.CodeUpstreamService, events[0].ErrCode)

	// The user turn persists, but no assistant row was ever created and
	// nothing was finalized.
	msgRepo.AssertNumberOfCalls(t, "Create", 1)
	msgRepo.AssertNotCalled(t, "Finalize", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSend_HistoryWindowForwardedUpstream(t *testing.T) {
	userID := uuid.New()
	convID := uuid.New()
	conv := &domain.Conversation{ID: convID, Title: "Consulta", UserID: &userID}
	history := []domain.Message{
		{Role: domain.RoleUser, Content: "Hola"},
		{Role: domain.RoleAssistant, Content: "Hola, ¿en qué puedo ayudarte?"},
	}

	convRepo := new(MockConversationRepository)
	msgRepo := new(MockMessageRepository)
	relayer := &MockRelayer{events: []upstream.Event{upstream.ContentEvent("Claro.")}}

	var captured upstream.Request
	relayer.On("IsConfigured").Return(true)
	relayer.On("Relay", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(1).(upstream.Request)
	}).Return()
	convRepo.On("Get", mock.Anything, convID).Return(conv, nil)
	convRepo.On("Touch", mock.Anything, convID, mock.Anything).Return(nil)
	msgRepo.On("ListRecent", mock.Anything, convID, 10).Return(history, nil)
	msgRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	msgRepo.On("Finalize", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	svc := NewChatService(convRepo, msgRepo, relayer, 10)

	result, err := svc.Send(context.Background(), domain.UserOwner(userID), SendRequest{
		ConversationID: convID.String(),
		Message:        "¿Y la lección 5?",
	})
	require.NoError(t, err)
	collectEvents(t, result.Events)

	require.Len(t, captured.History, 2)
	assert.Equal(t, "user", captured.History[0].Role)
	assert.Equal(t, "assistant", captured.History[1].Role)
	assert.Equal(t, "¿Y la lección 5?", captured.Message)
}

func TestSend_SettingsLayering(t *testing.T) {
	userID := uuid.New()
	convID := uuid.New()
	conv := &domain.Conversation{
		ID:       convID,
		Title:    "Consulta",
		UserID:   &userID,
		Settings: map[string]any{"model": "stored-model", "topK": float64(8)},
	}

	convRepo := new(MockConversationRepository)
	msgRepo := new(MockMessageRepository)
	relayer := &MockRelayer{events: []upstream.Event{upstream.ContentEvent("Ok")}}

	var captured upstream.Request
	relayer.On("IsConfigured").Return(true)
	relayer.On("Relay", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(1).(upstream.Request)
	}).Return()
	convRepo.On("Get", mock.Anything, convID).Return(conv, nil)
	convRepo.On("Touch", mock.Anything, convID, mock.Anything).Return(nil)
	msgRepo.On("ListRecent", mock.Anything, convID, 10).Return([]domain.Message{}, nil)
	msgRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	msgRepo.On("Finalize", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	svc := NewChatService(convRepo, msgRepo, relayer, 10)

	result, err := svc.Send(context.Background(), domain.UserOwner(userID), SendRequest{
		ConversationID: convID.String(),
		Message:        "Hola",
		Settings:       upstream.Settings{Model: "override-model"},
	})
	require.NoError(t, err)
	collectEvents(t, result.Events)

	assert.Equal(t, "override-model", captured.Settings.Model)
	assert.Equal(t, 8, captured.Settings.TopK)
	assert.Equal(t, defaultTemperature, captured.Settings.Temperature)
}

func TestSend_EmptyRelayStillCompletes(t *testing.T) {
	convRepo := new(MockConversationRepository)
	msgRepo := new(MockMessageRepository)
	relayer := &MockRelayer{}

	relayer.On("IsConfigured").Return(true)
	relayer.On("Relay", mock.Anything, mock.Anything).Return()
	convRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	convRepo.On("Touch", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	msgRepo.On("ListRecent", mock.Anything, mock.Anything, 10).Return([]domain.Message{}, nil)
	msgRepo.On("Create", mock.Anything, mock.Anything).Return(nil)

	svc := NewChatService(convRepo, msgRepo, relayer, 10)

	result, err := svc.Send(context.Background(), domain.GuestOwner(uuid.New()), SendRequest{Message: "Hola"})
	require.NoError(t, err)

	events := collectEvents(t, result.Events)
	require.Len(t, events, 1)
	assert.Equal(t, upstream.EventComplete, events[0].Type)
	assert.Nil(t, events[0].MessageID)
}
