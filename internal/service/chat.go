package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/escuelachat/chat-api/internal/domain"
	"github.com/escuelachat/chat-api/internal/title"
	"github.com/escuelachat/chat-api/internal/upstream"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Default generation knobs applied when neither the conversation nor the
// request overrides them.
const (
	defaultTopK        = 5
	defaultTemperature = 0.7
)

// SendRequest is one chat turn from a client.
type SendRequest struct {
	// ConversationID is the raw id from the client. Empty strings and
	// ephemeral "temp_" ids mean a new conversation must be created.
	ConversationID string
	Message        string
	Settings       upstream.Settings
}

// SendResult carries the resolved conversation plus the event sequence for
// the reply. The Events channel is closed after the terminal event.
type SendResult struct {
	Conversation *domain.Conversation
	Created      bool
	Events       <-chan upstream.Event
}

// ChatService handles chat turns: conversation resolution, persistence and
// the upstream relay.
type ChatService struct {
	convRepo      domain.ConversationRepository
	messageRepo   domain.MessageRepository
	relayer       upstream.Relayer
	historyWindow int
}

// NewChatService creates a new chat service
func NewChatService(
	convRepo domain.ConversationRepository,
	messageRepo domain.MessageRepository,
	relayer upstream.Relayer,
	historyWindow int,
) *ChatService {
	if historyWindow <= 0 {
		historyWindow = 10
	}
	return &ChatService{
		convRepo:      convRepo,
		messageRepo:   messageRepo,
		relayer:       relayer,
		historyWindow: historyWindow,
	}
}

// Send processes one chat turn. Errors returned here happen before the first
// event and map to plain HTTP statuses; once the result is returned, failures
// arrive as Error events on the channel instead.
func (s *ChatService) Send(ctx context.Context, owner domain.OwnerRef, req SendRequest) (*SendResult, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, &domain.ValidationError{Field: "message", Message: "must not be empty"}
	}

	if !s.relayer.IsConfigured() {
		return nil, domain.ErrUpstreamNotConfigured
	}

	conv, created, err := s.resolveConversation(ctx, owner, req.ConversationID, message)
	if err != nil {
		return nil, err
	}

	// History is the window of prior turns; the current prompt travels
	// separately as the chat input.
	history, err := s.messageRepo.ListRecent(ctx, conv.ID, s.historyWindow)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conv.ID.String()).Msg("failed to load history window")
		history = nil
	}

	userMsg := &domain.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Role:           domain.RoleUser,
		Content:        message,
		CreatedAt:      time.Now(),
	}
	if err := s.messageRepo.Create(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}
	if err := s.convRepo.Touch(ctx, conv.ID, userMsg.CreatedAt); err != nil {
		log.Error().Err(err).Msg("failed to touch conversation")
	}

	relayReq := upstream.Request{
		Message:  message,
		History:  toHistoryEntries(history),
		Settings: effectiveSettings(conv, req.Settings),
	}

	out := make(chan upstream.Event)
	go s.pump(ctx, conv, s.relayer.Relay(ctx, relayReq), out)

	return &SendResult{Conversation: conv, Created: created, Events: out}, nil
}

// resolveConversation maps the raw client id onto a durable conversation,
// creating one when needed and upgrading a placeholder title on the way.
func (s *ChatService) resolveConversation(ctx context.Context, owner domain.OwnerRef, rawID, message string) (*domain.Conversation, bool, error) {
	if rawID == "" || domain.IsEphemeralID(rawID) {
		now := time.Now()
		conv := &domain.Conversation{
			ID:        uuid.New(),
			Title:     title.Synthesize(message),
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
			return nil, false, fmt.Errorf("failed to create conversation: %w", err)
		}
		return conv, true, nil
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, false, domain.ErrConversationNotFound
	}

	conv, err := s.convRepo.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !owner.Owns(conv) {
		return nil, false, domain.ErrNotOwner
	}

	if conv.HasPlaceholderTitle() {
		newTitle := title.Synthesize(message)
		if err := s.convRepo.RenameIfPlaceholder(ctx, conv.ID, newTitle); err != nil {
			log.Error().Err(err).Msg("failed to rename conversation")
		} else {
			conv.Title = newTitle
		}
	}

	return conv, false, nil
}

// pump forwards relay events to the caller while accumulating the reply, then
// persists the assistant message and appends the terminal Complete event. The
// assistant row is created on the first content chunk, so a relay that fails
// outright leaves no empty assistant turn behind.
func (s *ChatService) pump(ctx context.Context, conv *domain.Conversation, relay <-chan upstream.Event, out chan<- upstream.Event) {
	defer close(out)

	var (
		answer     strings.Builder
		sources    []domain.Source
		usage      map[string]any
		messageID  *uuid.UUID
		failed     bool
		clientGone bool
	)

	for ev := range relay {
		switch ev.Type {
		case upstream.EventContent:
			if messageID == nil {
				id := uuid.New()
				row := &domain.Message{
					ID:             id,
					ConversationID: conv.ID,
					Role:           domain.RoleAssistant,
					CreatedAt:      time.Now(),
				}
				if err := s.messageRepo.Create(ctx, row); err != nil {
					log.Error().Err(err).Msg("failed to create assistant message")
				} else {
					messageID = &id
				}
			}
			answer.WriteString(ev.Content)
		case upstream.EventSources:
			sources = append(sources, ev.Sources...)
		case upstream.EventUsage:
			usage = ev.Usage
		case upstream.EventError:
			failed = true
		}

		if !forward(ctx, out, ev) {
			clientGone = true
			break
		}
	}

	// Persist whatever arrived, even for an aborted or failed stream, so the
	// server-side history keeps the partial reply.
	if messageID != nil {
		content := answer.String()
		if content == "" && !failed {
			content = upstream.NoResponsePlaceholder
		}
		pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.messageRepo.Finalize(pctx, *messageID, content, sources, usage); err != nil {
			log.Error().Err(err).Str("message_id", messageID.String()).Msg("failed to finalize assistant message")
		}
	}

	if failed || clientGone {
		return
	}
	forward(ctx, out, upstream.CompleteEvent(conv.ID, messageID))
}

// forward sends one event unless the client context is gone.
func forward(ctx context.Context, out chan<- upstream.Event, ev upstream.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func toHistoryEntries(messages []domain.Message) []upstream.HistoryEntry {
	if len(messages) == 0 {
		return nil
	}
	entries := make([]upstream.HistoryEntry, 0, len(messages))
	for _, m := range messages {
		entries = append(entries, upstream.HistoryEntry{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return entries
}

// effectiveSettings layers defaults, then the conversation's stored settings,
// then the per-request overrides.
func effectiveSettings(conv *domain.Conversation, override upstream.Settings) upstream.Settings {
	s := upstream.Settings{TopK: defaultTopK, Temperature: defaultTemperature}

	if conv.Settings != nil {
		if v, ok := conv.Settings["topK"].(float64); ok && v > 0 {
			s.TopK = int(v)
		}
		if v, ok := conv.Settings["temperature"].(float64); ok && v > 0 {
			s.Temperature = v
		}
		if v, ok := conv.Settings["model"].(string); ok && v != "" {
			s.Model = v
		}
	}

	if override.TopK > 0 {
		s.TopK = override.TopK
	}
	if override.Temperature > 0 {
		s.Temperature = override.Temperature
	}
	if override.Model != "" {
		s.Model = override.Model
	}
	return s
}
