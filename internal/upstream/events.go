package upstream

import (
	"github.com/escuelachat/chat-api/internal/domain"
	"github.com/google/uuid"
)

// EventType tags the events a relay sequence is made of.
type EventType string

const (
	EventContent  EventType = "message"
	EventSources  EventType = "sources"
	EventUsage    EventType = "usage"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one element of the normalized relay sequence. Exactly one terminal
// event (Complete or Error) ends every sequence.
type Event struct {
	Type    EventType
	Content string
	Sources []domain.Source
	Usage   map[string]any

	// Set on Complete by the chat service once persistence is done.
	ConversationID uuid.UUID
	MessageID      *uuid.UUID

	// Set on Error.
	ErrMessage string
	ErrCode    string
}

// ContentEvent returns a Content event carrying a chunk of answer text.
func ContentEvent(text string) Event {
	return Event{Type: EventContent, Content: text}
}

// ErrorEvent returns a terminal Error event.
func ErrorEvent(code, message string) Event {
	return Event{Type: EventError, ErrCode: code, ErrMessage: message}
}

// CompleteEvent returns the terminal Complete event.
func CompleteEvent(conversationID uuid.UUID, messageID *uuid.UUID) Event {
	return Event{Type: EventComplete, ConversationID: conversationID, MessageID: messageID}
}
