package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/escuelachat/chat-api/internal/api/middleware"
	"github.com/escuelachat/chat-api/internal/api/response"
	"github.com/escuelachat/chat-api/internal/api/sse"
	"github.com/escuelachat/chat-api/internal/domain"
	"github.com/escuelachat/chat-api/internal/service"
	"github.com/escuelachat/chat-api/internal/upstream"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// ChatHandler streams chat replies over SSE.
type ChatHandler struct {
	chatService *service.ChatService
	validate    *validator.Validate
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		validate:    validator.New(),
	}
}

type sendRequest struct {
	ConversationID string  `json:"conversationId"`
	Message        string  `json:"message" validate:"required,max=4000"`
	TopK           int     `json:"topK" validate:"omitempty,min=1,max=50"`
	Temperature    float64 `json:"temperature" validate:"omitempty,gt=0,lte=2"`
	Model          string  `json:"model"`
}

// Send handles POST /chat/send. Failures before the first upstream byte map
// to plain HTTP statuses; the bodies still use SSE framing so the client
// parses every outcome the same way.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.GetOwner(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.ErrorCode(w, http.StatusBadRequest, domain.CodeValidationError, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.ErrorCode(w, http.StatusBadRequest, domain.CodeValidationError, err.Error())
		return
	}

	result, err := h.chatService.Send(r.Context(), owner, service.SendRequest{
		ConversationID: req.ConversationID,
		Message:        req.Message,
		Settings: upstream.Settings{
			TopK:        req.TopK,
			Temperature: req.Temperature,
			Model:       req.Model,
		},
	})
	if err != nil {
		h.writeSendError(w, err)
		return
	}

	enc, err := sse.NewEncoder(w)
	if err != nil {
		response.InternalError(w, "streaming not supported")
		return
	}
	enc.WriteHeaders(http.StatusOK)

	for ev := range result.Events {
		if err := enc.Send(string(ev.Type), eventData(ev)); err != nil {
			log.Debug().Err(err).Msg("client dropped stream")
			return
		}
	}
}

// writeSendError maps pre-stream failures onto HTTP statuses with SSE-framed
// error bodies.
func (h *ChatHandler) writeSendError(w http.ResponseWriter, err error) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		response.ErrorCode(w, http.StatusBadRequest, domain.CodeValidationError, vErr.Error())
	case errors.Is(err, domain.ErrConversationNotFound), errors.Is(err, domain.ErrNotOwner):
		writeSSEError(w, http.StatusNotFound, domain.CodeConversationNotFound, "conversation not found")
	case errors.Is(err, domain.ErrUpstreamNotConfigured):
		writeSSEError(w, http.StatusInternalServerError, domain.CodeUpstreamConfig, err.Error())
	default:
		log.Error().Err(err).Msg("chat send failed")
		writeSSEError(w, http.StatusInternalServerError, domain.CodeStreamError, "failed to process message")
	}
}

func writeSSEError(w http.ResponseWriter, status int, code, message string) {
	payload, _ := json.Marshal(sse.Envelope{
		Type: string(upstream.EventError),
		Data: map[string]string{"code": code, "message": message},
	})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

// eventData picks the payload for each event type's envelope.
func eventData(ev upstream.Event) any {
	switch ev.Type {
	case upstream.EventContent:
		return map[string]string{"content": ev.Content}
	case upstream.EventSources:
		return map[string]any{"sources": ev.Sources}
	case upstream.EventUsage:
		return map[string]any{"usage": ev.Usage}
	case upstream.EventComplete:
		data := map[string]any{
			"ok":             true,
			"conversationId": ev.ConversationID.String(),
		}
		if ev.MessageID != nil {
			data["messageId"] = ev.MessageID.String()
		}
		return data
	case upstream.EventError:
		return map[string]string{"code": ev.ErrCode, "message": ev.ErrMessage}
	default:
		return nil
	}
}
