package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/escuelachat/chat-api/internal/api/middleware"
	"github.com/escuelachat/chat-api/internal/api/response"
	"github.com/escuelachat/chat-api/internal/domain"
	"github.com/escuelachat/chat-api/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ConversationHandler serves conversation CRUD for the resolved owner.
type ConversationHandler struct {
	convService *service.ConversationService
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(convService *service.ConversationService) *ConversationHandler {
	return &ConversationHandler{convService: convService}
}

// List returns the owner's conversations, most recently active first.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.GetOwner(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	conversations, err := h.convService.List(r.Context(), owner)
	if err != nil {
		log.Error().Err(err).Msg("failed to list conversations")
		response.InternalError(w, "failed to list conversations")
		return
	}
	if conversations == nil {
		conversations = []domain.Conversation{}
	}

	response.OK(w, conversations)
}

// Create creates an empty conversation.
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.GetOwner(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req struct {
		Title    string         `json:"title"`
		Settings map[string]any `json:"settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Optional body
	}

	conv, err := h.convService.Create(r.Context(), owner, req.Title, req.Settings)
	if err != nil {
		log.Error().Err(err).Msg("failed to create conversation")
		response.InternalError(w, "failed to create conversation")
		return
	}

	response.Created(w, conv)
}

// Get returns one conversation.
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := h.ownerAndID(w, r)
	if !ok {
		return
	}

	conv, err := h.convService.Get(r.Context(), owner, id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}

	response.OK(w, conv)
}

// Messages returns the full history of one conversation.
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := h.ownerAndID(w, r)
	if !ok {
		return
	}

	messages, err := h.convService.Messages(r.Context(), owner, id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	response.OK(w, messages)
}

// Delete removes one conversation and its messages.
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := h.ownerAndID(w, r)
	if !ok {
		return
	}

	if err := h.convService.Delete(r.Context(), owner, id); err != nil {
		h.writeLookupError(w, err)
		return
	}

	response.OK(w, map[string]string{"message": "conversation deleted"})
}

// DeleteAll removes every conversation of the owner.
func (h *ConversationHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.GetOwner(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	if err := h.convService.DeleteAll(r.Context(), owner); err != nil {
		log.Error().Err(err).Msg("failed to delete conversations")
		response.InternalError(w, "failed to delete conversations")
		return
	}

	response.OK(w, map[string]string{"message": "conversations deleted"})
}

func (h *ConversationHandler) ownerAndID(w http.ResponseWriter, r *http.Request) (domain.OwnerRef, uuid.UUID, bool) {
	owner, ok := middleware.GetOwner(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return domain.OwnerRef{}, uuid.Nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		response.NotFound(w, "conversation not found")
		return domain.OwnerRef{}, uuid.Nil, false
	}

	return owner, id, true
}

// writeLookupError hides ownership details: a foreign conversation yields the
// same generic body as a missing one, just with a 403.
func (h *ConversationHandler) writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrConversationNotFound):
		response.NotFound(w, "conversation not found")
	case errors.Is(err, domain.ErrNotOwner):
		response.Forbidden(w, "conversation not found")
	default:
		log.Error().Err(err).Msg("conversation lookup failed")
		response.InternalError(w, "failed to load conversation")
	}
}
