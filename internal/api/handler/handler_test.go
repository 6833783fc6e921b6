package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/escuelachat/chat-api/internal/api/handler"
	"github.com/escuelachat/chat-api/internal/api/middleware"
	"github.com/escuelachat/chat-api/internal/domain"
	"github.com/escuelachat/chat-api/internal/service"
	"github.com/escuelachat/chat-api/internal/upstream"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// In-memory repository fakes; enough behavior to drive the handlers through
// real services.

type fakeConvRepo struct {
	mu    sync.Mutex
	convs map[uuid.UUID]*domain.Conversation
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{convs: make(map[uuid.UUID]*domain.Conversation)}
}

func (f *fakeConvRepo) Create(_ context.Context, conv *domain.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *conv
	f.convs[conv.ID] = &c
	return nil
}

func (f *fakeConvRepo) Get(_ context.Context, id uuid.UUID) (*domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[id]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	c := *conv
	return &c, nil
}

func (f *fakeConvRepo) ListByOwner(_ context.Context, owner domain.OwnerRef, _ int) ([]domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Conversation
	for _, conv := range f.convs {
		if owner.Owns(conv) {
			out = append(out, *conv)
		}
	}
	return out, nil
}

func (f *fakeConvRepo) RenameIfPlaceholder(_ context.Context, id uuid.UUID, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conv, ok := f.convs[id]; ok && conv.HasPlaceholderTitle() {
		conv.Title = title
	}
	return nil
}

func (f *fakeConvRepo) Touch(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conv, ok := f.convs[id]; ok {
		conv.UpdatedAt = at
	}
	return nil
}

func (f *fakeConvRepo) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.convs[id]; !ok {
		return domain.ErrConversationNotFound
	}
	delete(f.convs, id)
	return nil
}

func (f *fakeConvRepo) DeleteAllByOwner(_ context.Context, owner domain.OwnerRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, conv := range f.convs {
		if owner.Owns(conv) {
			delete(f.convs, id)
		}
	}
	return nil
}

func (f *fakeConvRepo) MigrateGuestToUser(_ context.Context, guestSessionID, userID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var migrated int64
	for _, conv := range f.convs {
		if conv.GuestSessionID != nil && *conv.GuestSessionID == guestSessionID && conv.UserID == nil {
			uid := userID
			conv.UserID = &uid
			conv.GuestSessionID = nil
			migrated++
		}
	}
	return migrated, nil
}

type fakeMsgRepo struct {
	mu       sync.Mutex
	messages []domain.Message
}

func (f *fakeMsgRepo) Create(_ context.Context, m *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, *m)
	return nil
}

func (f *fakeMsgRepo) Finalize(_ context.Context, id uuid.UUID, content string, sources []domain.Source, usage map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.messages {
		if f.messages[i].ID == id {
			f.messages[i].Content = content
			f.messages[i].Sources = sources
			f.messages[i].Usage = usage
		}
	}
	return nil
}

func (f *fakeMsgRepo) ListByConversation(_ context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Message
	for _, m := range f.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMsgRepo) ListRecent(ctx context.Context, conversationID uuid.UUID, limit int) ([]domain.Message, error) {
	all, _ := f.ListByConversation(ctx, conversationID)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

type fakeGuestRepo struct{}

func (fakeGuestRepo) Ensure(context.Context, uuid.UUID) error { return nil }

type fakeRelayer struct {
	configured bool
	events     []upstream.Event
}

func (f *fakeRelayer) IsConfigured() bool { return f.configured }

func (f *fakeRelayer) Relay(ctx context.Context, _ upstream.Request) <-chan upstream.Event {
	ch := make(chan upstream.Event)
	go func() {
		defer close(ch)
		for _, ev := range f.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// withOwner injects a resolved owner the way the identity middleware does.
func withOwner(owner domain.OwnerRef) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), middleware.OwnerKey, owner)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func TestHealthCheck(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()

	handler.HealthCheck(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, true, body["success"])
}

func TestConversationHandler_HidesForeignConversations(t *testing.T) {
	convRepo := newFakeConvRepo()
	svc := service.NewConversationService(convRepo, &fakeMsgRepo{}, fakeGuestRepo{})
	h := handler.NewConversationHandler(svc)

	ownerA := domain.GuestOwner(uuid.New())
	conv, err := svc.Create(context.Background(), ownerA, "Consulta", nil)
	require.NoError(t, err)

	router := chi.NewRouter()
	router.With(withOwner(domain.GuestOwner(uuid.New()))).Get("/conversations/{conversationID}", h.Get)

	// A different guest sees a generic body, not the conversation.
	req := httptest.NewRequest(http.MethodGet, "/conversations/"+conv.ID.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "Consulta")

	// An unknown id looks the same except for the status.
	req = httptest.NewRequest(http.MethodGet, "/conversations/"+uuid.NewString(), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversationHandler_ListAndDelete(t *testing.T) {
	convRepo := newFakeConvRepo()
	svc := service.NewConversationService(convRepo, &fakeMsgRepo{}, fakeGuestRepo{})
	h := handler.NewConversationHandler(svc)

	owner := domain.GuestOwner(uuid.New())
	conv, err := svc.Create(context.Background(), owner, "", nil)
	require.NoError(t, err)

	router := chi.NewRouter()
	router.Use(withOwner(owner))
	router.Get("/conversations", h.List)
	router.Delete("/conversations/{conversationID}", h.Delete)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), conv.ID.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/conversations/"+conv.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations", nil))
	assert.NotContains(t, rec.Body.String(), conv.ID.String())
}

func TestChatHandler_SendStreams(t *testing.T) {
	convRepo := newFakeConvRepo()
	msgRepo := &fakeMsgRepo{}
	relayer := &fakeRelayer{configured: true, events: []upstream.Event{
		upstream.ContentEvent("Hola, "),
		upstream.ContentEvent("¿en qué puedo ayudarte?"),
		{Type: upstream.EventUsage, Usage: map[string]any{"tokens": 12}},
	}}
	chatSvc := service.NewChatService(convRepo, msgRepo, relayer, 10)
	h := handler.NewChatHandler(chatSvc)

	router := chi.NewRouter()
	router.Use(withOwner(domain.GuestOwner(uuid.New())))
	router.Post("/chat/send", h.Send)

	body := strings.NewReader(`{"message":"Hola"}`)
	req := httptest.NewRequest(http.MethodPost, "/chat/send", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	out := rec.Body.String()
	assert.Contains(t, out, `data: {"type":"message","data":{"content":"Hola, "}}`)
	// Usage stats stay wrapped under a "usage" key in the frame.
	assert.Contains(t, out, `data: {"type":"usage","data":{"usage":{"tokens":12}}}`)
	assert.Contains(t, out, `"type":"complete"`)
	assert.Contains(t, out, `"ok":true`)

	// Two content chunks were accumulated into one assistant row.
	messages, err := msgRepo.ListByConversation(context.Background(), firstConversationID(t, convRepo))
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "Hola, ¿en qué puedo ayudarte?", messages[1].Content)
}

func TestChatHandler_SendValidation(t *testing.T) {
	chatSvc := service.NewChatService(newFakeConvRepo(), &fakeMsgRepo{}, &fakeRelayer{configured: true}, 10)
	h := handler.NewChatHandler(chatSvc)

	router := chi.NewRouter()
	router.Use(withOwner(domain.GuestOwner(uuid.New())))
	router.Post("/chat/send", h.Send)

	req := httptest.NewRequest(http.MethodPost, "/chat/send", strings.NewReader(`{"message":""}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.CodeValidationError)
}

func TestChatHandler_SendUnknownConversation(t *testing.T) {
	chatSvc := service.NewChatService(newFakeConvRepo(), &fakeMsgRepo{}, &fakeRelayer{configured: true}, 10)
	h := handler.NewChatHandler(chatSvc)

	router := chi.NewRouter()
	router.Use(withOwner(domain.GuestOwner(uuid.New())))
	router.Post("/chat/send", h.Send)

	body := strings.NewReader(`{"conversationId":"` + uuid.NewString() + `","message":"Hola"}`)
	req := httptest.NewRequest(http.MethodPost, "/chat/send", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// The error body keeps SSE framing so the client parses it like any
	// other stream.
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), domain.CodeConversationNotFound)
}

func TestChatHandler_SendUpstreamNotConfigured(t *testing.T) {
	chatSvc := service.NewChatService(newFakeConvRepo(), &fakeMsgRepo{}, &fakeRelayer{configured: false}, 10)
	h := handler.NewChatHandler(chatSvc)

	router := chi.NewRouter()
	router.Use(withOwner(domain.GuestOwner(uuid.New())))
	router.Post("/chat/send", h.Send)

	req := httptest.NewRequest(http.MethodPost, "/chat/send", strings.NewReader(`{"message":"Hola"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.CodeUpstreamConfig)
}

func firstConversationID(t *testing.T, repo *fakeConvRepo) uuid.UUID {
	t.Helper()
	repo.mu.Lock()
	defer repo.mu.Unlock()
	for id := range repo.convs {
		return id
	}
	t.Fatal("no conversation created")
	return uuid.Nil
}
