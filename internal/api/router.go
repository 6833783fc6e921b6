package api

import (
	"net/http"

	"github.com/escuelachat/chat-api/internal/api/handler"
	customMiddleware "github.com/escuelachat/chat-api/internal/api/middleware"
	"github.com/escuelachat/chat-api/internal/config"
	"github.com/escuelachat/chat-api/internal/repository/postgres"
	"github.com/escuelachat/chat-api/internal/repository/redis"
	"github.com/escuelachat/chat-api/internal/security"
	"github.com/escuelachat/chat-api/internal/service"
	"github.com/escuelachat/chat-api/internal/upstream"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, db *postgres.DB, redisClient *redis.Client) http.Handler {
	r := chi.NewRouter()

	// Global middleware. No request timeout here: the chat stream can
	// legitimately run for minutes, bounded by the server write timeout.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS. Credentials must be allowed for the guest cookie to travel.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Repositories
	convRepo := postgres.NewConversationRepository(db.Pool)
	messageRepo := postgres.NewMessageRepository(db.Pool)
	guestRepo := postgres.NewGuestSessionRepository(db.Pool)

	// Upstream relay
	relayer := upstream.NewClient(cfg.Upstream)

	// Services
	convService := service.NewConversationService(convRepo, messageRepo, guestRepo)
	chatService := service.NewChatService(convRepo, messageRepo, relayer, cfg.Upstream.HistoryWindow)

	// Handlers
	convHandler := handler.NewConversationHandler(convService)
	chatHandler := handler.NewChatHandler(chatService)

	// Identity and rate limiting
	verifier := security.NewTokenVerifier(cfg.Auth.JWTSecret)
	identity := customMiddleware.NewIdentity(verifier, convService, cfg.Guest.CookieName, cfg.Guest.CookieSecure)
	rateLimiter := redis.NewRateLimiter(redisClient, cfg.Security.RateLimit)
	rateLimitMiddleware := customMiddleware.NewRateLimitMiddleware(rateLimiter)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(db, relayer))

		// Everything else runs as some owner: user or guest.
		r.Group(func(r chi.Router) {
			r.Use(identity.Resolve)
			r.Use(rateLimitMiddleware.Limit)

			r.Post("/chat/send", chatHandler.Send)

			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", convHandler.List)
				r.Post("/", convHandler.Create)
				r.Delete("/", convHandler.DeleteAll)

				r.Route("/{conversationID}", func(r chi.Router) {
					r.Get("/", convHandler.Get)
					r.Delete("/", convHandler.Delete)
					r.Get("/messages", convHandler.Messages)
				})
			})
		})
	})

	return r
}
