package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/escuelachat/chat-api/internal/api/response"
	"github.com/escuelachat/chat-api/internal/domain"
	"github.com/escuelachat/chat-api/internal/security"
	"github.com/escuelachat/chat-api/internal/service"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type contextKey string

const (
	OwnerKey     contextKey = "owner"
	UserEmailKey contextKey = "userEmail"
)

// Identity resolves every request to exactly one owner: the authenticated
// user from a bearer token, or a guest session anchored in a cookie. Requests
// arriving with neither get a fresh guest session.
type Identity struct {
	verifier     *security.TokenVerifier
	convService  *service.ConversationService
	cookieName   string
	cookieSecure bool
}

// NewIdentity creates the identity middleware
func NewIdentity(verifier *security.TokenVerifier, convService *service.ConversationService, cookieName string, cookieSecure bool) *Identity {
	if cookieName == "" {
		cookieName = "guest_token"
	}
	return &Identity{
		verifier:     verifier,
		convService:  convService,
		cookieName:   cookieName,
		cookieSecure: cookieSecure,
	}
}

// Resolve attaches the request owner to the context. A request carrying both
// a valid bearer token and a guest cookie triggers the guest-to-user
// migration before the handler runs.
func (m *Identity) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.bearerClaims(r)
		if err != nil {
			response.Unauthorized(w, "invalid or expired token")
			return
		}

		guestID, hasGuest := m.guestCookie(r)

		if claims != nil {
			if hasGuest {
				// The guest turned into a user: adopt their conversations and
				// retire the cookie. A failed migration is logged, not fatal;
				// the next authenticated request retries it.
				if _, err := m.convService.MigrateGuestToUser(r.Context(), guestID, claims.UserID); err != nil {
					log.Warn().Err(err).
						Str("guest_session_id", guestID.String()).
						Str("user_id", claims.UserID.String()).
						Msg("guest migration failed")
				} else {
					m.expireCookie(w)
				}
			}

			ctx := context.WithValue(r.Context(), OwnerKey, domain.UserOwner(claims.UserID))
			ctx = context.WithValue(ctx, UserEmailKey, claims.Email)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if !hasGuest {
			guestID = uuid.New()
			m.setCookie(w, guestID)
		}
		if err := m.convService.EnsureGuestSession(r.Context(), guestID); err != nil {
			log.Error().Err(err).Msg("failed to ensure guest session")
			response.InternalError(w, "failed to establish session")
			return
		}

		ctx := context.WithValue(r.Context(), OwnerKey, domain.GuestOwner(guestID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerClaims parses the Authorization header. Absence is not an error; a
// present but invalid token is.
func (m *Identity) bearerClaims(r *http.Request) (*security.Claims, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, nil
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, nil
	}

	return m.verifier.Verify(parts[1])
}

// guestCookie reads the guest session cookie. Malformed values are treated as
// absent so the client gets a fresh session instead of an error.
func (m *Identity) guestCookie(r *http.Request) (uuid.UUID, bool) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(cookie.Value)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// setCookie issues a session cookie with no Max-Age, so it lives as long as
// the browser session.
func (m *Identity) setCookie(w http.ResponseWriter, id uuid.UUID) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    id.String(),
		Path:     "/",
		HttpOnly: true,
		Secure:   m.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Identity) expireCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// GetOwner gets the resolved owner from context
func GetOwner(ctx context.Context) (domain.OwnerRef, bool) {
	owner, ok := ctx.Value(OwnerKey).(domain.OwnerRef)
	return owner, ok
}

// GetUserEmail gets the user email from context
func GetUserEmail(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(UserEmailKey).(string)
	return email, ok
}
