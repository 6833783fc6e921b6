package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// GuestSession anchors conversations for an anonymous browser context. The id
// is the session token value carried in the guest cookie.
type GuestSession struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// GuestSessionRepository defines storage for guest sessions. Sessions are
// only ever created here; retiring one happens inside the conversation
// migration transaction.
type GuestSessionRepository interface {
	// Ensure creates the session row if it does not exist yet. Concurrent
	// first-requests can race, so an already-existing row is not an error.
	Ensure(ctx context.Context, id uuid.UUID) error
}
