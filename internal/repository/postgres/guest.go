package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GuestSessionRepository implements domain.GuestSessionRepository
type GuestSessionRepository struct {
	pool *pgxpool.Pool
}

// NewGuestSessionRepository creates a new guest session repository
func NewGuestSessionRepository(pool *pgxpool.Pool) *GuestSessionRepository {
	return &GuestSessionRepository{pool: pool}
}

// Ensure creates the session row if it does not exist yet. Concurrent first
// requests from the same browser can race on the insert, so conflicts are
// not errors.
func (r *GuestSessionRepository) Ensure(ctx context.Context, id uuid.UUID) error {
	query := `
		INSERT INTO guest_sessions (id, created_at)
		VALUES ($1, now())
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to ensure guest session: %w", err)
	}
	return nil
}
