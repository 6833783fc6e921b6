package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/escuelachat/chat-api/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ConversationRepository implements domain.ConversationRepository
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

func (r *ConversationRepository) Create(ctx context.Context, conv *domain.Conversation) error {
	var settingsJSON []byte
	if conv.Settings != nil {
		var err error
		settingsJSON, err = json.Marshal(conv.Settings)
		if err != nil {
			return fmt.Errorf("failed to marshal settings: %w", err)
		}
	}

	query := `
		INSERT INTO conversations (id, title, user_id, guest_session_id, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		conv.ID,
		conv.Title,
		conv.UserID,
		conv.GuestSessionID,
		settingsJSON,
		conv.CreatedAt,
		conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (r *ConversationRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT id, title, user_id, guest_session_id, settings, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`
	conv, err := scanConversation(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

func (r *ConversationRepository) ListByOwner(ctx context.Context, owner domain.OwnerRef, limit int) ([]domain.Conversation, error) {
	query := `
		SELECT id, title, user_id, guest_session_id, settings, created_at, updated_at
		FROM conversations
		WHERE ` + ownerClause(owner) + `
		ORDER BY updated_at DESC, created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, ownerID(owner), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, *conv)
	}
	return conversations, rows.Err()
}

// RenameIfPlaceholder replaces the title only while it is still empty or the
// default placeholder, so a real title is never overwritten.
func (r *ConversationRepository) RenameIfPlaceholder(ctx context.Context, id uuid.UUID, title string) error {
	query := `
		UPDATE conversations
		SET title = $1
		WHERE id = $2 AND (title = '' OR title = $3)
	`
	_, err := r.pool.Exec(ctx, query, title, id, domain.PlaceholderTitle)
	if err != nil {
		return fmt.Errorf("failed to rename conversation: %w", err)
	}
	return nil
}

func (r *ConversationRepository) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE conversations SET updated_at = $1 WHERE id = $2`
	_, err := r.pool.Exec(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

func (r *ConversationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM conversations WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}

func (r *ConversationRepository) DeleteAllByOwner(ctx context.Context, owner domain.OwnerRef) error {
	query := `DELETE FROM conversations WHERE ` + ownerClause(owner)
	_, err := r.pool.Exec(ctx, query, ownerID(owner))
	if err != nil {
		return fmt.Errorf("failed to delete conversations: %w", err)
	}
	return nil
}

// MigrateGuestToUser reassigns the guest session's conversations to the user
// and removes the session row in a single transaction. Only rows without an
// owner are touched, so already migrated conversations can never be
// re-claimed by a stale token. Running it twice is a no-op.
func (r *ConversationRepository) MigrateGuestToUser(ctx context.Context, guestSessionID, userID uuid.UUID) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE conversations
		SET user_id = $1, guest_session_id = NULL
		WHERE guest_session_id = $2 AND user_id IS NULL
	`, userID, guestSessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign guest conversations: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM guest_sessions WHERE id = $1`, guestSessionID); err != nil {
		return 0, fmt.Errorf("failed to delete guest session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit migration: %w", err)
	}
	return tag.RowsAffected(), nil
}

func ownerClause(owner domain.OwnerRef) string {
	if owner.IsUser() {
		return "user_id = $1"
	}
	return "guest_session_id = $1"
}

func ownerID(owner domain.OwnerRef) uuid.UUID {
	if owner.IsUser() {
		return owner.UserID
	}
	return owner.GuestSessionID
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var (
		conv         domain.Conversation
		settingsJSON []byte
	)
	if err := row.Scan(
		&conv.ID,
		&conv.Title,
		&conv.UserID,
		&conv.GuestSessionID,
		&settingsJSON,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &conv.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}
	return &conv, nil
}
