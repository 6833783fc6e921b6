package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/escuelachat/chat-api/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MessageRepository implements domain.MessageRepository
type MessageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Create inserts a new message
func (r *MessageRepository) Create(ctx context.Context, message *domain.Message) error {
	sourcesJSON, usageJSON, metadataJSON, err := marshalExtras(message)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO messages (id, conversation_id, role, content, sources, usage, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.pool.Exec(ctx, query,
		message.ID,
		message.ConversationID,
		message.Role,
		message.Content,
		sourcesJSON,
		usageJSON,
		metadataJSON,
		message.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// Finalize fills in the content of an eagerly created assistant row and bumps
// the parent conversation's updated_at in the same transaction.
func (r *MessageRepository) Finalize(ctx context.Context, id uuid.UUID, content string, sources []domain.Source, usage map[string]any) error {
	var sourcesJSON, usageJSON []byte
	var err error
	if len(sources) > 0 {
		if sourcesJSON, err = json.Marshal(sources); err != nil {
			return fmt.Errorf("failed to marshal sources: %w", err)
		}
	}
	if len(usage) > 0 {
		if usageJSON, err = json.Marshal(usage); err != nil {
			return fmt.Errorf("failed to marshal usage: %w", err)
		}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin finalize: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE messages SET content = $1, sources = $2, usage = $3 WHERE id = $4
	`, content, sourcesJSON, usageJSON, id); err != nil {
		return fmt.Errorf("failed to finalize message: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE conversations SET updated_at = now()
		WHERE id = (SELECT conversation_id FROM messages WHERE id = $1)
	`, id); err != nil {
		return fmt.Errorf("failed to bump conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit finalize: %w", err)
	}
	return nil
}

// ListByConversation returns every message of a conversation in send order.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, sources, usage, metadata, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
	`
	return r.queryMessages(ctx, query, conversationID)
}

// ListRecent returns the last limit messages, still in ascending order, as
// the bounded history window for the upstream call.
func (r *MessageRepository) ListRecent(ctx context.Context, conversationID uuid.UUID, limit int) ([]domain.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, sources, usage, metadata, created_at
		FROM (
			SELECT id, conversation_id, role, content, sources, usage, metadata, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`
	return r.queryMessages(ctx, query, conversationID, limit)
}

func (r *MessageRepository) queryMessages(ctx context.Context, query string, args ...any) ([]domain.Message, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var (
			m                                domain.Message
			sourcesJSON, usageJSON, metaJSON []byte
		)
		if err := rows.Scan(
			&m.ID,
			&m.ConversationID,
			&m.Role,
			&m.Content,
			&sourcesJSON,
			&usageJSON,
			&metaJSON,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if len(sourcesJSON) > 0 {
			if err := json.Unmarshal(sourcesJSON, &m.Sources); err != nil {
				return nil, fmt.Errorf("failed to unmarshal sources: %w", err)
			}
		}
		if len(usageJSON) > 0 {
			if err := json.Unmarshal(usageJSON, &m.Usage); err != nil {
				return nil, fmt.Errorf("failed to unmarshal usage: %w", err)
			}
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &m.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func marshalExtras(message *domain.Message) (sources, usage, metadata []byte, err error) {
	if len(message.Sources) > 0 {
		if sources, err = json.Marshal(message.Sources); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal sources: %w", err)
		}
	}
	if len(message.Usage) > 0 {
		if usage, err = json.Marshal(message.Usage); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal usage: %w", err)
		}
	}
	if len(message.Metadata) > 0 {
		if metadata, err = json.Marshal(message.Metadata); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}
	return sources, usage, metadata, nil
}
