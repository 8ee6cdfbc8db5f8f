package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/store"
)

// HistoryStore implements store.HistoryStore on PostgreSQL.
type HistoryStore struct {
	db *sql.DB
}

var _ store.HistoryStore = (*HistoryStore)(nil)

// NewHistoryStore creates a HistoryStore.
func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Append inserts all messages in one transaction.
func (s *HistoryStore) Append(ctx context.Context, messages []domain.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}

	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		query := `
			INSERT INTO chat_messages (id, user_id, session_id, role, content, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		for _, m := range messages {
			if _, err := tx.ExecContext(ctx, query,
				m.ID, m.UserID, m.SessionID, string(m.Role), m.Content, m.CreatedAt,
			); err != nil {
				return fmt.Errorf("failed to insert chat message: %w", MapError(err, nil))
			}
		}
		return nil
	})
}

// ListBySession returns the last limit messages of a session, oldest first.
func (s *HistoryStore) ListBySession(
	ctx context.Context,
	userID uuid.UUID,
	sessionID string,
	limit int,
) ([]domain.ChatMessage, error) {
	query := `
		SELECT id, user_id, session_id, role, content, created_at
		FROM chat_messages
		WHERE user_id = $1 AND session_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, userID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat messages: %w", MapError(err, nil))
	}
	defer func() { _ = rows.Close() }()

	var messages []domain.ChatMessage
	for rows.Next() {
		var (
			m    domain.ChatMessage
			role string
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.SessionID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		m.Role = domain.ChatRole(role)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat messages: %w", err)
	}

	slices.Reverse(messages)
	return messages, nil
}
