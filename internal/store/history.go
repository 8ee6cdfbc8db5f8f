package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
)

// HistoryStore persists chat messages.
type HistoryStore interface {
	Append(ctx context.Context, messages []domain.ChatMessage) error
	ListBySession(ctx context.Context, userID uuid.UUID, sessionID string, limit int) ([]domain.ChatMessage, error)
}
