package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/store"
)

// HistoryStore keeps chat messages in append order.
type HistoryStore struct {
	mu       sync.Mutex
	messages []domain.ChatMessage
}

var _ store.HistoryStore = (*HistoryStore)(nil)

// NewHistoryStore creates an empty history store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{}
}

// Append stores messages.
func (s *HistoryStore) Append(ctx context.Context, messages []domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, messages...)
	return nil
}

// ListBySession returns the last limit messages of one session in append order.
func (s *HistoryStore) ListBySession(
	ctx context.Context,
	userID uuid.UUID,
	sessionID string,
	limit int,
) ([]domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ChatMessage
	for _, m := range s.messages {
		if m.UserID == userID && m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Len returns the number of stored messages.
func (s *HistoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
