package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChatRole is the author of a stored chat message.
type ChatRole string

// Chat roles persisted in history
const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// ChatMessage is one persisted line of a chat exchange.
type ChatMessage struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	SessionID string    `json:"session_id"`
	Role      ChatRole  `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewChatExchange builds the user and assistant messages of one completed stream.
func NewChatExchange(userID uuid.UUID, sessionID, prompt, response string, now time.Time) []ChatMessage {
	now = now.UTC()
	return []ChatMessage{
		{ID: uuid.New(), UserID: userID, SessionID: sessionID, Role: ChatRoleUser, Content: prompt, CreatedAt: now},
		{ID: uuid.New(), UserID: userID, SessionID: sessionID, Role: ChatRoleAssistant, Content: response, CreatedAt: now},
	}
}
