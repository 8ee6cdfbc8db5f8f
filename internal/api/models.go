package api

import (
	"encoding/json"

	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/llm"
	"github.com/phrazzld/scribe/internal/stream"
)

// CreateTaskRequest is the body of POST /api/tasks.
type CreateTaskRequest struct {
	Type   domain.TaskType `json:"type"   validate:"required,oneof=generate-content batch-generate analyze writing-assistant"`
	Params json.RawMessage `json:"params" validate:"required"`
}

// HistoryMessage is an earlier turn supplied by the client.
type HistoryMessage struct {
	Role    llm.Role `json:"role"    validate:"required,oneof=user assistant"`
	Content string   `json:"content" validate:"required,max=32000"`
}

// ChatStreamRequest is the body of POST /api/chat/stream.
type ChatStreamRequest struct {
	SessionID string           `json:"session_id,omitempty" validate:"omitempty,max=128"`
	Message   string           `json:"message"              validate:"required,max=32000"`
	System    string           `json:"system,omitempty"     validate:"max=8000"`
	History   []HistoryMessage `json:"history,omitempty"    validate:"max=100,dive"`
}

// CancelResponse reports how a cancel request was handled.
type CancelResponse struct {
	SessionID string `json:"session_id"`
	Outcome   string `json:"outcome"`
}

// QuotaResponse lists the caller's quota counters.
type QuotaResponse struct {
	Counters []domain.QuotaAvailability `json:"counters"`
}

// chunkEvent is the data of an SSE chunk event.
type chunkEvent struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// finalEvent is the data of a done or cancelled SSE event.
type finalEvent struct {
	SessionID string       `json:"session_id"`
	Status    stream.State `json:"status"`
	Text      string       `json:"text"`
}

// errorEvent is the data of an SSE error event.
type errorEvent struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
}

func toLLMHistory(history []HistoryMessage) []llm.Message {
	if len(history) == 0 {
		return nil
	}
	out := make([]llm.Message, len(history))
	for i, m := range history {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
