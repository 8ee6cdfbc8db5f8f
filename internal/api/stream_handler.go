package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/api/shared"
	"github.com/phrazzld/scribe/internal/platform/logger"
	"github.com/phrazzld/scribe/internal/redact"
	"github.com/phrazzld/scribe/internal/service"
	"github.com/phrazzld/scribe/internal/stream"
)

// ChatService is the chat API the handler needs.
type ChatService interface {
	StreamChat(ctx context.Context, caller service.Caller, req service.ChatRequest, emit stream.EmitFunc) (stream.Result, error)
	CancelStream(ctx context.Context, caller service.Caller, sessionID string) (stream.CancelOutcome, error)
	StreamStatus(ctx context.Context, caller service.Caller, sessionID string) (stream.StatusView, error)
	PauseStream(ctx context.Context, caller service.Caller, sessionID string) error
	ResumeStream(ctx context.Context, caller service.Caller, sessionID string) error
}

// StreamHandler serves chat streaming and stream control.
type StreamHandler struct {
	chat   ChatService
	logger *slog.Logger
}

// NewStreamHandler creates a StreamHandler.
func NewStreamHandler(chat ChatService, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{chat: chat, logger: logger.With("component", "stream_handler")}
}

// Routes mounts the stream endpoints on r.
func (h *StreamHandler) Routes(r chi.Router) {
	r.Post("/chat/stream", h.StreamChat)
	r.Get("/streams/{id}", h.GetStream)
	r.Post("/streams/{id}/cancel", h.CancelStream)
	r.Post("/streams/{id}/pause", h.PauseStream)
	r.Post("/streams/{id}/resume", h.ResumeStream)
}

// StreamChat handles POST /api/chat/stream.
//
// Errors raised before the first event are plain JSON responses. Once the
// event stream is open, every outcome is an event: chunk events followed by
// exactly one of done, cancelled or error.
func (h *StreamHandler) StreamChat(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}

	var req ChatStreamRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	log := logger.FromContextOrDefault(r.Context(), h.logger).With("session_id", req.SessionID)
	var (
		sse     *sseWriter
		openErr error
	)

	emit := func(effect stream.Effect) error {
		if openErr != nil {
			return openErr
		}
		if sse == nil {
			w.Header().Set("X-Session-ID", req.SessionID)
			if sse, openErr = newSSEWriter(w); openErr != nil {
				return openErr
			}
		}
		switch effect.Kind {
		case stream.EffectChunk:
			return sse.Send(string(effect.Kind), chunkEvent{SessionID: req.SessionID, Text: effect.Text})
		case stream.EffectDone:
			return sse.Send(string(effect.Kind), finalEvent{SessionID: req.SessionID, Status: stream.StateDone, Text: effect.Text})
		case stream.EffectCancelled:
			return sse.Send(string(effect.Kind), finalEvent{SessionID: req.SessionID, Status: stream.StateCancelled, Text: effect.Text})
		default:
			return sse.Send(string(stream.EffectError), errorEvent{SessionID: req.SessionID, Error: streamErrorMessage(effect.Err)})
		}
	}

	result, err := h.chat.StreamChat(r.Context(), caller, service.ChatRequest{
		SessionID: req.SessionID,
		Message:   req.Message,
		System:    req.System,
		History:   toLLMHistory(req.History),
	}, emit)

	switch {
	case openErr != nil:
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Streaming unsupported", openErr)
	case sse == nil && err != nil:
		HandleAPIError(w, r, err, "Failed to stream chat")
	case err != nil:
		log.Warn("chat stream failed", "error", redact.Error(err))
	default:
		log.Debug("chat stream finished",
			"status", result.Status,
			"turns", result.Turns,
			"tool_calls", result.ToolCalls)
	}
}

// GetStream handles GET /api/streams/{id}.
func (h *StreamHandler) GetStream(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}

	view, err := h.chat.StreamStatus(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get stream status")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, view)
}

// CancelStream handles POST /api/streams/{id}/cancel. A session on this
// instance answers 200; a request forwarded to other instances answers 202.
func (h *StreamHandler) CancelStream(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "id")

	outcome, err := h.chat.CancelStream(r.Context(), caller, sessionID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to cancel stream")
		return
	}

	resp := CancelResponse{SessionID: sessionID, Outcome: outcome.String()}
	switch outcome {
	case stream.CancelLocal:
		shared.RespondWithJSON(w, r, http.StatusOK, resp)
	case stream.CancelBroadcast:
		shared.RespondWithJSON(w, r, http.StatusAccepted, resp)
	default:
		HandleAPIError(w, r, service.ErrStreamNotFound, "")
	}
}

// PauseStream handles POST /api/streams/{id}/pause.
func (h *StreamHandler) PauseStream(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.chat.PauseStream)
}

// ResumeStream handles POST /api/streams/{id}/resume.
func (h *StreamHandler) ResumeStream(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.chat.ResumeStream)
}

func (h *StreamHandler) control(
	w http.ResponseWriter,
	r *http.Request,
	fn func(context.Context, service.Caller, string) error,
) {
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), caller, chi.URLParam(r, "id")); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// streamErrorMessage is the client-facing text of a failed stream.
func streamErrorMessage(err error) string {
	if MapErrorToStatusCode(err) == http.StatusInternalServerError {
		return "Generation failed"
	}
	return GetSafeErrorMessage(err)
}
