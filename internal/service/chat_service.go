package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/llm"
	"github.com/phrazzld/scribe/internal/platform/logger"
	"github.com/phrazzld/scribe/internal/stream"
)

// QuotaTracker is the part of quota.Tracker the chat service uses.
type QuotaTracker interface {
	Check(ctx context.Context, userID uuid.UUID, counter domain.QuotaCounter) (domain.QuotaAvailability, error)
	Increment(ctx context.Context, userID uuid.UUID, counter domain.QuotaCounter, delta int64) error
}

// ChatRequest is one streamed chat turn.
type ChatRequest struct {
	// SessionID names the stream; empty generates one.
	SessionID string
	Message   string
	// System is an optional system prompt.
	System string
	// History holds earlier messages of the conversation.
	History []llm.Message
}

// ChatService runs streamed chats.
type ChatService struct {
	streams *stream.Manager
	quota   QuotaTracker
	limiter *UserLimiter
	history *HistoryRecorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewChatService creates a ChatService. history may be nil.
func NewChatService(
	streams *stream.Manager,
	quota QuotaTracker,
	limiter *UserLimiter,
	history *HistoryRecorder,
	logger *slog.Logger,
) (*ChatService, error) {
	if streams == nil || quota == nil || limiter == nil {
		return nil, fmt.Errorf("%w: stream manager, quota tracker and limiter are required", ErrNilDependency)
	}
	if logger == nil {
		return nil, fmt.Errorf("%w: logger", ErrNilDependency)
	}
	return &ChatService{
		streams: streams,
		quota:   quota,
		limiter: limiter,
		history: history,
		logger:  logger.With("component", "chat_service"),
		now:     time.Now,
	}, nil
}

// StreamChat streams a reply to req.Message through emit and returns the
// final text. A cancelled stream returns its partial text with Status
// stream.StateCancelled and no error.
//
// Quota is checked before the provider is called and charged after: the
// chat counter for any stream that produced output, the token counter with
// provider usage or, when absent, tiktoken counts.
func (s *ChatService) StreamChat(ctx context.Context, caller Caller, req ChatRequest, emit stream.EmitFunc) (stream.Result, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	userID := caller.UserID

	if strings.TrimSpace(req.Message) == "" {
		return stream.Result{}, ErrEmptyMessage
	}

	release, err := s.limiter.TryAcquire(userID)
	if err != nil {
		return stream.Result{}, err
	}
	defer release()

	for _, counter := range []domain.QuotaCounter{domain.QuotaCounterChat, domain.QuotaCounterTokens} {
		avail, err := s.quota.Check(ctx, userID, counter)
		if err != nil {
			return stream.Result{}, fmt.Errorf("failed to check quota: %w", err)
		}
		if !avail.Available {
			return stream.Result{}, avail.Err()
		}
	}

	messages := make([]llm.Message, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: req.System})
	}
	messages = append(messages, req.History...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Message})

	result, runErr := s.streams.Run(ctx, req.SessionID, userID, messages, emit)
	if result.Status == "" {
		// Never started.
		return result, runErr
	}

	if result.Status == stream.StateDone || result.Text != "" {
		s.charge(context.WithoutCancel(ctx), log, userID, messages, result)
	}
	if result.Status == stream.StateDone && s.history != nil {
		s.history.Record(domain.NewChatExchange(userID, result.SessionID, req.Message, result.Text, s.now()))
	}

	return result, runErr
}

// CancelStream cancels a session the caller owns, here or on another instance.
func (s *ChatService) CancelStream(ctx context.Context, caller Caller, sessionID string) (stream.CancelOutcome, error) {
	if view, ok := s.streams.Status(sessionID); ok && !caller.CanAccess(view.UserID) {
		return stream.CancelNotFound, domain.ErrForbidden
	}
	return s.streams.Cancel(ctx, sessionID, caller.scope())
}

// StreamStatus returns the status of an active or recently finished session.
func (s *ChatService) StreamStatus(_ context.Context, caller Caller, sessionID string) (stream.StatusView, error) {
	view, ok := s.streams.Status(sessionID)
	if !ok {
		return stream.StatusView{}, ErrStreamNotFound
	}
	if !caller.CanAccess(view.UserID) {
		return stream.StatusView{}, domain.ErrForbidden
	}
	return view, nil
}

// PauseStream pauses an active session owned by the caller.
func (s *ChatService) PauseStream(_ context.Context, caller Caller, sessionID string) error {
	if !s.streams.Pause(sessionID, caller.scope()) {
		return ErrStreamNotFound
	}
	return nil
}

// ResumeStream resumes a paused session owned by the caller.
func (s *ChatService) ResumeStream(_ context.Context, caller Caller, sessionID string) error {
	if !s.streams.Resume(sessionID, caller.scope()) {
		return ErrStreamNotFound
	}
	return nil
}

func (s *ChatService) charge(ctx context.Context, log *slog.Logger, userID uuid.UUID, messages []llm.Message, result stream.Result) {
	tokens := result.Usage.Total()
	if tokens == 0 {
		tokens = llm.CountMessages(messages) + llm.CountTokens(result.Text)
	}

	if err := s.quota.Increment(ctx, userID, domain.QuotaCounterChat, 1); err != nil {
		log.ErrorContext(ctx, "failed to increment chat usage", "user_id", userID, "error", err)
	}
	if err := s.quota.Increment(ctx, userID, domain.QuotaCounterTokens, int64(tokens)); err != nil {
		log.ErrorContext(ctx, "failed to add token usage", "user_id", userID, "error", err)
	}
}
