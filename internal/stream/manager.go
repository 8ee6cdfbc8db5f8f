package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/phrazzld/scribe/internal/llm"
	"github.com/phrazzld/scribe/internal/metrics"
)

// Manager errors
var (
	// ErrSessionExists is returned when a session id is already active.
	ErrSessionExists = errors.New("stream session already active")

	// ErrNilController is returned when the manager has no controller.
	ErrNilController = errors.New("controller cannot be nil")
)

// CancelBroadcaster forwards cancellations to other instances.
type CancelBroadcaster interface {
	Publish(ctx context.Context, sessionID string, userID uuid.UUID) error
}

// CancelOutcome reports where a cancellation went.
type CancelOutcome int

// Cancel outcomes
const (
	// CancelNotFound means the session is neither active here nor could the
	// request be forwarded.
	CancelNotFound CancelOutcome = iota
	// CancelLocal means a session on this instance was cancelled.
	CancelLocal
	// CancelBroadcast means the request was forwarded to other instances.
	CancelBroadcast
)

func (o CancelOutcome) String() string {
	switch o {
	case CancelLocal:
		return "cancelled"
	case CancelBroadcast:
		return "forwarded"
	default:
		return "not_found"
	}
}

// ManagerConfig sizes the manager.
type ManagerConfig struct {
	// FinishedCacheSize is how many finished sessions Status remembers.
	FinishedCacheSize int
}

// Manager owns the active sessions of this process.
type Manager struct {
	controller *Controller
	bus        CancelBroadcaster
	metrics    *metrics.Metrics
	logger     *slog.Logger

	mu       sync.Mutex
	active   map[string]*Session
	finished *lru.Cache[string, StatusView]
}

// NewManager creates a manager. bus may be nil for a single instance.
func NewManager(
	controller *Controller,
	bus CancelBroadcaster,
	cfg ManagerConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*Manager, error) {
	if controller == nil {
		return nil, ErrNilController
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.FinishedCacheSize <= 0 {
		cfg.FinishedCacheSize = 256
	}

	finished, err := lru.New[string, StatusView](cfg.FinishedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create finished session cache: %w", err)
	}

	return &Manager{
		controller: controller,
		bus:        bus,
		metrics:    m,
		logger:     logger.With("component", "stream_manager"),
		active:     make(map[string]*Session),
		finished:   finished,
	}, nil
}

// Run registers a session and runs it to completion. An empty sessionID is
// replaced by a new UUID.
func (m *Manager) Run(
	ctx context.Context,
	sessionID string,
	userID uuid.UUID,
	messages []llm.Message,
	emit EmitFunc,
) (Result, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	sess := NewSession(sessionID, userID)
	if err := m.register(sess); err != nil {
		return Result{SessionID: sessionID}, err
	}
	defer m.unregister(sess)

	m.metrics.StreamStarted()
	m.logger.InfoContext(ctx, "stream started",
		"session_id", sessionID,
		"user_id", userID)

	result, err := m.controller.Run(ctx, sess, messages, emit)

	m.logger.InfoContext(ctx, "stream finished",
		"session_id", sessionID,
		"status", result.Status,
		"turns", result.Turns,
		"tool_calls", result.ToolCalls)
	return result, err
}

// Cancel cancels sessionID on behalf of userID; uuid.Nil skips the owner
// check. A session that is not active here is broadcast to other instances
// when a bus is configured.
func (m *Manager) Cancel(ctx context.Context, sessionID string, userID uuid.UUID) (CancelOutcome, error) {
	if m.CancelLocal(sessionID, userID) {
		return CancelLocal, nil
	}

	if _, ok := m.finished.Peek(sessionID); ok || m.bus == nil {
		return CancelNotFound, nil
	}
	if m.isActive(sessionID) {
		// Active here but owned by someone else.
		return CancelNotFound, nil
	}

	if err := m.bus.Publish(ctx, sessionID, userID); err != nil {
		return CancelNotFound, fmt.Errorf("failed to broadcast cancellation: %w", err)
	}
	m.logger.InfoContext(ctx, "stream cancellation broadcast", "session_id", sessionID)
	return CancelBroadcast, nil
}

// CancelLocal cancels sessionID if it is active here and owned by userID
// (or userID is uuid.Nil).
func (m *Manager) CancelLocal(sessionID string, userID uuid.UUID) bool {
	sess, ok := m.lookup(sessionID)
	if !ok || !owns(sess, userID) {
		return false
	}
	if !sess.Cancel() {
		return false
	}
	m.logger.Info("stream cancelled", "session_id", sessionID)
	return true
}

// Pause pauses an active session owned by userID.
func (m *Manager) Pause(sessionID string, userID uuid.UUID) bool {
	sess, ok := m.lookup(sessionID)
	return ok && owns(sess, userID) && sess.Pause()
}

// Resume resumes a paused session owned by userID.
func (m *Manager) Resume(sessionID string, userID uuid.UUID) bool {
	sess, ok := m.lookup(sessionID)
	return ok && owns(sess, userID) && sess.Resume()
}

// Status returns the view of an active or recently finished session.
func (m *Manager) Status(sessionID string) (StatusView, bool) {
	if sess, ok := m.lookup(sessionID); ok {
		return sess.View(), true
	}
	return m.finished.Get(sessionID)
}

// Active returns the number of running sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// CancelAll cancels every active session. Used on shutdown.
func (m *Manager) CancelAll() int {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.active))
	for _, s := range m.active {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	n := 0
	for _, s := range sessions {
		if s.Cancel() {
			n++
		}
	}
	return n
}

func (m *Manager) register(sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[sess.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrSessionExists, sess.ID())
	}
	m.active[sess.ID()] = sess
	m.finished.Remove(sess.ID())
	return nil
}

func (m *Manager) unregister(sess *Session) {
	view := sess.View()

	m.mu.Lock()
	delete(m.active, sess.ID())
	m.finished.Add(sess.ID(), view)
	m.mu.Unlock()

	m.metrics.StreamFinished(string(view.Status))
}

func (m *Manager) lookup(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.active[sessionID]
	return s, ok
}

func (m *Manager) isActive(sessionID string) bool {
	_, ok := m.lookup(sessionID)
	return ok
}

func owns(sess *Session, userID uuid.UUID) bool {
	return userID == uuid.Nil || sess.UserID() == userID
}
