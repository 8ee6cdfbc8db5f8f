package stream

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StatusView is the externally visible status of a session.
type StatusView struct {
	SessionID  string     `json:"session_id"`
	UserID     uuid.UUID  `json:"user_id"`
	Status     State      `json:"status"`
	Turns      int        `json:"turns"`
	Chunks     int        `json:"chunks"`
	Length     int        `json:"length"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Session is one stream run. Cancel, Pause and Resume are safe to call from
// any goroutine; everything else is driven by the Controller.
type Session struct {
	id     string
	userID uuid.UUID

	cancelOnce sync.Once
	cancelled  chan struct{}

	mu         sync.Mutex
	state      State
	text       strings.Builder
	turns      int
	chunks     int
	errMsg     string
	startedAt  time.Time
	updatedAt  time.Time
	finishedAt *time.Time
	resume     chan struct{}
	abort      context.CancelFunc
}

// NewSession creates a pending session.
func NewSession(id string, userID uuid.UUID) *Session {
	now := time.Now().UTC()
	return &Session{
		id:        id,
		userID:    userID,
		cancelled: make(chan struct{}),
		state:     StatePending,
		startedAt: now,
		updatedAt: now,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// UserID returns the owner.
func (s *Session) UserID() uuid.UUID { return s.userID }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Text returns the text accumulated so far.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// Cancel requests cancellation. It reports false when the session has
// already finished. The in-flight provider call is aborted and its remaining
// output discarded.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		return false
	}
	abort := s.abort
	s.mu.Unlock()

	s.cancelOnce.Do(func() { close(s.cancelled) })
	if abort != nil {
		abort()
	}
	return true
}

// IsCancelled reports whether cancellation was requested.
func (s *Session) IsCancelled() bool {
	select {
	case <-s.cancelled:
		return true
	default:
		return false
	}
}

// Pause asks the controller to stop pulling chunks until Resume.
func (s *Session) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, _ := Transition(s.state, Event{Kind: EventPause})
	if next == s.state {
		return false
	}
	s.state = next
	s.resume = make(chan struct{})
	s.updatedAt = time.Now().UTC()
	return true
}

// Resume releases a paused session.
func (s *Session) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, _ := Transition(s.state, Event{Kind: EventResume})
	if next == s.state {
		return false
	}
	s.state = next
	close(s.resume)
	s.resume = nil
	s.updatedAt = time.Now().UTC()
	return true
}

// View returns a snapshot of the session.
func (s *Session) View() StatusView {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StatusView{
		SessionID:  s.id,
		UserID:     s.userID,
		Status:     s.state,
		Turns:      s.turns,
		Chunks:     s.chunks,
		Length:     s.text.Len(),
		Error:      s.errMsg,
		StartedAt:  s.startedAt,
		UpdatedAt:  s.updatedAt,
		FinishedAt: s.finishedAt,
	}
}

// apply runs ev through Transition and records its outcome.
func (s *Session) apply(ev Event) []Effect {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, effects := Transition(s.state, ev)
	if next == s.state && len(effects) == 0 {
		return nil
	}

	now := time.Now().UTC()
	s.updatedAt = now
	for _, e := range effects {
		switch e.Kind {
		case EffectChunk:
			s.text.WriteString(e.Text)
			s.chunks++
		case EffectError:
			if e.Err != nil {
				s.errMsg = e.Err.Error()
			}
		}
	}
	if next.IsTerminal() {
		s.finishedAt = &now
		if s.resume != nil {
			close(s.resume)
			s.resume = nil
		}
	}
	s.state = next
	return effects
}

func (s *Session) setAbort(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abort = cancel
}

func (s *Session) nextTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns++
	return s.turns
}

// waitWhilePaused blocks until the session is running again, cancelled, or
// ctx ends.
func (s *Session) waitWhilePaused(ctx context.Context) error {
	s.mu.Lock()
	resume := s.resume
	s.mu.Unlock()

	if resume == nil {
		return nil
	}

	select {
	case <-resume:
		return nil
	case <-s.cancelled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
