package service

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// UserLimiter caps concurrent work per user. Entries are removed when a
// user has nothing in flight.
type UserLimiter struct {
	max int64

	mu      sync.Mutex
	entries map[uuid.UUID]*limiterEntry
}

type limiterEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// NewUserLimiter allows limit concurrent acquisitions per user.
func NewUserLimiter(limit int) *UserLimiter {
	return &UserLimiter{
		max:     int64(max(limit, 1)),
		entries: make(map[uuid.UUID]*limiterEntry),
	}
}

// TryAcquire takes a slot for userID without waiting. The returned release
// must be called exactly once.
func (l *UserLimiter) TryAcquire(userID uuid.UUID) (release func(), err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[userID]
	if !ok {
		e = &limiterEntry{sem: semaphore.NewWeighted(l.max)}
		l.entries[userID] = e
	}
	if !e.sem.TryAcquire(1) {
		if e.refs == 0 {
			delete(l.entries, userID)
		}
		return nil, ErrTooManyRequests
	}
	e.refs++

	var once sync.Once
	return func() {
		once.Do(func() { l.release(userID, e) })
	}, nil
}

// InFlight returns the number of held slots for userID.
func (l *UserLimiter) InFlight(userID uuid.UUID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[userID]; ok {
		return e.refs
	}
	return 0
}

func (l *UserLimiter) release(userID uuid.UUID, e *limiterEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.sem.Release(1)
	e.refs--
	if e.refs == 0 {
		delete(l.entries, userID)
	}
}
