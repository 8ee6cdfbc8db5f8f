package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/store"
)

// QuotaStore holds quota records in memory.
type QuotaStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]domain.QuotaRecord
}

var _ store.QuotaStore = (*QuotaStore)(nil)

// NewQuotaStore creates an empty quota store.
func NewQuotaStore() *QuotaStore {
	return &QuotaStore{records: make(map[uuid.UUID]domain.QuotaRecord)}
}

// Get returns a copy of the user's record.
func (s *QuotaStore) Get(ctx context.Context, userID uuid.UUID) (*domain.QuotaRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[userID]
	if !ok {
		return nil, store.ErrQuotaNotFound
	}
	return &r, nil
}

// Create stores a copy of record unless the user already has one.
func (s *QuotaStore) Create(ctx context.Context, record *domain.QuotaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.UserID]; !exists {
		s.records[record.UserID] = *record
	}
	return nil
}

// Reset rolls the stored record over under the store lock.
func (s *QuotaStore) Reset(ctx context.Context, userID uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[userID]
	if !ok {
		return store.ErrQuotaNotFound
	}
	if r.Rollover(now) {
		s.records[userID] = r
	}
	return nil
}

// Increment adds delta to one counter.
func (s *QuotaStore) Increment(ctx context.Context, userID uuid.UUID, counter domain.QuotaCounter, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[userID]
	if !ok {
		return store.ErrQuotaNotFound
	}
	r.Add(counter, delta, time.Now())
	s.records[userID] = r
	return nil
}
