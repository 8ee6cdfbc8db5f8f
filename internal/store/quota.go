package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
)

// QuotaStore persists per-user quota records.
type QuotaStore interface {
	// Get returns the user's record or ErrQuotaNotFound.
	Get(ctx context.Context, userID uuid.UUID) (*domain.QuotaRecord, error)

	// Create inserts the record unless the user already has one, in which
	// case the existing record is kept and no error is returned.
	Create(ctx context.Context, record *domain.QuotaRecord) error

	// Reset applies the daily and monthly rollover for now, but only if the
	// stored record was last reset on an earlier day. Counters written after
	// a concurrent reset are never zeroed.
	Reset(ctx context.Context, userID uuid.UUID, now time.Time) error

	// Increment adds delta to one counter of an existing record.
	Increment(ctx context.Context, userID uuid.UUID, counter domain.QuotaCounter, delta int64) error
}
