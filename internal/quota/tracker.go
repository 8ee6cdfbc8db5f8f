package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/store"
)

// Tracker reads and advances quota records, applying lazy daily and monthly
// rollover on every access.
type Tracker struct {
	store  store.QuotaStore
	limits domain.QuotaLimits
	now    func() time.Time
	logger *slog.Logger
}

// NewTracker creates a Tracker. New records get limits.
func NewTracker(quotaStore store.QuotaStore, limits domain.QuotaLimits, logger *slog.Logger) (*Tracker, error) {
	if quotaStore == nil {
		return nil, errors.New("quota store cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &Tracker{
		store:  quotaStore,
		limits: limits,
		now:    time.Now,
		logger: logger.With("component", "quota_tracker"),
	}, nil
}

// Record returns the user's current record after rollover, creating it on
// first access.
func (t *Tracker) Record(ctx context.Context, userID uuid.UUID) (*domain.QuotaRecord, error) {
	now := t.now()

	record, err := t.store.Get(ctx, userID)
	if errors.Is(err, store.ErrQuotaNotFound) {
		if err := t.store.Create(ctx, domain.NewQuotaRecord(userID, t.limits, now)); err != nil {
			return nil, fmt.Errorf("failed to create quota record: %w", err)
		}
		t.logger.DebugContext(ctx, "created quota record", "user_id", userID)
		record, err = t.store.Get(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load quota record: %w", err)
	}

	if !record.DueForRollover(now) {
		return record, nil
	}

	// The reset is conditional in the store; re-read so increments that
	// landed after someone else's reset are reported.
	if err := t.store.Reset(ctx, userID, now); err != nil {
		return nil, fmt.Errorf("failed to reset quota record: %w", err)
	}
	record, err = t.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load quota record: %w", err)
	}
	t.logger.DebugContext(ctx, "quota counters reset",
		"user_id", userID,
		"last_reset_date", record.LastResetDate.Format(time.DateOnly))
	return record, nil
}

// Check reports the availability of one counter.
func (t *Tracker) Check(ctx context.Context, userID uuid.UUID, counter domain.QuotaCounter) (domain.QuotaAvailability, error) {
	record, err := t.Record(ctx, userID)
	if err != nil {
		return domain.QuotaAvailability{}, err
	}
	return record.Availability(counter), nil
}

// Increment adds delta to one counter.
func (t *Tracker) Increment(ctx context.Context, userID uuid.UUID, counter domain.QuotaCounter, delta int64) error {
	if delta <= 0 {
		return nil
	}
	// Rollover must land before the increment or it would be zeroed.
	if _, err := t.Record(ctx, userID); err != nil {
		return err
	}
	if err := t.store.Increment(ctx, userID, counter, delta); err != nil {
		return fmt.Errorf("failed to increment %s: %w", counter, err)
	}
	return nil
}

// CheckChatQuota reports the daily chat counter.
func (t *Tracker) CheckChatQuota(ctx context.Context, userID uuid.UUID) (domain.QuotaAvailability, error) {
	return t.Check(ctx, userID, domain.QuotaCounterChat)
}

// CheckGenerateQuota reports the daily generate counter.
func (t *Tracker) CheckGenerateQuota(ctx context.Context, userID uuid.UUID) (domain.QuotaAvailability, error) {
	return t.Check(ctx, userID, domain.QuotaCounterGenerate)
}

// CheckTokenQuota reports the monthly token counter.
func (t *Tracker) CheckTokenQuota(ctx context.Context, userID uuid.UUID) (domain.QuotaAvailability, error) {
	return t.Check(ctx, userID, domain.QuotaCounterTokens)
}

// IncrementChatUsage counts one chat exchange.
func (t *Tracker) IncrementChatUsage(ctx context.Context, userID uuid.UUID) error {
	return t.Increment(ctx, userID, domain.QuotaCounterChat, 1)
}

// IncrementGenerateUsage counts one generation task.
func (t *Tracker) IncrementGenerateUsage(ctx context.Context, userID uuid.UUID) error {
	return t.Increment(ctx, userID, domain.QuotaCounterGenerate, 1)
}

// AddTokenUsage adds tokens to the monthly counter.
func (t *Tracker) AddTokenUsage(ctx context.Context, userID uuid.UUID, tokens int) error {
	return t.Increment(ctx, userID, domain.QuotaCounterTokens, int64(tokens))
}
