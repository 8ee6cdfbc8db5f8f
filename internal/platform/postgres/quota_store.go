package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/store"
)

// QuotaStore implements store.QuotaStore on PostgreSQL.
type QuotaStore struct {
	db store.DBTX
}

var _ store.QuotaStore = (*QuotaStore)(nil)

// NewQuotaStore creates a QuotaStore.
func NewQuotaStore(db store.DBTX) *QuotaStore {
	return &QuotaStore{db: db}
}

// counterColumns whitelists the column each counter increments.
var counterColumns = map[domain.QuotaCounter]string{
	domain.QuotaCounterChat:     "daily_chat_used",
	domain.QuotaCounterGenerate: "daily_generate_used",
	domain.QuotaCounterTokens:   "monthly_tokens_used",
}

// Get returns the user's quota record.
func (s *QuotaStore) Get(ctx context.Context, userID uuid.UUID) (*domain.QuotaRecord, error) {
	query := `
		SELECT user_id, daily_chat_used, daily_chat_limit, daily_generate_used,
			daily_generate_limit, monthly_tokens_used, monthly_token_limit,
			last_reset_date, updated_at
		FROM user_quotas
		WHERE user_id = $1
	`

	var r domain.QuotaRecord
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&r.UserID,
		&r.DailyChatUsed,
		&r.DailyChatLimit,
		&r.DailyGenerateUsed,
		&r.DailyGenerateLimit,
		&r.MonthlyTokensUsed,
		&r.MonthlyTokenLimit,
		&r.LastResetDate,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, MapError(err, store.ErrQuotaNotFound)
	}

	r.LastResetDate = r.LastResetDate.UTC()
	return &r, nil
}

// Create inserts the user's record; an existing one is left alone.
func (s *QuotaStore) Create(ctx context.Context, r *domain.QuotaRecord) error {
	query := `
		INSERT INTO user_quotas (
			user_id, daily_chat_used, daily_chat_limit, daily_generate_used,
			daily_generate_limit, monthly_tokens_used, monthly_token_limit,
			last_reset_date, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		r.UserID,
		r.DailyChatUsed,
		r.DailyChatLimit,
		r.DailyGenerateUsed,
		r.DailyGenerateLimit,
		r.MonthlyTokensUsed,
		r.MonthlyTokenLimit,
		r.LastResetDate,
		r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create quota: %w", MapError(err, nil))
	}
	return nil
}

// Reset zeroes the daily counters, and the monthly one on a month change, in
// a single statement guarded by last_reset_date. Of several concurrent resets
// only the first matches; the rest change nothing.
func (s *QuotaStore) Reset(ctx context.Context, userID uuid.UUID, now time.Time) error {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	query := `
		UPDATE user_quotas SET
			daily_chat_used = 0,
			daily_generate_used = 0,
			monthly_tokens_used = CASE
				WHEN date_trunc('month', last_reset_date, 'UTC') < date_trunc('month', $2::timestamptz, 'UTC')
				THEN 0 ELSE monthly_tokens_used END,
			last_reset_date = $2,
			updated_at = $3
		WHERE user_id = $1 AND last_reset_date < $2
	`

	if _, err := s.db.ExecContext(ctx, query, userID, today, now); err != nil {
		return fmt.Errorf("failed to reset quota: %w", MapError(err, store.ErrQuotaNotFound))
	}
	return nil
}

// Increment adds delta to one counter in a single statement.
func (s *QuotaStore) Increment(ctx context.Context, userID uuid.UUID, counter domain.QuotaCounter, delta int64) error {
	column, ok := counterColumns[counter]
	if !ok {
		return fmt.Errorf("%w: unknown quota counter %q", store.ErrInvalidEntity, counter)
	}

	query := fmt.Sprintf(
		`UPDATE user_quotas SET %s = %s + $2, updated_at = $3 WHERE user_id = $1`,
		column, column,
	)

	result, err := s.db.ExecContext(ctx, query, userID, delta, time.Now().UTC())
	if err != nil {
		return MapError(err, store.ErrQuotaNotFound)
	}
	return CheckRowsAffected(result, store.ErrQuotaNotFound)
}

