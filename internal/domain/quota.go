package domain

import (
	"time"

	"github.com/google/uuid"
)

// QuotaCounter names one of the per-user usage counters.
type QuotaCounter string

// Quota counters. Chat and generate reset daily, tokens reset monthly.
const (
	QuotaCounterChat     QuotaCounter = "daily_chat"
	QuotaCounterGenerate QuotaCounter = "daily_generate"
	QuotaCounterTokens   QuotaCounter = "monthly_tokens"
)

// QuotaLimits are the limits applied to newly created quota records.
type QuotaLimits struct {
	DailyChat     int64
	DailyGenerate int64
	MonthlyTokens int64
}

// QuotaRecord holds one user's consumption counters.
//
// Used <= Limit is the intended steady state, not an enforced invariant:
// check and increment are separate calls around a provider round-trip.
type QuotaRecord struct {
	UserID             uuid.UUID `json:"user_id"`
	DailyChatUsed      int64     `json:"daily_chat_used"`
	DailyChatLimit     int64     `json:"daily_chat_limit"`
	DailyGenerateUsed  int64     `json:"daily_generate_used"`
	DailyGenerateLimit int64     `json:"daily_generate_limit"`
	MonthlyTokensUsed  int64     `json:"monthly_tokens_used"`
	MonthlyTokenLimit  int64     `json:"monthly_token_limit"`
	LastResetDate      time.Time `json:"last_reset_date"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// NewQuotaRecord creates a zeroed record for userID with the given limits.
func NewQuotaRecord(userID uuid.UUID, limits QuotaLimits, now time.Time) *QuotaRecord {
	return &QuotaRecord{
		UserID:             userID,
		DailyChatLimit:     limits.DailyChat,
		DailyGenerateLimit: limits.DailyGenerate,
		MonthlyTokenLimit:  limits.MonthlyTokens,
		LastResetDate:      truncateToDay(now),
		UpdatedAt:          now.UTC(),
	}
}

// DueForRollover reports whether now falls on a later UTC calendar day than
// LastResetDate.
func (q *QuotaRecord) DueForRollover(now time.Time) bool {
	return truncateToDay(now).After(truncateToDay(q.LastResetDate))
}

// Rollover zeroes the daily counters when now falls on a later UTC calendar
// day than LastResetDate, and the monthly counter when it falls in a later
// month. It reports whether anything changed.
func (q *QuotaRecord) Rollover(now time.Time) bool {
	if !q.DueForRollover(now) {
		return false
	}
	today := truncateToDay(now)
	last := truncateToDay(q.LastResetDate)

	q.DailyChatUsed = 0
	q.DailyGenerateUsed = 0

	if today.Year() != last.Year() || today.Month() != last.Month() {
		q.MonthlyTokensUsed = 0
	}

	q.LastResetDate = today
	q.UpdatedAt = now.UTC()
	return true
}

// Availability reports the state of one counter.
func (q *QuotaRecord) Availability(counter QuotaCounter) QuotaAvailability {
	var used, limit int64
	switch counter {
	case QuotaCounterChat:
		used, limit = q.DailyChatUsed, q.DailyChatLimit
	case QuotaCounterGenerate:
		used, limit = q.DailyGenerateUsed, q.DailyGenerateLimit
	case QuotaCounterTokens:
		used, limit = q.MonthlyTokensUsed, q.MonthlyTokenLimit
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	return QuotaAvailability{
		Counter:   counter,
		Available: used < limit,
		Used:      used,
		Limit:     limit,
		Remaining: remaining,
	}
}

// Add increments counter by delta.
func (q *QuotaRecord) Add(counter QuotaCounter, delta int64, now time.Time) {
	switch counter {
	case QuotaCounterChat:
		q.DailyChatUsed += delta
	case QuotaCounterGenerate:
		q.DailyGenerateUsed += delta
	case QuotaCounterTokens:
		q.MonthlyTokensUsed += delta
	}
	q.UpdatedAt = now.UTC()
}

// QuotaAvailability is the result of a quota check.
type QuotaAvailability struct {
	Counter   QuotaCounter `json:"counter"`
	Available bool         `json:"available"`
	Used      int64        `json:"used"`
	Limit     int64        `json:"limit"`
	Remaining int64        `json:"remaining"`
}

// Err returns a QuotaExceededError when the counter is exhausted, nil otherwise.
func (a QuotaAvailability) Err() error {
	if a.Available {
		return nil
	}
	return &QuotaExceededError{
		Counter:   a.Counter,
		Used:      a.Used,
		Limit:     a.Limit,
		Remaining: a.Remaining,
	}
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
