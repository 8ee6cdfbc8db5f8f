package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/api/shared"
	"github.com/phrazzld/scribe/internal/domain"
)

// QuotaReader reports quota counters.
type QuotaReader interface {
	Check(ctx context.Context, userID uuid.UUID, counter domain.QuotaCounter) (domain.QuotaAvailability, error)
}

// QuotaHandler serves GET /api/quota.
type QuotaHandler struct {
	quota QuotaReader
}

// NewQuotaHandler creates a QuotaHandler.
func NewQuotaHandler(quota QuotaReader) *QuotaHandler {
	return &QuotaHandler{quota: quota}
}

// Routes mounts the quota endpoint on r.
func (h *QuotaHandler) Routes(r chi.Router) {
	r.Get("/quota", h.GetQuota)
}

// GetQuota reports every counter for the caller, after rollover.
func (h *QuotaHandler) GetQuota(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}

	counters := []domain.QuotaCounter{
		domain.QuotaCounterChat,
		domain.QuotaCounterGenerate,
		domain.QuotaCounterTokens,
	}
	resp := QuotaResponse{Counters: make([]domain.QuotaAvailability, 0, len(counters))}
	for _, counter := range counters {
		avail, err := h.quota.Check(r.Context(), caller.UserID, counter)
		if err != nil {
			HandleAPIError(w, r, err, "Failed to read quota")
			return
		}
		resp.Counters = append(resp.Counters, avail)
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}
