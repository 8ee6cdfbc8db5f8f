package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/api/middleware"
	"github.com/phrazzld/scribe/internal/api/shared"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/service"
	"github.com/phrazzld/scribe/internal/store"
)

// callerFromRequest returns the authenticated caller or writes a 401.
func callerFromRequest(w http.ResponseWriter, r *http.Request) (service.Caller, bool) {
	claims, ok := middleware.GetClaims(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "User ID not found or invalid")
		return service.Caller{}, false
	}
	return service.Caller{UserID: claims.UserID, Admin: claims.IsAdmin()}, true
}

// getPathUUID parses a UUID path parameter.
func getPathUUID(r *http.Request, param string) (uuid.UUID, error) {
	raw := chi.URLParam(r, param)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%w: missing %s", domain.ErrInvalidID, param)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s", domain.ErrInvalidID, param)
	}
	return id, nil
}

// handleCallerAndPathUUID combines callerFromRequest and getPathUUID,
// writing the error response on failure.
func handleCallerAndPathUUID(w http.ResponseWriter, r *http.Request, param string) (service.Caller, uuid.UUID, bool) {
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return service.Caller{}, uuid.Nil, false
	}
	id, err := getPathUUID(r, param)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return service.Caller{}, uuid.Nil, false
	}
	return caller, id, true
}

// pageFromQuery reads page and page_size; invalid values fall back to
// defaults and Normalize clamps the rest.
func pageFromQuery(r *http.Request) store.Page {
	q := r.URL.Query()
	number, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	return store.Page{Number: number, Size: size}.Normalize()
}
