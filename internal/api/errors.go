package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/scribe/internal/api/shared"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/service"
	"github.com/phrazzld/scribe/internal/service/auth"
	"github.com/phrazzld/scribe/internal/store"
	"github.com/phrazzld/scribe/internal/stream"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes so that
// internal error types never reach clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidSubject):
		return http.StatusUnauthorized

	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden

	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, service.ErrStreamNotFound):
		return http.StatusNotFound

	case errors.Is(err, stream.ErrSessionExists):
		return http.StatusConflict

	case errors.Is(err, domain.ErrQuotaExceeded),
		errors.Is(err, service.ErrTooManyRequests):
		return http.StatusTooManyRequests

	case errors.Is(err, domain.ErrInvalidTaskParams),
		errors.Is(err, domain.ErrUnsupportedTaskType),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, service.ErrEmptyMessage),
		errors.Is(err, shared.ErrInvalidBody):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var qe *domain.QuotaExceededError
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return "Token expired"
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrInvalidSubject):
		return "Invalid token"
	case errors.Is(err, auth.ErrMissingToken):
		return "Authorization header required"

	case errors.Is(err, domain.ErrForbidden):
		return "Access denied"

	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, service.ErrStreamNotFound):
		return "Stream not found"
	case errors.Is(err, store.ErrNotFound):
		return "Not found"

	case errors.Is(err, stream.ErrSessionExists):
		return "Stream session already active"

	case errors.As(err, &qe):
		return fmt.Sprintf("Quota exceeded for %s: used %d of %d", qe.Counter, qe.Used, qe.Limit)
	case errors.Is(err, service.ErrTooManyRequests):
		return "Too many concurrent requests"

	case errors.Is(err, domain.ErrUnsupportedTaskType):
		return "Unsupported task type"
	case errors.Is(err, domain.ErrInvalidTaskParams):
		return "Invalid task parameters"
	case errors.Is(err, service.ErrEmptyMessage):
		return "Message cannot be empty"
	case errors.Is(err, domain.ErrInvalidID):
		return "Invalid ID"
	case errors.Is(err, shared.ErrInvalidBody):
		return "Invalid request format"
	case errors.Is(err, domain.ErrValidation):
		return "Validation error"

	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError turns validator output into a short message that
// names the first failing field.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("Invalid %s: %s", strings.ToLower(fe.Field()), getValidationTagMessage(fe.Tag()))
	}
	return "Validation error"
}

func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	case "uuid":
		return "must be a UUID"
	default:
		return "validation failed"
	}
}

// HandleAPIError maps err to a status and safe message and writes it.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, defaultMsg string) {
	status := MapErrorToStatusCode(err)
	msg := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && defaultMsg != "" {
		msg = defaultMsg
	}
	shared.RespondWithErrorAndLog(w, r, status, msg, err)
}
