package llm

import (
	"errors"
	"fmt"
)

// Common errors returned by providers
var (
	// ErrProvider is returned for provider-side failures that are not retried.
	ErrProvider = errors.New("provider request failed")

	// ErrTransient is returned for temporary errors that might resolve on retry.
	ErrTransient = errors.New("transient provider error")

	// ErrInvalidResponse is returned when the provider response is empty or malformed.
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrContentBlocked is returned when the provider blocks the content due to safety filters.
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrInvalidConfig is returned when the provider configuration is invalid.
	ErrInvalidConfig = errors.New("invalid provider configuration")

	// ErrUnknownTool is returned when the model requests a tool that is not registered.
	ErrUnknownTool = errors.New("unknown tool")
)

// ToolExecutionError wraps the failure of one tool call. It is reported back
// to the model as the tool's result instead of failing the turn.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrContentBlocked),
		errors.Is(err, ErrInvalidResponse),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrProvider):
		return false
	}
	return true
}
