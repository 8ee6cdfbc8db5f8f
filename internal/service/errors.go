package service

import "errors"

// Common service errors - sentinel errors used across service implementations.
// Callers check them with errors.Is; the API layer maps them to status codes.
var (
	// ErrTooManyRequests indicates the user already has the maximum number of
	// concurrent streams. API layer should map this to HTTP 429.
	ErrTooManyRequests = errors.New("too many concurrent requests")

	// ErrStreamNotFound indicates the stream session is neither active nor
	// recently finished on this instance. API layer should map this to HTTP 404.
	ErrStreamNotFound = errors.New("stream session not found")

	// ErrEmptyMessage indicates a chat request without a message.
	// API layer should map this to HTTP 400.
	ErrEmptyMessage = errors.New("chat message cannot be empty")

	// ErrNilDependency is returned by constructors given a nil collaborator.
	ErrNilDependency = errors.New("required dependency is nil")
)
