// Package auth issues and verifies the bearer tokens that identify callers.
package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RoleAdmin grants access to every user's tasks and streams.
const RoleAdmin = "admin"

// JWTService defines operations for managing JWT authentication tokens.
type JWTService interface {
	// GenerateToken creates a signed token for userID. role may be empty.
	GenerateToken(ctx context.Context, userID uuid.UUID, role string) (string, error)

	// ValidateToken validates the token string and extracts the claims.
	// Returns ErrExpiredToken, ErrTokenNotYetValid, ErrInvalidSubject or
	// ErrInvalidToken on failure.
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims identifies the caller of a request.
type Claims struct {
	// UserID is parsed from the sub claim.
	UserID uuid.UUID
	// Role is empty for ordinary users.
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
}

// IsAdmin reports whether the caller has the admin role.
func (c *Claims) IsAdmin() bool {
	return c != nil && c.Role == RoleAdmin
}
