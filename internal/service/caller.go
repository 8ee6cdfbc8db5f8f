package service

import "github.com/google/uuid"

// Caller identifies who is making a request.
type Caller struct {
	UserID uuid.UUID
	Admin  bool
}

// CanAccess reports whether the caller may see resources owned by owner.
func (c Caller) CanAccess(owner uuid.UUID) bool {
	return c.Admin || c.UserID == owner
}

// scope is the owner filter used for cancellation: uuid.Nil for admins.
func (c Caller) scope() uuid.UUID {
	if c.Admin {
		return uuid.Nil
	}
	return c.UserID
}
