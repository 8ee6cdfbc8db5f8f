package task

import (
	"sync"

	"github.com/google/uuid"
)

// ClaimSet records the task identifiers this process is executing. It guards
// against duplicate delivery within one process only.
type ClaimSet struct {
	mu  sync.Mutex
	ids map[uuid.UUID]struct{}
}

// NewClaimSet creates an empty claim set.
func NewClaimSet() *ClaimSet {
	return &ClaimSet{ids: make(map[uuid.UUID]struct{})}
}

// TryClaim claims id and reports whether it was free.
func (c *ClaimSet) TryClaim(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, taken := c.ids[id]; taken {
		return false
	}
	c.ids[id] = struct{}{}
	return true
}

// Release drops the claim on id.
func (c *ClaimSet) Release(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ids, id)
}

// Contains reports whether id is claimed.
func (c *ClaimSet) Contains(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ids[id]
	return ok
}

// Len returns the number of claimed identifiers.
func (c *ClaimSet) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}
