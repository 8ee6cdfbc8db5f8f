// Package quota enforces per-user usage limits.
//
// Checks and increments are separate calls. A guarded operation checks
// first, performs its provider work, and increments only on success, so
// concurrent requests from one user can overshoot a limit by at most that
// user's concurrency before the next check blocks.
package quota
