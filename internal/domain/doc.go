// Package domain contains the core entities of the task engine: tasks and
// their status state machine, task parameters per type, and per-user quota
// records. It is independent of storage, transport and providers.
package domain
