// Package store defines the persistence contracts of the task engine: tasks,
// per-user quota records and chat history. Implementations live under
// internal/platform (postgres for production, memory for tests and local runs).
package store
