// Package postgres implements the store interfaces on PostgreSQL through
// database/sql and the pgx stdlib driver, and owns the embedded goose
// migrations for the task, quota and chat history tables.
package postgres
