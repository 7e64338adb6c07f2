// Package postgres provides PostgreSQL implementations of the store
// interfaces. Conditional task-state transitions are expressed as single
// UPDATE statements gated on the current status, so two callers racing to
// finalize the same task resolve at the database rather than in process.
package postgres
