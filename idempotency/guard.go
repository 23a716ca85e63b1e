// Package idempotency admits each externally-identified message exactly once
// into the moderation pipeline.
//
// Admission is two-phase: Admit durably inserts a tentative record (the
// unique-key insert is the single serialization point for duplicate
// delivery), Commit marks it final once the durability-critical writes have
// landed, and Abandon removes it when those writes fail, so provider
// redelivery gets re-processed instead of silently skipped.
package idempotency

import (
	"context"
	"time"
)

// DefaultRetention bounds how long processed-event records are kept.
// Duplicate-delivery risk is bounded by provider retry windows, so 7 days is
// comfortably past any redelivery.
var DefaultRetention = 7 * 24 * time.Hour

// DefaultPendingTimeout is how long a tentative (uncommitted) admission can
// linger before the sweep reclaims it, covering process crashes between
// Admit and Commit.
var DefaultPendingTimeout = time.Hour

// Guard records which external message identifiers have already been
// handled. Callers must Admit before doing any side-effecting work; that is
// what converts check-then-act into an at-most-once admission gate.
type Guard interface {
	// IsProcessed reports whether the id has already been admitted. Storage
	// errors are logged and reported as false (fail-open): the design accepts
	// a small risk of reprocessing over silently dropping a harmful message.
	IsProcessed(ctx context.Context, id string) bool

	// Admit inserts a tentative uniqueness-constrained record. A conflict
	// (the id already exists, ie a concurrent admit won the race) returns
	// admitted=false with no error.
	Admit(ctx context.Context, id string) (bool, error)

	// Commit finalizes a prior admission after the critical writes landed.
	Commit(ctx context.Context, id string) error

	// Abandon removes an uncommitted admission so redelivery re-processes the
	// event. A no-op for committed records.
	Abandon(ctx context.Context, id string) error
}
