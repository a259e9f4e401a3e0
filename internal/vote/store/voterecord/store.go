// Package voterecord is the idempotency ledger: the durable map from a
// verified identity key to its vote status. Reserve is the single
// synchronization point that makes one-vote-per-voter hold under any number
// of concurrent sessions for the same identity.
package voterecord

import (
	"context"

	"ballotgate/internal/vote/models"
)

// Store is implemented by the in-memory store (demo, tests) and the
// PostgreSQL store (production).
type Store interface {
	// Reserve atomically inserts a reserved row for identityKey, keeping the
	// authorized voter address so reconciliation can query the ledger for
	// the row later. If a row already exists in any status, it returns that
	// existing row together with sentinel.ErrAlreadyUsed so callers can
	// inspect what is there.
	Reserve(ctx context.Context, identityKey string, candidateID int64, voterAddress string) (*models.VoteRecord, error)

	// Advance moves the row's status monotonically
	// (reserved → submitted → confirmed, or → failed from any non-terminal
	// status) and records the transaction ref when given. Backward moves and
	// overwrites of confirmed fail with sentinel.ErrInvalidState; repeating
	// a confirmation with the same ref is a no-op.
	Advance(ctx context.Context, identityKey string, status models.VoteStatus, transactionRef string) (*models.VoteRecord, error)

	// IncrementAttempts bumps the submission attempt counter.
	IncrementAttempts(ctx context.Context, identityKey string) error

	// Find returns the row for identityKey or sentinel.ErrNotFound.
	Find(ctx context.Context, identityKey string) (*models.VoteRecord, error)

	// ListByStatus feeds the reconciler with rows needing attention.
	ListByStatus(ctx context.Context, status models.VoteStatus) ([]*models.VoteRecord, error)
}

// advanceAllowed is the shared monotonicity rule. A repeated submission keeps
// the row at submitted while the ref changes; a repeated confirmation with
// the same ref is absorbed by callers as a no-op before reaching here.
func advanceAllowed(from, to models.VoteStatus) bool {
	if from.CanAdvance(to) {
		return true
	}
	return from == models.VoteSubmitted && to == models.VoteSubmitted
}
