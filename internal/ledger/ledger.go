// Package ledger submits votes against the append-only voting contract and
// observes confirmation. The core depends only on the narrow vote/getCandidate
// surface, never on the ledger's consensus or storage internals.
package ledger

import (
	"context"
	"errors"
	"time"

	"ballotgate/internal/vote/models"
)

var (
	// ErrTransientSubmit covers timeouts, nonce conflicts, and partitions
	// where the transaction may or may not have been accepted. Retry-safe
	// only after checking for an existing vote via FindVote.
	ErrTransientSubmit = errors.New("transient submit error")
	// ErrRejectedByLedger is a deterministic rejection (revert). Never retried.
	ErrRejectedByLedger = errors.New("rejected by ledger")
	// ErrUnknownCandidate means the candidate id is not in the registry.
	ErrUnknownCandidate = errors.New("unknown candidate")
)

type ConfirmationStatus string

const (
	StatusConfirmed ConfirmationStatus = "confirmed"
	StatusPending   ConfirmationStatus = "pending"
	StatusFailed    ConfirmationStatus = "failed"
)

// Confirmation is the observed fate of a submitted transaction.
type Confirmation struct {
	Status ConfirmationStatus
	Reason string
}

// Client is the minimum ledger surface the orchestrator needs.
type Client interface {
	// Submit casts a vote and returns the ledger-assigned transaction ref.
	Submit(ctx context.Context, candidateID int64, auth *models.Authorization) (string, error)
	// AwaitConfirmation polls or subscribes until the transaction is
	// confirmed, fails, or the timeout elapses (then Pending is returned).
	AwaitConfirmation(ctx context.Context, ref string, timeout time.Duration) (Confirmation, error)
	// GetCandidate reads the candidate registry entry.
	GetCandidate(ctx context.Context, candidateID int64) (*models.Candidate, error)
	// FindVote returns the ref of an existing vote transaction from the
	// given address for the given candidate, or sentinel.ErrNotFound. This
	// is the guard against blind resubmission after an unknown outcome.
	FindVote(ctx context.Context, address string, candidateID int64) (string, error)
}
