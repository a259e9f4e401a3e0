// Package session persists in-flight voting sessions. Sessions are owned by
// a single voter attempt and discarded on completion or expiry, so the store
// is a cache, not a system of record; the idempotency ledger holds the truth
// about votes.
package session

import (
	"context"

	"github.com/google/uuid"

	"ballotgate/internal/vote/models"
)

type Store interface {
	Save(ctx context.Context, s *models.VotingSession) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.VotingSession, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
