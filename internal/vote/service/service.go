package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ballotgate/internal/audit"
	"ballotgate/internal/ledger"
	"ballotgate/internal/vote/models"
)

// The orchestrator declares the interfaces it consumes; the verifier, wallet,
// ledger, and store packages satisfy them. This keeps the state machine
// testable with mocks and free of construction concerns.

type Verifier interface {
	Verify(ctx context.Context, claimedIdentity string, sample []byte) (*models.VerificationResult, error)
}

type AuthorizationProvider interface {
	Authorize(ctx context.Context, sessionID uuid.UUID) (*models.Authorization, error)
}

type LedgerClient interface {
	Submit(ctx context.Context, candidateID int64, auth *models.Authorization) (string, error)
	AwaitConfirmation(ctx context.Context, ref string, timeout time.Duration) (ledger.Confirmation, error)
	GetCandidate(ctx context.Context, candidateID int64) (*models.Candidate, error)
	FindVote(ctx context.Context, address string, candidateID int64) (string, error)
}

type RecordStore interface {
	Reserve(ctx context.Context, identityKey string, candidateID int64, voterAddress string) (*models.VoteRecord, error)
	Advance(ctx context.Context, identityKey string, status models.VoteStatus, transactionRef string) (*models.VoteRecord, error)
	IncrementAttempts(ctx context.Context, identityKey string) error
	Find(ctx context.Context, identityKey string) (*models.VoteRecord, error)
	ListByStatus(ctx context.Context, status models.VoteStatus) ([]*models.VoteRecord, error)
}

type SessionStore interface {
	Save(ctx context.Context, s *models.VotingSession) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.VotingSession, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
