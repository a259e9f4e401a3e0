package voterecord

import (
	"context"
	"sync"
	"time"

	"ballotgate/internal/vote/models"
	"ballotgate/pkg/platform/sentinel"
)

// InMemoryStore keeps vote records in a mutex-guarded map. The whole-store
// mutex makes Reserve a true compare-and-insert, which is the only operation
// whose atomicity correctness depends on.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]*models.VoteRecord
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*models.VoteRecord)}
}

func (s *InMemoryStore) Reserve(_ context.Context, identityKey string, candidateID int64, voterAddress string) (*models.VoteRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[identityKey]; ok {
		out := *existing
		return &out, sentinel.ErrAlreadyUsed
	}

	now := time.Now()
	rec := &models.VoteRecord{
		IdentityKey:  identityKey,
		CandidateID:  candidateID,
		VoterAddress: voterAddress,
		Status:       models.VoteReserved,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.records[identityKey] = rec
	out := *rec
	return &out, nil
}

func (s *InMemoryStore) Advance(_ context.Context, identityKey string, status models.VoteStatus, transactionRef string) (*models.VoteRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[identityKey]
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	// Repeated confirmation events are no-ops.
	if rec.Status == models.VoteConfirmed && status == models.VoteConfirmed && rec.TransactionRef == transactionRef {
		out := *rec
		return &out, nil
	}
	if !advanceAllowed(rec.Status, status) {
		return nil, sentinel.ErrInvalidState
	}

	rec.Status = status
	if transactionRef != "" {
		rec.TransactionRef = transactionRef
	}
	rec.UpdatedAt = time.Now()
	out := *rec
	return &out, nil
}

func (s *InMemoryStore) IncrementAttempts(_ context.Context, identityKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[identityKey]
	if !ok {
		return sentinel.ErrNotFound
	}
	rec.Attempts++
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) Find(_ context.Context, identityKey string) (*models.VoteRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[identityKey]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (s *InMemoryStore) ListByStatus(_ context.Context, status models.VoteStatus) ([]*models.VoteRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.VoteRecord
	for _, rec := range s.records {
		if rec.Status == status {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}
