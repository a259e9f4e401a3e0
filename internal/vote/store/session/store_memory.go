package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"ballotgate/internal/vote/models"
	"ballotgate/pkg/platform/sentinel"
)

// InMemorySessionStore keeps sessions in a mutex-guarded map. Suitable for a
// single-instance deployment; multi-instance setups use the Redis store.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*models.VotingSession
}

func NewInMemory() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[uuid.UUID]*models.VotingSession)}
}

func (s *InMemorySessionStore) Save(_ context.Context, sess *models.VotingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *InMemorySessionStore) FindByID(_ context.Context, id uuid.UUID) (*models.VotingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *InMemorySessionStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}
