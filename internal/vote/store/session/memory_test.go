package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"ballotgate/internal/vote/models"
	"ballotgate/pkg/platform/sentinel"
)

type SessionStoreSuite struct {
	suite.Suite
	store *InMemorySessionStore
	ctx   context.Context
}

func (s *SessionStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestSessionStoreSuite(t *testing.T) {
	suite.Run(t, new(SessionStoreSuite))
}

func (s *SessionStoreSuite) newSession() *models.VotingSession {
	now := time.Now()
	return &models.VotingSession{
		ID:              uuid.New(),
		State:           models.StateCapturing,
		ClaimedIdentity: "john_doe",
		CandidateID:     1,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(5 * time.Minute),
	}
}

func (s *SessionStoreSuite) TestSaveAndFind() {
	sess := s.newSession()
	s.Require().NoError(s.store.Save(s.ctx, sess))

	found, err := s.store.FindByID(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(sess.ClaimedIdentity, found.ClaimedIdentity)
	s.Equal(models.StateCapturing, found.State)
}

func (s *SessionStoreSuite) TestFindUnknownID() {
	_, err := s.store.FindByID(s.ctx, uuid.New())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *SessionStoreSuite) TestSaveOverwrites() {
	sess := s.newSession()
	s.Require().NoError(s.store.Save(s.ctx, sess))

	sess.State = models.StateVerified
	s.Require().NoError(s.store.Save(s.ctx, sess))

	found, err := s.store.FindByID(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(models.StateVerified, found.State)
}

func (s *SessionStoreSuite) TestReturnsCopies() {
	sess := s.newSession()
	s.Require().NoError(s.store.Save(s.ctx, sess))

	found, err := s.store.FindByID(s.ctx, sess.ID)
	s.Require().NoError(err)
	found.State = models.StateConfirmed

	again, err := s.store.FindByID(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(models.StateCapturing, again.State)
}

func (s *SessionStoreSuite) TestDelete() {
	sess := s.newSession()
	s.Require().NoError(s.store.Save(s.ctx, sess))
	s.Require().NoError(s.store.Delete(s.ctx, sess.ID))

	_, err := s.store.FindByID(s.ctx, sess.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
