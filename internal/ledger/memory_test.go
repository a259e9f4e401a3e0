package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"ballotgate/internal/vote/models"
	"ballotgate/pkg/platform/sentinel"
)

type MemoryLedgerSuite struct {
	suite.Suite
	ledger *MemoryLedger
	ctx    context.Context
}

func TestMemoryLedgerSuite(t *testing.T) {
	suite.Run(t, new(MemoryLedgerSuite))
}

func (s *MemoryLedgerSuite) SetupTest() {
	s.ctx = context.Background()
	s.ledger = NewMemory(
		models.Candidate{ID: 1, Name: "Alice Johnson"},
		models.Candidate{ID: 2, Name: "Ben Carter"},
	)
}

func (s *MemoryLedgerSuite) auth() *models.Authorization {
	return &models.Authorization{Address: "0xvoter", Signature: "0xsig"}
}

func (s *MemoryLedgerSuite) TestSubmitAndConfirm() {
	ref, err := s.ledger.Submit(s.ctx, 1, s.auth())
	s.Require().NoError(err)
	s.NotEmpty(ref)

	conf, err := s.ledger.AwaitConfirmation(s.ctx, ref, time.Second)
	s.Require().NoError(err)
	s.Equal(StatusConfirmed, conf.Status)

	c, err := s.ledger.GetCandidate(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal(uint64(1), c.VoteCount)
}

func (s *MemoryLedgerSuite) TestSubmitUnknownCandidate() {
	_, err := s.ledger.Submit(s.ctx, 99, s.auth())
	s.Require().ErrorIs(err, ErrRejectedByLedger)
	s.Require().ErrorIs(err, ErrUnknownCandidate)
}

func (s *MemoryLedgerSuite) TestGetCandidate() {
	c, err := s.ledger.GetCandidate(s.ctx, 2)
	s.Require().NoError(err)
	s.Equal("Ben Carter", c.Name)
	s.Equal(uint64(0), c.VoteCount)

	_, err = s.ledger.GetCandidate(s.ctx, 99)
	s.Require().ErrorIs(err, ErrUnknownCandidate)
}

func (s *MemoryLedgerSuite) TestScriptedSubmitFailures() {
	s.ledger.ScriptSubmitFailures(2, ErrTransientSubmit)

	_, err := s.ledger.Submit(s.ctx, 1, s.auth())
	s.Require().ErrorIs(err, ErrTransientSubmit)
	_, err = s.ledger.Submit(s.ctx, 1, s.auth())
	s.Require().ErrorIs(err, ErrTransientSubmit)

	ref, err := s.ledger.Submit(s.ctx, 1, s.auth())
	s.Require().NoError(err)
	s.NotEmpty(ref)
}

func (s *MemoryLedgerSuite) TestLostConfirmationStillLands() {
	ref, err := s.ledger.Submit(s.ctx, 1, s.auth())
	s.Require().NoError(err)

	s.ledger.ScriptLostConfirmations(1)

	// The observer sees pending even though the transaction landed.
	conf, err := s.ledger.AwaitConfirmation(s.ctx, ref, time.Second)
	s.Require().NoError(err)
	s.Equal(StatusPending, conf.Status)

	// The vote is on the ledger and findable by address.
	found, err := s.ledger.FindVote(s.ctx, "0xvoter", 1)
	s.Require().NoError(err)
	s.Equal(ref, found)

	// A later observation sees the confirmation.
	conf, err = s.ledger.AwaitConfirmation(s.ctx, ref, time.Second)
	s.Require().NoError(err)
	s.Equal(StatusConfirmed, conf.Status)
}

func (s *MemoryLedgerSuite) TestAwaitUnknownTransaction() {
	conf, err := s.ledger.AwaitConfirmation(s.ctx, "0xmissing", time.Second)
	s.Require().NoError(err)
	s.Equal(StatusFailed, conf.Status)
}

func (s *MemoryLedgerSuite) TestFindVote() {
	_, err := s.ledger.FindVote(s.ctx, "0xvoter", 1)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	ref, err := s.ledger.Submit(s.ctx, 1, s.auth())
	s.Require().NoError(err)
	_, err = s.ledger.AwaitConfirmation(s.ctx, ref, time.Second)
	s.Require().NoError(err)

	found, err := s.ledger.FindVote(s.ctx, "0xvoter", 1)
	s.Require().NoError(err)
	s.Equal(ref, found)

	// Scoped per candidate, matching the contract's event topics.
	_, err = s.ledger.FindVote(s.ctx, "0xvoter", 2)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
