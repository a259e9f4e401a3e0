package voterecord

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"ballotgate/internal/vote/models"
	"ballotgate/pkg/platform/sentinel"
)

type VoteRecordStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
}

func (s *VoteRecordStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestVoteRecordStoreSuite(t *testing.T) {
	suite.Run(t, new(VoteRecordStoreSuite))
}

func (s *VoteRecordStoreSuite) TestReserve() {
	s.Run("first reservation succeeds", func() {
		rec, err := s.store.Reserve(s.ctx, "key-1", 1, "0x1111")
		s.Require().NoError(err)
		s.Equal(models.VoteReserved, rec.Status)
		s.Equal(int64(1), rec.CandidateID)
		s.Equal("0x1111", rec.VoterAddress)
	})

	s.Run("second reservation returns the existing row", func() {
		_, err := s.store.Reserve(s.ctx, "key-2", 1, "0x1111")
		s.Require().NoError(err)

		existing, err := s.store.Reserve(s.ctx, "key-2", 2, "0x2222")
		s.Require().ErrorIs(err, sentinel.ErrAlreadyUsed)
		s.Require().NotNil(existing)
		// The original choice is preserved; the duplicate attempt never wins.
		s.Equal(int64(1), existing.CandidateID)
		s.Equal("0x1111", existing.VoterAddress)
	})

	s.Run("reservation survives after the vote fails", func() {
		_, err := s.store.Reserve(s.ctx, "key-3", 1, "0x1111")
		s.Require().NoError(err)
		_, err = s.store.Advance(s.ctx, "key-3", models.VoteFailed, "")
		s.Require().NoError(err)

		existing, err := s.store.Reserve(s.ctx, "key-3", 1, "0x1111")
		s.Require().ErrorIs(err, sentinel.ErrAlreadyUsed)
		s.Equal(models.VoteFailed, existing.Status)
	})
}

// TestConcurrentReserve verifies Reserve is a true compare-and-insert under
// contention: many goroutines racing the same identity key produce exactly one
// reservation.
func (s *VoteRecordStoreSuite) TestConcurrentReserve() {
	const goroutines = 50

	var wg sync.WaitGroup
	wins := make(chan struct{}, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.store.Reserve(s.ctx, "contested", 1, "0x1111"); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	s.Equal(1, won)
}

func (s *VoteRecordStoreSuite) TestAdvance() {
	s.Run("walks the reserved -> submitted -> confirmed ladder", func() {
		_, err := s.store.Reserve(s.ctx, "key-adv", 1, "0x1111")
		s.Require().NoError(err)

		rec, err := s.store.Advance(s.ctx, "key-adv", models.VoteSubmitted, "0xref")
		s.Require().NoError(err)
		s.Equal(models.VoteSubmitted, rec.Status)
		s.Equal("0xref", rec.TransactionRef)

		rec, err = s.store.Advance(s.ctx, "key-adv", models.VoteConfirmed, "0xref")
		s.Require().NoError(err)
		s.Equal(models.VoteConfirmed, rec.Status)
	})

	s.Run("rejects skipping a rung", func() {
		_, err := s.store.Reserve(s.ctx, "key-skip", 1, "0x1111")
		s.Require().NoError(err)

		_, err = s.store.Advance(s.ctx, "key-skip", models.VoteConfirmed, "0xref")
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("rejects moving backwards", func() {
		_, err := s.store.Reserve(s.ctx, "key-back", 1, "0x1111")
		s.Require().NoError(err)
		_, err = s.store.Advance(s.ctx, "key-back", models.VoteSubmitted, "0xref")
		s.Require().NoError(err)

		_, err = s.store.Advance(s.ctx, "key-back", models.VoteReserved, "")
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("allows resubmission while submitted", func() {
		_, err := s.store.Reserve(s.ctx, "key-resub", 1, "0x1111")
		s.Require().NoError(err)
		_, err = s.store.Advance(s.ctx, "key-resub", models.VoteSubmitted, "0xref")
		s.Require().NoError(err)

		rec, err := s.store.Advance(s.ctx, "key-resub", models.VoteSubmitted, "0xref")
		s.Require().NoError(err)
		s.Equal(models.VoteSubmitted, rec.Status)
	})

	s.Run("repeated confirmation with the same ref is a no-op", func() {
		_, err := s.store.Reserve(s.ctx, "key-reconf", 1, "0x1111")
		s.Require().NoError(err)
		_, err = s.store.Advance(s.ctx, "key-reconf", models.VoteSubmitted, "0xref")
		s.Require().NoError(err)
		_, err = s.store.Advance(s.ctx, "key-reconf", models.VoteConfirmed, "0xref")
		s.Require().NoError(err)

		rec, err := s.store.Advance(s.ctx, "key-reconf", models.VoteConfirmed, "0xref")
		s.Require().NoError(err)
		s.Equal(models.VoteConfirmed, rec.Status)
	})

	s.Run("confirmed row cannot be failed afterwards", func() {
		_, err := s.store.Reserve(s.ctx, "key-term", 1, "0x1111")
		s.Require().NoError(err)
		_, err = s.store.Advance(s.ctx, "key-term", models.VoteSubmitted, "0xref")
		s.Require().NoError(err)
		_, err = s.store.Advance(s.ctx, "key-term", models.VoteConfirmed, "0xref")
		s.Require().NoError(err)

		_, err = s.store.Advance(s.ctx, "key-term", models.VoteFailed, "")
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("failing keeps the row for audit", func() {
		_, err := s.store.Reserve(s.ctx, "key-fail", 1, "0x1111")
		s.Require().NoError(err)
		_, err = s.store.Advance(s.ctx, "key-fail", models.VoteFailed, "")
		s.Require().NoError(err)

		rec, err := s.store.Find(s.ctx, "key-fail")
		s.Require().NoError(err)
		s.Equal(models.VoteFailed, rec.Status)
	})

	s.Run("unknown key returns ErrNotFound", func() {
		_, err := s.store.Advance(s.ctx, "missing", models.VoteSubmitted, "0xref")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *VoteRecordStoreSuite) TestIncrementAttempts() {
	_, err := s.store.Reserve(s.ctx, "key-inc", 1, "0x1111")
	s.Require().NoError(err)

	s.Require().NoError(s.store.IncrementAttempts(s.ctx, "key-inc"))
	s.Require().NoError(s.store.IncrementAttempts(s.ctx, "key-inc"))

	rec, err := s.store.Find(s.ctx, "key-inc")
	s.Require().NoError(err)
	s.Equal(2, rec.Attempts)

	s.Require().ErrorIs(s.store.IncrementAttempts(s.ctx, "missing"), sentinel.ErrNotFound)
}

func (s *VoteRecordStoreSuite) TestListByStatus() {
	_, err := s.store.Reserve(s.ctx, "key-a", 1, "0x1111")
	s.Require().NoError(err)
	_, err = s.store.Reserve(s.ctx, "key-b", 2, "0x1111")
	s.Require().NoError(err)
	_, err = s.store.Advance(s.ctx, "key-b", models.VoteSubmitted, "0xref")
	s.Require().NoError(err)

	submitted, err := s.store.ListByStatus(s.ctx, models.VoteSubmitted)
	s.Require().NoError(err)
	s.Require().Len(submitted, 1)
	s.Equal("key-b", submitted[0].IdentityKey)

	confirmed, err := s.store.ListByStatus(s.ctx, models.VoteConfirmed)
	s.Require().NoError(err)
	s.Empty(confirmed)
}

func (s *VoteRecordStoreSuite) TestFindReturnsCopy() {
	_, err := s.store.Reserve(s.ctx, "key-copy", 1, "0x1111")
	s.Require().NoError(err)

	rec, err := s.store.Find(s.ctx, "key-copy")
	s.Require().NoError(err)
	rec.Status = models.VoteConfirmed

	again, err := s.store.Find(s.ctx, "key-copy")
	s.Require().NoError(err)
	s.Equal(models.VoteReserved, again.Status)
}
