package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"ballotgate/internal/audit"
	"ballotgate/internal/ledger"
	"ballotgate/internal/vote/metrics"
	"ballotgate/internal/vote/models"
	"ballotgate/internal/vote/store/voterecord"
)

type ReconcilerSuite struct {
	suite.Suite
	ctx context.Context

	ledger     *ledger.MemoryLedger
	records    *voterecord.InMemoryStore
	auditStore *audit.InMemoryStore
	reconciler *Reconciler
}

func TestReconcilerSuite(t *testing.T) {
	suite.Run(t, new(ReconcilerSuite))
}

func (s *ReconcilerSuite) SetupTest() {
	s.ctx = context.Background()
	s.ledger = ledger.NewMemory(models.Candidate{ID: 1, Name: "Alice Johnson"})
	s.records = voterecord.NewInMemory()
	s.auditStore = audit.NewInMemoryStore()
	s.reconciler = NewReconciler(
		s.ledger, s.records,
		audit.NewPublisher(s.auditStore),
		metrics.NewWith(prometheus.NewRegistry()),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

// submitLostVote lands a vote on the ledger while its confirmation
// observation is dropped, leaving the record stuck at submitted.
func (s *ReconcilerSuite) submitLostVote(identityKey string) string {
	_, err := s.records.Reserve(s.ctx, identityKey, 1, "0x"+identityKey)
	s.Require().NoError(err)

	ref, err := s.ledger.Submit(s.ctx, 1, &models.Authorization{Address: "0x" + identityKey})
	s.Require().NoError(err)
	_, err = s.records.Advance(s.ctx, identityKey, models.VoteSubmitted, ref)
	s.Require().NoError(err)

	s.ledger.ScriptLostConfirmations(1)
	conf, err := s.ledger.AwaitConfirmation(s.ctx, ref, time.Second)
	s.Require().NoError(err)
	s.Require().Equal(ledger.StatusPending, conf.Status)
	return ref
}

func (s *ReconcilerSuite) TestReconcilesLostConfirmation() {
	ref := s.submitLostVote("voter-1")

	s.Require().NoError(s.reconciler.ReconcileOnce(s.ctx))

	rec, err := s.records.Find(s.ctx, "voter-1")
	s.Require().NoError(err)
	s.Equal(models.VoteConfirmed, rec.Status)
	s.Equal(ref, rec.TransactionRef)

	var reconciled bool
	for _, e := range s.auditStore.All() {
		if e.Action == audit.ActionVoteReconciled {
			reconciled = true
		}
	}
	s.True(reconciled, "reconciliation should be audited")

	// And critically: still exactly one vote on the ledger.
	c, err := s.ledger.GetCandidate(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal(uint64(1), c.VoteCount)
}

func (s *ReconcilerSuite) TestReconcileIsIdempotent() {
	s.submitLostVote("voter-2")

	s.Require().NoError(s.reconciler.ReconcileOnce(s.ctx))
	s.Require().NoError(s.reconciler.ReconcileOnce(s.ctx))

	rec, err := s.records.Find(s.ctx, "voter-2")
	s.Require().NoError(err)
	s.Equal(models.VoteConfirmed, rec.Status)

	c, err := s.ledger.GetCandidate(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal(uint64(1), c.VoteCount, "re-running reconciliation must not double count")
}

func (s *ReconcilerSuite) TestLeavesReservedRowWithNoLandedVote() {
	_, err := s.records.Reserve(s.ctx, "voter-3", 1, "0xvoter-3")
	s.Require().NoError(err)

	s.Require().NoError(s.reconciler.ReconcileOnce(s.ctx))

	rec, err := s.records.Find(s.ctx, "voter-3")
	s.Require().NoError(err)
	s.Equal(models.VoteReserved, rec.Status, "nothing on the ledger means nothing to recover")
}

func (s *ReconcilerSuite) TestRecoversStuckReservedRow() {
	// A reservation whose final submit attempt landed on the ledger, but
	// whose outcome was never written back: the row sits at reserved with
	// no transaction ref.
	_, err := s.records.Reserve(s.ctx, "voter-6", 1, "0xvoter-6")
	s.Require().NoError(err)

	ref, err := s.ledger.Submit(s.ctx, 1, &models.Authorization{Address: "0xvoter-6"})
	s.Require().NoError(err)
	_, err = s.ledger.AwaitConfirmation(s.ctx, ref, time.Second)
	s.Require().NoError(err)

	s.Require().NoError(s.reconciler.ReconcileOnce(s.ctx))

	rec, err := s.records.Find(s.ctx, "voter-6")
	s.Require().NoError(err)
	s.Equal(models.VoteConfirmed, rec.Status)
	s.Equal(ref, rec.TransactionRef)

	var reconciled bool
	for _, e := range s.auditStore.All() {
		if e.Action == audit.ActionVoteReconciled {
			reconciled = true
		}
	}
	s.True(reconciled, "recovery should be audited")

	c, err := s.ledger.GetCandidate(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal(uint64(1), c.VoteCount, "recovery must not cast a second vote")
}

func (s *ReconcilerSuite) TestFailedTransactionMarksRecordFailed() {
	_, err := s.records.Reserve(s.ctx, "voter-4", 1, "0xvoter-4")
	s.Require().NoError(err)
	// A ref the ledger has never seen reports failed.
	_, err = s.records.Advance(s.ctx, "voter-4", models.VoteSubmitted, "0xgone")
	s.Require().NoError(err)

	s.Require().NoError(s.reconciler.ReconcileOnce(s.ctx))

	rec, err := s.records.Find(s.ctx, "voter-4")
	s.Require().NoError(err)
	s.Equal(models.VoteFailed, rec.Status)
}

func (s *ReconcilerSuite) TestSkipsRowsWithoutRef() {
	_, err := s.records.Reserve(s.ctx, "voter-5", 1, "0xvoter-5")
	s.Require().NoError(err)
	_, err = s.records.Advance(s.ctx, "voter-5", models.VoteSubmitted, "")
	s.Require().NoError(err)

	s.Require().NoError(s.reconciler.ReconcileOnce(s.ctx))

	rec, err := s.records.Find(s.ctx, "voter-5")
	s.Require().NoError(err)
	s.Equal(models.VoteSubmitted, rec.Status, "no guessing without a transaction ref")
}
