package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ballotgate/internal/audit"
	"ballotgate/internal/ledger"
	"ballotgate/internal/vote/metrics"
	"ballotgate/internal/vote/models"
	"ballotgate/pkg/platform/sentinel"
)

// reconcileConfirmationWait bounds how long one reconciliation pass waits on
// any single transaction. Unconfirmed rows are simply picked up next pass.
const reconcileConfirmationWait = 5 * time.Second

// Reconciler repairs vote records whose submission outcome was lost. A row
// stuck at submitted is re-checked via its recorded transaction ref; a row
// stuck at reserved — the final submit attempt landed but its ref was never
// observed — is re-checked via FindVote with the voter address kept on the
// row. Neither path ever resubmits, which is what keeps a lost outcome from
// turning into a double vote.
type Reconciler struct {
	ledger  LedgerClient
	records RecordStore
	audit   AuditPublisher
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewReconciler(l LedgerClient, records RecordStore, auditPub AuditPublisher, m *metrics.Metrics, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		ledger:  l,
		records: records,
		audit:   auditPub,
		metrics: m,
		logger:  logger,
	}
}

// Run reconciles on a fixed interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.ReconcileOnce(ctx); err != nil {
				r.logger.WarnContext(ctx, "reconciliation pass failed", "error", err.Error())
			}
		}
	}
}

// ReconcileOnce processes every submitted and reserved row once.
func (r *Reconciler) ReconcileOnce(ctx context.Context) error {
	submitted, err := r.records.ListByStatus(ctx, models.VoteSubmitted)
	if err != nil {
		return err
	}
	for _, rec := range submitted {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.reconcileRecord(ctx, rec)
	}

	reserved, err := r.records.ListByStatus(ctx, models.VoteReserved)
	if err != nil {
		return err
	}
	for _, rec := range reserved {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.recoverReserved(ctx, rec)
	}
	return nil
}

// recoverReserved handles rows whose submit attempt may have landed without
// the ref ever being recorded. FindVote is the only safe check: if the ledger
// holds no vote from this address, nothing happened and the row stays
// reserved; if it does, the row adopts the found transaction and proceeds
// through the normal confirmation check.
func (r *Reconciler) recoverReserved(ctx context.Context, rec *models.VoteRecord) {
	if rec.VoterAddress == "" {
		return
	}

	ref, err := r.ledger.FindVote(ctx, rec.VoterAddress, rec.CandidateID)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			r.logger.WarnContext(ctx, "reconcile vote lookup failed",
				"identity_key", rec.IdentityKey, "error", err.Error())
		}
		return
	}

	if _, err := r.records.Advance(ctx, rec.IdentityKey, models.VoteSubmitted, ref); err != nil {
		r.logger.ErrorContext(ctx, "reconcile advance failed",
			"identity_key", rec.IdentityKey, "error", err.Error())
		return
	}
	r.logger.InfoContext(ctx, "recovered unrecorded vote transaction",
		"identity_key", rec.IdentityKey, "ref", ref)

	rec.Status = models.VoteSubmitted
	rec.TransactionRef = ref
	r.reconcileRecord(ctx, rec)
}

func (r *Reconciler) reconcileRecord(ctx context.Context, rec *models.VoteRecord) {
	if rec.TransactionRef == "" {
		// Submitted with no ref should be impossible; leave it for an
		// operator rather than guessing.
		r.logger.ErrorContext(ctx, "submitted vote record without transaction ref",
			"identity_key", rec.IdentityKey)
		return
	}

	conf, err := r.ledger.AwaitConfirmation(ctx, rec.TransactionRef, reconcileConfirmationWait)
	if err != nil {
		r.logger.WarnContext(ctx, "reconcile confirmation query failed",
			"identity_key", rec.IdentityKey, "ref", rec.TransactionRef, "error", err.Error())
		return
	}

	switch conf.Status {
	case ledger.StatusConfirmed:
		if _, err := r.records.Advance(ctx, rec.IdentityKey, models.VoteConfirmed, rec.TransactionRef); err != nil {
			r.logger.ErrorContext(ctx, "reconcile advance failed",
				"identity_key", rec.IdentityKey, "error", err.Error())
			return
		}
		r.metrics.IncrementReconciledVotes()
		r.emit(ctx, audit.Event{
			Action:         audit.ActionVoteReconciled,
			IdentityKey:    rec.IdentityKey,
			CandidateID:    rec.CandidateID,
			TransactionRef: rec.TransactionRef,
		})
		r.logger.InfoContext(ctx, "reconciled lost confirmation",
			"identity_key", rec.IdentityKey, "ref", rec.TransactionRef)
	case ledger.StatusFailed:
		if _, err := r.records.Advance(ctx, rec.IdentityKey, models.VoteFailed, rec.TransactionRef); err != nil {
			r.logger.ErrorContext(ctx, "reconcile advance failed",
				"identity_key", rec.IdentityKey, "error", err.Error())
			return
		}
		r.emit(ctx, audit.Event{
			Action:         audit.ActionVoteFailed,
			IdentityKey:    rec.IdentityKey,
			TransactionRef: rec.TransactionRef,
			Reason:         "reconciler observed failed transaction: " + conf.Reason,
		})
	case ledger.StatusPending:
		// still in flight, next pass will look again
	}
}

func (r *Reconciler) emit(ctx context.Context, event audit.Event) {
	if err := r.audit.Emit(ctx, event); err != nil {
		r.logger.WarnContext(ctx, "audit emit failed",
			"action", event.Action, "error", err.Error())
	}
}
