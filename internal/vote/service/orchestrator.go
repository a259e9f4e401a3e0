package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"ballotgate/internal/audit"
	"ballotgate/internal/ledger"
	"ballotgate/internal/platform/config"
	"ballotgate/internal/verifier"
	"ballotgate/internal/vote/metrics"
	"ballotgate/internal/vote/models"
	"ballotgate/internal/wallet"
	dErrors "ballotgate/pkg/domain-errors"
	"ballotgate/pkg/platform/sentinel"
)

// verifierLocalRetries is how many extra same-sample attempts a single
// capture gets when the verification service is unavailable. Exhausting these
// still counts as one capture attempt against MaxVerifyAttempts.
const verifierLocalRetries = 2

// Orchestrator is the vote session state machine. It sequences biometric
// verification, wallet authorization, the idempotency reservation, and ledger
// submission, and owns the retry and backoff policy for each leg. Per-session
// state is exclusively owned by the session's caller; the record store's
// Reserve is the only cross-session synchronization point.
type Orchestrator struct {
	verifier Verifier
	wallet   AuthorizationProvider
	ledger   LedgerClient
	records  RecordStore
	sessions SessionStore
	audit    AuditPublisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      config.Vote
	tracer   trace.Tracer

	now         func() time.Time
	backoffBase time.Duration
}

type Option func(*Orchestrator)

// WithClock injects a time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithBackoffBase shortens the exponential backoff base, for tests.
func WithBackoffBase(d time.Duration) Option {
	return func(o *Orchestrator) { o.backoffBase = d }
}

func NewOrchestrator(
	v Verifier,
	w AuthorizationProvider,
	l LedgerClient,
	records RecordStore,
	sessions SessionStore,
	auditPub AuditPublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg config.Vote,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		verifier:    v,
		wallet:      w,
		ledger:      l,
		records:     records,
		sessions:    sessions,
		audit:       auditPub,
		metrics:     m,
		logger:      logger,
		cfg:         cfg,
		tracer:      otel.Tracer("ballotgate/vote"),
		now:         time.Now,
		backoffBase: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartSession opens a new time-boxed session for a claimed identity and
// candidate choice. The claimed identity is fixed for the session's lifetime.
func (o *Orchestrator) StartSession(ctx context.Context, claimedIdentity string, candidateID int64) (*models.VotingSession, error) {
	ctx, span := o.tracer.Start(ctx, "vote.start_session")
	defer span.End()

	if claimedIdentity == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "claimed identity is required")
	}
	if candidateID <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "candidate id must be positive")
	}

	now := o.now()
	sess := &models.VotingSession{
		ID:              uuid.New(),
		State:           models.StateCapturing,
		ClaimedIdentity: claimedIdentity,
		CandidateID:     candidateID,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(o.cfg.SessionTimeout),
	}
	if err := o.sessions.Save(ctx, sess); err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "save session", err)
	}

	o.metrics.IncrementSessionsStarted()
	o.emitAudit(ctx, audit.Event{
		Action:      audit.ActionSessionStarted,
		SessionID:   sess.ID.String(),
		CandidateID: candidateID,
	})
	o.logger.InfoContext(ctx, "voting session started",
		"session_id", sess.ID.String(), "candidate_id", candidateID)
	return sess, nil
}

// SubmitCapture runs one biometric verification attempt with a fresh capture.
// Below-threshold results consume an attempt; after MaxVerifyAttempts the
// session terminates in verification_failed and the voter must start a brand
// new session.
func (o *Orchestrator) SubmitCapture(ctx context.Context, sessionID uuid.UUID, sample []byte) (*models.VotingSession, error) {
	ctx, span := o.tracer.Start(ctx, "vote.submit_capture")
	defer span.End()

	sess, err := o.loadLive(ctx, sessionID)
	if err != nil {
		return sess, err
	}
	if sess.State != models.StateCapturing && sess.State != models.StateVerifying {
		return sess, dErrors.New(dErrors.CodeConflict,
			fmt.Sprintf("session is %s, not awaiting capture", sess.State))
	}

	if err := o.transition(ctx, sess, models.StateVerifying); err != nil {
		return sess, err
	}

	sess.VerifyAttempts++
	o.metrics.IncrementVerifyAttempts()

	result, err := o.verifyWithRetry(ctx, sess.ClaimedIdentity, sample)
	if err != nil {
		if errors.Is(err, verifier.ErrInvalidSample) {
			// A malformed capture is the client's to fix; the attempt still
			// counts so a broken camera cannot retry forever.
			return o.afterFailedVerify(ctx, sess, "invalid biometric sample",
				dErrors.Wrap(dErrors.CodeInvalidInput, "invalid biometric sample", err))
		}
		return o.afterFailedVerify(ctx, sess, "verifier unavailable",
			dErrors.Wrap(dErrors.CodeUnavailable, "identity verifier unavailable", err))
	}

	if !result.Verified {
		reason := fmt.Sprintf("similarity %.2f below threshold", result.SimilarityScore)
		return o.afterFailedVerify(ctx, sess, reason,
			dErrors.New(dErrors.CodeRejected, "identity verification failed"))
	}

	sess.Verification = result
	if err := o.transition(ctx, sess, models.StateVerified); err != nil {
		return sess, err
	}
	o.emitAudit(ctx, audit.Event{
		Action:      audit.ActionIdentityVerified,
		SessionID:   sess.ID.String(),
		IdentityKey: result.IdentityKey,
	})
	return sess, nil
}

// verifyWithRetry retries transient verifier unavailability with backoff,
// bounded so the caller is never blocked past a few seconds.
func (o *Orchestrator) verifyWithRetry(ctx context.Context, claimedIdentity string, sample []byte) (*models.VerificationResult, error) {
	var lastErr error
	for attempt := 0; attempt <= verifierLocalRetries; attempt++ {
		if attempt > 0 {
			if err := o.sleep(ctx, o.backoff(attempt)); err != nil {
				return nil, err
			}
		}
		result, err := o.verifier.Verify(ctx, claimedIdentity, sample)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !verifier.IsRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (o *Orchestrator) afterFailedVerify(ctx context.Context, sess *models.VotingSession, reason string, cause error) (*models.VotingSession, error) {
	if sess.VerifyAttempts >= o.cfg.MaxVerifyAttempts {
		o.emitAudit(ctx, audit.Event{
			Action:    audit.ActionVerificationFailed,
			SessionID: sess.ID.String(),
			Reason:    reason,
		})
		if err := o.terminate(ctx, sess, models.StateVerificationFailed, reason); err != nil {
			return sess, err
		}
		return sess, dErrors.New(dErrors.CodeRejected, "identity verification failed after maximum attempts")
	}

	// Back to capturing; the voter retries with a fresh capture.
	sess.FailureReason = reason
	if err := o.transition(ctx, sess, models.StateCapturing); err != nil {
		return sess, err
	}
	return sess, cause
}

// Authorize requests a signed vote authorization from the wallet. Rejection
// and provider unavailability are recoverable while the session is alive.
func (o *Orchestrator) Authorize(ctx context.Context, sessionID uuid.UUID) (*models.VotingSession, error) {
	ctx, span := o.tracer.Start(ctx, "vote.authorize")
	defer span.End()

	sess, err := o.loadLive(ctx, sessionID)
	if err != nil {
		return sess, err
	}
	if sess.State != models.StateVerified && sess.State != models.StateAuthorizationFailed {
		return sess, dErrors.New(dErrors.CodeConflict,
			fmt.Sprintf("session is %s, not ready for authorization", sess.State))
	}

	if err := o.transition(ctx, sess, models.StateAuthorizing); err != nil {
		return sess, err
	}

	auth, err := o.wallet.Authorize(ctx, sess.ID)
	if err != nil {
		sess.FailureReason = "authorization failed"
		if terr := o.transition(ctx, sess, models.StateAuthorizationFailed); terr != nil {
			return sess, terr
		}
		if errors.Is(err, wallet.ErrUserRejected) {
			return sess, dErrors.Wrap(dErrors.CodeRejected, "authorization rejected", err)
		}
		return sess, dErrors.Wrap(dErrors.CodeUnavailable, "authorization provider unavailable", err)
	}

	sess.Authorization = auth
	sess.FailureReason = ""
	if err := o.transition(ctx, sess, models.StateAuthorized); err != nil {
		return sess, err
	}
	o.emitAudit(ctx, audit.Event{
		Action:      audit.ActionVoteAuthorized,
		SessionID:   sess.ID.String(),
		IdentityKey: sess.Verification.IdentityKey,
	})
	return sess, nil
}

// CastVote reserves the identity key and drives the vote through the ledger:
// validate candidate, reserve, submit with backoff, await confirmation. The
// reservation is the dedup chokepoint; it is never released on transient
// failure, so retries can never mint a second vote.
func (o *Orchestrator) CastVote(ctx context.Context, sessionID uuid.UUID) (*models.VotingSession, error) {
	ctx, span := o.tracer.Start(ctx, "vote.cast")
	defer span.End()

	sess, err := o.loadLive(ctx, sessionID)
	if err != nil {
		return sess, err
	}
	if sess.State != models.StateAuthorized {
		return sess, dErrors.New(dErrors.CodeConflict,
			fmt.Sprintf("session is %s, not authorized to cast", sess.State))
	}

	// Candidate validation happens before any reservation so an unknown
	// candidate never burns the voter's one reservation.
	if _, err := o.ledger.GetCandidate(ctx, sess.CandidateID); err != nil {
		if errors.Is(err, ledger.ErrUnknownCandidate) {
			sess.FailureReason = "unknown candidate"
			if terr := o.transition(ctx, sess, models.StateAuthorizationFailed); terr != nil {
				return sess, terr
			}
			return sess, dErrors.Wrap(dErrors.CodeInvalidInput, "unknown candidate", err)
		}
		return sess, dErrors.Wrap(dErrors.CodeUnavailable, "candidate registry unavailable", err)
	}

	if err := o.transition(ctx, sess, models.StateReserving); err != nil {
		return sess, err
	}

	identityKey := sess.Verification.IdentityKey
	rec, err := o.records.Reserve(ctx, identityKey, sess.CandidateID, sess.Authorization.Address)
	if err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			o.metrics.IncrementDuplicatesBlocked()
			o.emitAudit(ctx, audit.Event{
				Action:      audit.ActionDuplicateBlocked,
				SessionID:   sess.ID.String(),
				IdentityKey: identityKey,
				Reason:      string(rec.Status),
			})
			if terr := o.terminate(ctx, sess, models.StateDuplicateVote,
				fmt.Sprintf("identity already holds a %s vote", rec.Status)); terr != nil {
				return sess, terr
			}
			return sess, dErrors.New(dErrors.CodeConflict, "identity has already voted")
		}
		return sess, dErrors.Wrap(dErrors.CodeInternal, "reserve vote", err)
	}

	o.emitAudit(ctx, audit.Event{
		Action:      audit.ActionVoteReserved,
		SessionID:   sess.ID.String(),
		IdentityKey: identityKey,
		CandidateID: sess.CandidateID,
	})

	return o.submitReserved(ctx, sess, rec)
}

// submitReserved drives a reserved row to confirmed or submission_failed.
func (o *Orchestrator) submitReserved(ctx context.Context, sess *models.VotingSession, rec *models.VoteRecord) (*models.VotingSession, error) {
	if err := o.transition(ctx, sess, models.StateSubmitting); err != nil {
		return sess, err
	}

	identityKey := sess.Verification.IdentityKey
	submitStart := o.now()
	var ref string

	for attempt := 1; attempt <= o.cfg.MaxSubmitAttempts; attempt++ {
		if sess.ExpiredAt(o.now()) {
			// The UI session dies but the reservation stays, so a later
			// session for this identity hits duplicate_vote, not a second
			// ledger submission.
			return sess, o.expire(ctx, sess)
		}
		if attempt > 1 {
			o.metrics.IncrementSubmitRetries()
			if err := o.sleep(ctx, o.backoff(attempt-1)); err != nil {
				return sess, err
			}
		}

		if err := o.records.IncrementAttempts(ctx, identityKey); err != nil {
			o.logger.WarnContext(ctx, "increment attempts failed", "error", err.Error())
		}

		// Unknown-outcome guard: a previous submit may have landed even
		// though we never saw the ref. Query before submitting again.
		if ref == "" && attempt > 1 {
			if existing, err := o.ledger.FindVote(ctx, sess.Authorization.Address, sess.CandidateID); err == nil {
				o.logger.InfoContext(ctx, "found existing vote transaction, skipping resubmit",
					"session_id", sess.ID.String(), "ref", existing)
				ref = existing
			}
		}

		if ref == "" {
			submitted, err := o.ledger.Submit(ctx, sess.CandidateID, sess.Authorization)
			if err != nil {
				if errors.Is(err, ledger.ErrRejectedByLedger) {
					return o.failSubmission(ctx, sess, rec, "", "rejected by ledger: "+err.Error())
				}
				o.logger.WarnContext(ctx, "transient submit error",
					"session_id", sess.ID.String(), "attempt", attempt, "error", err.Error())
				continue
			}
			ref = submitted
		}

		if _, err := o.records.Advance(ctx, identityKey, models.VoteSubmitted, ref); err != nil {
			return sess, dErrors.Wrap(dErrors.CodeInternal, "advance vote record", err)
		}
		sess.Transaction = &models.TransactionRecord{
			Ref:         ref,
			CandidateID: sess.CandidateID,
			SubmittedAt: o.now(),
		}
		if err := o.transition(ctx, sess, models.StateSubmitted); err != nil {
			return sess, err
		}
		o.emitAudit(ctx, audit.Event{
			Action:         audit.ActionVoteSubmitted,
			SessionID:      sess.ID.String(),
			IdentityKey:    identityKey,
			CandidateID:    sess.CandidateID,
			TransactionRef: ref,
		})

		conf, err := o.ledger.AwaitConfirmation(ctx, ref, o.cfg.LedgerConfirmationTimeout)
		if err != nil {
			o.logger.WarnContext(ctx, "confirmation observation failed",
				"session_id", sess.ID.String(), "ref", ref, "error", err.Error())
			conf = ledger.Confirmation{Status: ledger.StatusPending}
		}

		switch conf.Status {
		case ledger.StatusConfirmed:
			return o.confirm(ctx, sess, rec, ref, submitStart)
		case ledger.StatusFailed:
			return o.failSubmission(ctx, sess, rec, ref, "transaction failed: "+conf.Reason)
		case ledger.StatusPending:
			// Confirmation window elapsed with the outcome unknown. Keep the
			// ref: the next loop iteration re-awaits rather than resubmits.
			if err := o.transition(ctx, sess, models.StateSubmitting); err != nil {
				return sess, err
			}
		}
	}

	// Out of attempts. The row stays reserved/submitted for the reconciler;
	// nothing is released, nothing is resubmitted blindly.
	reason := "ledger confirmation not observed within retry budget"
	o.emitAudit(ctx, audit.Event{
		Action:         audit.ActionVoteFailed,
		SessionID:      sess.ID.String(),
		IdentityKey:    identityKey,
		TransactionRef: ref,
		Reason:         reason,
	})
	if err := o.terminate(ctx, sess, models.StateSubmissionFailed, reason); err != nil {
		return sess, err
	}
	return sess, dErrors.New(dErrors.CodeUnavailable, reason)
}

func (o *Orchestrator) confirm(ctx context.Context, sess *models.VotingSession, rec *models.VoteRecord, ref string, submitStart time.Time) (*models.VotingSession, error) {
	if _, err := o.records.Advance(ctx, sess.Verification.IdentityKey, models.VoteConfirmed, ref); err != nil {
		return sess, dErrors.Wrap(dErrors.CodeInternal, "confirm vote record", err)
	}
	now := o.now()
	sess.Transaction.ConfirmedAt = &now
	o.metrics.ObserveConfirmationLatency(now.Sub(submitStart))
	o.emitAudit(ctx, audit.Event{
		Action:         audit.ActionVoteConfirmed,
		SessionID:      sess.ID.String(),
		IdentityKey:    sess.Verification.IdentityKey,
		CandidateID:    sess.CandidateID,
		TransactionRef: ref,
	})
	if err := o.terminate(ctx, sess, models.StateConfirmed, ""); err != nil {
		return sess, err
	}
	o.logger.InfoContext(ctx, "vote confirmed",
		"session_id", sess.ID.String(), "ref", ref)
	return sess, nil
}

// failSubmission marks the row failed (terminal, kept for the audit trail)
// and the session submission_failed.
func (o *Orchestrator) failSubmission(ctx context.Context, sess *models.VotingSession, rec *models.VoteRecord, ref, reason string) (*models.VotingSession, error) {
	if _, err := o.records.Advance(ctx, sess.Verification.IdentityKey, models.VoteFailed, ref); err != nil {
		o.logger.ErrorContext(ctx, "mark vote record failed",
			"session_id", sess.ID.String(), "error", err.Error())
	}
	if sess.Transaction != nil {
		sess.Transaction.FailureReason = reason
	}
	o.emitAudit(ctx, audit.Event{
		Action:         audit.ActionVoteFailed,
		SessionID:      sess.ID.String(),
		IdentityKey:    sess.Verification.IdentityKey,
		TransactionRef: ref,
		Reason:         reason,
	})
	if err := o.terminate(ctx, sess, models.StateSubmissionFailed, reason); err != nil {
		return sess, err
	}
	return sess, dErrors.New(dErrors.CodeRejected, reason)
}

// GetSession returns the current session snapshot.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID uuid.UUID) (*models.VotingSession, error) {
	sess, err := o.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "load session", err)
	}
	// Surface expiry lazily so pollers see the terminal state.
	if !sess.State.Terminal() && sess.ExpiredAt(o.now()) {
		if err := o.expire(ctx, sess); err != nil && !dErrors.Is(err, dErrors.CodeExpired) {
			return sess, err
		}
	}
	return sess, nil
}

// GetCandidate reads through to the ledger's candidate registry.
func (o *Orchestrator) GetCandidate(ctx context.Context, candidateID int64) (*models.Candidate, error) {
	c, err := o.ledger.GetCandidate(ctx, candidateID)
	if err != nil {
		if errors.Is(err, ledger.ErrUnknownCandidate) {
			return nil, dErrors.Wrap(dErrors.CodeNotFound, "unknown candidate", err)
		}
		return nil, dErrors.Wrap(dErrors.CodeUnavailable, "candidate registry unavailable", err)
	}
	return c, nil
}

// loadLive loads a session and enforces expiry before any work happens.
func (o *Orchestrator) loadLive(ctx context.Context, sessionID uuid.UUID) (*models.VotingSession, error) {
	sess, err := o.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "load session", err)
	}
	if sess.State.Terminal() {
		return sess, dErrors.New(dErrors.CodeConflict,
			fmt.Sprintf("session already terminal in state %s", sess.State))
	}
	if sess.ExpiredAt(o.now()) {
		return sess, o.expire(ctx, sess)
	}
	return sess, nil
}

func (o *Orchestrator) expire(ctx context.Context, sess *models.VotingSession) error {
	o.emitAudit(ctx, audit.Event{
		Action:    audit.ActionSessionExpired,
		SessionID: sess.ID.String(),
	})
	if err := o.terminate(ctx, sess, models.StateExpired, "session expired"); err != nil {
		return err
	}
	return dErrors.New(dErrors.CodeExpired, "session expired")
}

// transition applies a forward move and persists the session. An illegal move
// is an internal invariant violation: the session is aborted, never retried.
func (o *Orchestrator) transition(ctx context.Context, sess *models.VotingSession, to models.SessionState) error {
	if !models.CanTransition(sess.State, to) {
		o.logger.ErrorContext(ctx, "invalid session transition",
			"session_id", sess.ID.String(), "from", string(sess.State), "to", string(to))
		return dErrors.New(dErrors.CodeInternal,
			fmt.Sprintf("invalid transition %s -> %s", sess.State, to))
	}
	sess.State = to
	sess.UpdatedAt = o.now()
	if err := o.sessions.Save(ctx, sess); err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "save session", err)
	}
	return nil
}

// terminate moves the session to a terminal state and records the outcome.
func (o *Orchestrator) terminate(ctx context.Context, sess *models.VotingSession, to models.SessionState, reason string) error {
	if reason != "" {
		sess.FailureReason = reason
	}
	if err := o.transition(ctx, sess, to); err != nil {
		return err
	}
	o.metrics.RecordOutcome(string(to))
	return nil
}

func (o *Orchestrator) emitAudit(ctx context.Context, event audit.Event) {
	if err := o.audit.Emit(ctx, event); err != nil {
		o.logger.WarnContext(ctx, "audit emit failed",
			"action", event.Action, "error", err.Error())
	}
}

// backoff returns the exponential delay for the nth retry, capped at 8s.
func (o *Orchestrator) backoff(n int) time.Duration {
	d := o.backoffBase << (n - 1)
	if max := 16 * o.backoffBase; d > max {
		d = max
	}
	return d
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
