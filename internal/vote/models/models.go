package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionState tracks where a voting session is in the
// capture → verify → authorize → reserve → submit → confirm pipeline.
type SessionState string

const (
	StateIdle        SessionState = "idle"
	StateCapturing   SessionState = "capturing"
	StateVerifying   SessionState = "verifying"
	StateVerified    SessionState = "verified"
	StateAuthorizing SessionState = "authorizing"
	StateAuthorized  SessionState = "authorized"
	StateReserving   SessionState = "reserving"
	StateSubmitting  SessionState = "submitting"
	StateSubmitted   SessionState = "submitted"
	StateConfirmed   SessionState = "confirmed"

	StateVerificationFailed  SessionState = "verification_failed"
	StateAuthorizationFailed SessionState = "authorization_failed"
	StateDuplicateVote       SessionState = "duplicate_vote"
	StateSubmissionFailed    SessionState = "submission_failed"
	StateExpired             SessionState = "expired"
)

// Terminal reports whether no further transition may occur from s.
// authorization_failed is recoverable within an unexpired session and is
// therefore not terminal.
func (s SessionState) Terminal() bool {
	switch s {
	case StateConfirmed, StateVerificationFailed, StateDuplicateVote,
		StateSubmissionFailed, StateExpired:
		return true
	}
	return false
}

// transitions is the forward-only session graph. Expiry is handled separately:
// any non-terminal state may move to expired.
var transitions = map[SessionState][]SessionState{
	StateIdle:      {StateCapturing},
	StateCapturing: {StateVerifying},
	// verifying self-loops so a session persisted mid-verify (crash, lost
	// response) can accept a fresh capture instead of being stuck
	StateVerifying: {StateVerifying, StateVerified, StateCapturing, StateVerificationFailed},
	StateVerified:    {StateAuthorizing},
	StateAuthorizing: {StateAuthorized, StateAuthorizationFailed},
	// authorization may be retried while the session is alive
	StateAuthorizationFailed: {StateAuthorizing},
	// unknown-candidate rejection happens after authorization but before any
	// reservation, and lands back in the recoverable failure state
	StateAuthorized: {StateReserving, StateAuthorizationFailed},
	StateReserving:  {StateSubmitting, StateDuplicateVote},
	StateSubmitting: {StateSubmitted, StateSubmitting, StateSubmissionFailed},
	StateSubmitted:  {StateConfirmed, StateSubmitting, StateSubmissionFailed},
}

// CanTransition reports whether from → to is a legal forward move.
func CanTransition(from, to SessionState) bool {
	if to == StateExpired {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// VotingSession is one voter attempt. ClaimedIdentity never changes after
// creation; everything else accretes as the pipeline advances.
type VotingSession struct {
	ID              uuid.UUID           `json:"session_id"`
	State           SessionState        `json:"state"`
	ClaimedIdentity string              `json:"claimed_identity"`
	CandidateID     int64               `json:"candidate_id"`
	Verification    *VerificationResult `json:"verification,omitempty"`
	Authorization   *Authorization      `json:"authorization,omitempty"`
	Transaction     *TransactionRecord  `json:"transaction,omitempty"`
	VerifyAttempts  int                 `json:"verify_attempts"`
	FailureReason   string              `json:"failure_reason,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	ExpiresAt       time.Time           `json:"expires_at"`
}

// ExpiredAt reports whether the session deadline has passed at the given time.
func (s *VotingSession) ExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// VerificationResult is immutable once produced; a fresh capture produces a
// new result rather than mutating an old one.
type VerificationResult struct {
	IdentityKey     string    `json:"identity_key"`
	SimilarityScore float64   `json:"similarity_score"`
	Verified        bool      `json:"verified"`
	MatchedTemplate string    `json:"matched_template,omitempty"`
	CapturedAt      time.Time `json:"captured_at"`
}

// Authorization is the wallet-produced proof that the verified voter approved
// casting this vote. The signature scheme is provider-defined and opaque here.
type Authorization struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

// VoteStatus is the idempotency ledger row status.
type VoteStatus string

const (
	VoteReserved  VoteStatus = "reserved"
	VoteSubmitted VoteStatus = "submitted"
	VoteConfirmed VoteStatus = "confirmed"
	VoteFailed    VoteStatus = "failed"
)

// statusRank orders statuses so stores can reject backward moves.
var statusRank = map[VoteStatus]int{
	VoteReserved:  0,
	VoteSubmitted: 1,
	VoteConfirmed: 2,
	VoteFailed:    2,
}

// CanAdvance reports whether from → to is a legal monotonic status move.
// confirmed is terminal and never overwritten; failed is reachable from any
// non-terminal status.
func (from VoteStatus) CanAdvance(to VoteStatus) bool {
	if from == VoteConfirmed || from == VoteFailed {
		return false
	}
	if to == VoteFailed {
		return true
	}
	return statusRank[to] == statusRank[from]+1
}

// VoteRecord is the idempotency ledger row: at most one per identity key.
// VoterAddress is kept so reconciliation can run FindVote for a row whose
// submission outcome was never observed, even after a restart.
type VoteRecord struct {
	IdentityKey    string     `json:"identity_key"`
	CandidateID    int64      `json:"candidate_id"`
	VoterAddress   string     `json:"voter_address,omitempty"`
	Status         VoteStatus `json:"status"`
	TransactionRef string     `json:"transaction_ref,omitempty"`
	Attempts       int        `json:"attempts"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TransactionRecord captures the ledger-assigned transaction once known.
type TransactionRecord struct {
	Ref           string     `json:"ref"`
	CandidateID   int64      `json:"candidate_id"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// Candidate is read-only to this service; the external ledger owns tallies.
type Candidate struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	VoteCount uint64 `json:"vote_count"`
}
