package audit

import "time"

// Actions recorded on the audit trail. Terminal session outcomes are always
// recorded so operators can reconcile failed or expired sessions without
// replaying them blindly.
const (
	ActionSessionStarted     = "session.started"
	ActionIdentityVerified   = "identity.verified"
	ActionVerificationFailed = "identity.verification_failed"
	ActionVoteAuthorized     = "vote.authorized"
	ActionVoteReserved       = "vote.reserved"
	ActionDuplicateBlocked   = "vote.duplicate_blocked"
	ActionVoteSubmitted      = "vote.submitted"
	ActionVoteConfirmed      = "vote.confirmed"
	ActionVoteFailed         = "vote.failed"
	ActionSessionExpired     = "session.expired"
	ActionVoteReconciled     = "vote.reconciled"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp      time.Time `json:"timestamp"`
	Action         string    `json:"action"`
	SessionID      string    `json:"session_id,omitempty"`
	IdentityKey    string    `json:"identity_key,omitempty"`
	CandidateID    int64     `json:"candidate_id,omitempty"`
	TransactionRef string    `json:"transaction_ref,omitempty"`
	Reason         string    `json:"reason,omitempty"`
}
