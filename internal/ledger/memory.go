package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"ballotgate/internal/vote/models"
	"ballotgate/pkg/platform/sentinel"
)

// MemoryLedger is the demo-mode ledger: an in-process append-only vote log
// with the same contract surface as the chain-backed client. Tests script
// failures into it to exercise the orchestrator's retry and reconciliation
// paths.
type MemoryLedger struct {
	mu         sync.Mutex
	candidates map[int64]*models.Candidate
	// transactions by ref; a vote counts once its transaction confirms.
	transactions map[string]*memTx
	// voteByAddress deduplicates at the contract level the way the original
	// contract does: one confirmed vote per address per candidate.
	voteByAddress map[string]string

	pendingSubmitFailures int
	submitFailure         error
	lostConfirmations     int
}

type memTx struct {
	ref         string
	address     string
	candidateID int64
	confirmed   bool
}

func NewMemory(candidates ...models.Candidate) *MemoryLedger {
	l := &MemoryLedger{
		candidates:    make(map[int64]*models.Candidate),
		transactions:  make(map[string]*memTx),
		voteByAddress: make(map[string]string),
	}
	for i := range candidates {
		c := candidates[i]
		l.candidates[c.ID] = &c
	}
	return l
}

// ScriptSubmitFailures makes the next n Submit calls fail with err.
func (l *MemoryLedger) ScriptSubmitFailures(n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pendingSubmitFailures = n
	l.submitFailure = err
}

// ScriptLostConfirmations makes the next n AwaitConfirmation calls report
// Pending even though the transaction landed, simulating a dropped
// confirmation observation.
func (l *MemoryLedger) ScriptLostConfirmations(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lostConfirmations = n
}

func (l *MemoryLedger) Submit(ctx context.Context, candidateID int64, auth *models.Authorization) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransientSubmit, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pendingSubmitFailures > 0 {
		l.pendingSubmitFailures--
		return "", l.submitFailure
	}
	if _, ok := l.candidates[candidateID]; !ok {
		return "", fmt.Errorf("%w: candidate %d: %w", ErrRejectedByLedger, candidateID, ErrUnknownCandidate)
	}

	id := uuid.New()
	ref := hexutil.Encode(crypto.Keccak256(id[:]))
	l.transactions[ref] = &memTx{
		ref:         ref,
		address:     auth.Address,
		candidateID: candidateID,
	}
	return ref, nil
}

func (l *MemoryLedger) AwaitConfirmation(ctx context.Context, ref string, timeout time.Duration) (Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return Confirmation{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.transactions[ref]
	if !ok {
		return Confirmation{Status: StatusFailed, Reason: "unknown transaction"}, nil
	}

	// The transaction lands regardless; a scripted loss only hides the
	// confirmation from this observer, mirroring a dropped connection.
	l.confirmLocked(tx)
	if l.lostConfirmations > 0 {
		l.lostConfirmations--
		return Confirmation{Status: StatusPending}, nil
	}
	return Confirmation{Status: StatusConfirmed}, nil
}

func (l *MemoryLedger) confirmLocked(tx *memTx) {
	if tx.confirmed {
		return
	}
	tx.confirmed = true
	l.voteByAddress[voteKey(tx.address, tx.candidateID)] = tx.ref
	if c, ok := l.candidates[tx.candidateID]; ok {
		c.VoteCount++
	}
}

func (l *MemoryLedger) GetCandidate(ctx context.Context, candidateID int64) (*models.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.candidates[candidateID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCandidate, candidateID)
	}
	out := *c
	return &out, nil
}

func (l *MemoryLedger) FindVote(ctx context.Context, address string, candidateID int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if ref, ok := l.voteByAddress[voteKey(address, candidateID)]; ok {
		return ref, nil
	}
	return "", sentinel.ErrNotFound
}

func voteKey(address string, candidateID int64) string {
	return fmt.Sprintf("%s/%d", address, candidateID)
}
