// Package verifier wraps the external biometric verification capability
// behind a single contract with two implementations: an HTTP client for the
// real face-verification backend and a simulated verifier for demos and
// tests. The implementation is selected by configuration.
package verifier

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"ballotgate/internal/vote/models"
)

var (
	// ErrUnavailable covers network errors, timeouts, and 5xx responses from
	// the verification service. Retryable with a fresh capture.
	ErrUnavailable = errors.New("verifier unavailable")
	// ErrInvalidSample means the capture is malformed or empty. The same
	// sample will never succeed; the caller needs a new capture.
	ErrInvalidSample = errors.New("invalid biometric sample")
)

// Verifier proves a live human matches a registered identity. Implementations
// never return a partially populated result: on error the result is nil.
type Verifier interface {
	Verify(ctx context.Context, claimedIdentity string, sample []byte) (*models.VerificationResult, error)
}

// identityKey derives the stable dedup key from the claimed identity and the
// matched enrollment template. Keccak keeps the key format aligned with the
// ledger's address space tooling.
func identityKey(claimedIdentity, matchedTemplate string) string {
	return hexutil.Encode(crypto.Keccak256([]byte(claimedIdentity), []byte(matchedTemplate)))
}

// newResult applies the inclusive threshold rule shared by both
// implementations: verified iff score >= threshold and liveness passed.
func newResult(claimedIdentity, matchedTemplate string, score float64, livenessFailed bool, threshold float64, now time.Time) *models.VerificationResult {
	return &models.VerificationResult{
		IdentityKey:     identityKey(claimedIdentity, matchedTemplate),
		SimilarityScore: score,
		Verified:        score >= threshold && !livenessFailed,
		MatchedTemplate: matchedTemplate,
		CapturedAt:      now,
	}
}
