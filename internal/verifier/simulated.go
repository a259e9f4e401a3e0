package verifier

import (
	"context"
	"time"

	"ballotgate/internal/vote/models"
)

// SimulatedVerifier stands in for the biometric backend in demo deployments.
// The score is produced by a pluggable function so tests can drive boundary
// and failure cases deterministically.
type SimulatedVerifier struct {
	threshold float64
	scoreFn   func(claimedIdentity string, sample []byte) float64
}

// NewSimulated returns a verifier that accepts every non-empty capture with a
// comfortable score.
func NewSimulated(threshold float64) *SimulatedVerifier {
	return &SimulatedVerifier{
		threshold: threshold,
		scoreFn: func(string, []byte) float64 {
			return 0.92
		},
	}
}

// NewSimulatedWithScore fixes the score function, for tests.
func NewSimulatedWithScore(threshold float64, scoreFn func(claimedIdentity string, sample []byte) float64) *SimulatedVerifier {
	return &SimulatedVerifier{threshold: threshold, scoreFn: scoreFn}
}

func (v *SimulatedVerifier) Verify(_ context.Context, claimedIdentity string, sample []byte) (*models.VerificationResult, error) {
	if len(sample) == 0 {
		return nil, ErrInvalidSample
	}
	score := v.scoreFn(claimedIdentity, sample)
	// The simulated template is the claimed identity itself, so the identity
	// key stays stable across captures for the same voter.
	return newResult(claimedIdentity, claimedIdentity, score, false, v.threshold, time.Now()), nil
}
