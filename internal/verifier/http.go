package verifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ballotgate/internal/vote/models"
	"ballotgate/pkg/platform/circuit"
)

// HTTPVerifier calls the face-verification backend. The backend compares the
// capture against its enrolled templates and reports the best match with a
// similarity percentage; the verified decision is made here, not trusted from
// the service, so the threshold lives in one place.
//
// A circuit breaker fronts the backend: once it trips on consecutive
// unavailability the verifier fails fast instead of holding every capture
// open for the full request timeout, then lets a trial request through after a cooldown.
type HTTPVerifier struct {
	baseURL   string
	threshold float64
	client    *http.Client
	breaker   *circuit.Breaker
}

// NewHTTP builds a verifier client with a hard request timeout so a slow
// service cannot block a session indefinitely.
func NewHTTP(baseURL string, threshold float64, timeout time.Duration) *HTTPVerifier {
	return &HTTPVerifier{
		baseURL:   baseURL,
		threshold: threshold,
		client:    &http.Client{Timeout: timeout},
		breaker:   circuit.New("verifier"),
	}
}

type verifyRequest struct {
	ImageBase64     string `json:"image_base64"`
	ClaimedIdentity string `json:"claimed_identity,omitempty"`
}

// verifyResponse mirrors the backend payload. Similarity is a percentage.
type verifyResponse struct {
	Name           string  `json:"name"`
	Distance       float64 `json:"distance"`
	Similarity     float64 `json:"similarity"`
	Verified       bool    `json:"verified"`
	LivenessFailed bool    `json:"liveness_failed"`
}

func (v *HTTPVerifier) Verify(ctx context.Context, claimedIdentity string, sample []byte) (*models.VerificationResult, error) {
	if len(sample) == 0 {
		return nil, ErrInvalidSample
	}
	if !v.breaker.Allow() {
		return nil, fmt.Errorf("%w: verifier circuit open", ErrUnavailable)
	}

	body, err := json.Marshal(verifyRequest{
		ImageBase64:     base64.StdEncoding.EncodeToString(sample),
		ClaimedIdentity: claimedIdentity,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/verify-base64", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		// Timeouts and connection failures are both service unavailability
		// from the orchestrator's point of view.
		v.breaker.RecordFailure()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		v.breaker.RecordFailure()
		return nil, fmt.Errorf("%w: verifier returned %d", ErrUnavailable, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: verifier returned %d", ErrInvalidSample, resp.StatusCode)
	}

	var payload verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		v.breaker.RecordFailure()
		return nil, fmt.Errorf("%w: decode verify response: %v", ErrUnavailable, err)
	}

	score := payload.Similarity / 100.0
	if payload.Name != "" && (score < 0 || score > 1) {
		v.breaker.RecordFailure()
		return nil, fmt.Errorf("%w: similarity %f out of range", ErrUnavailable, payload.Similarity)
	}
	v.breaker.RecordSuccess()

	if payload.Name == "" {
		// No enrolled template matched at all.
		return newResult(claimedIdentity, "", 0, payload.LivenessFailed, v.threshold, time.Now()), nil
	}
	return newResult(claimedIdentity, payload.Name, score, payload.LivenessFailed, v.threshold, time.Now()), nil
}

// IsRetryable reports whether a verify error may succeed with a fresh capture
// against the same service.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
