package wallet

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"ballotgate/internal/vote/models"
)

// ApproveFunc decides whether the key holder approves an authorization
// request. It typically bridges to a UI prompt; returning false maps to
// ErrUserRejected.
type ApproveFunc func(ctx context.Context, sessionID uuid.UUID) (bool, error)

// PromptWallet gates an inner provider behind an approval callback, modelling
// the wallet popup a voter can accept or dismiss.
type PromptWallet struct {
	inner   Provider
	approve ApproveFunc
}

func NewPromptWallet(inner Provider, approve ApproveFunc) *PromptWallet {
	return &PromptWallet{inner: inner, approve: approve}
}

func (w *PromptWallet) Authorize(ctx context.Context, sessionID uuid.UUID) (*models.Authorization, error) {
	ok, err := w.approve(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if !ok {
		return nil, ErrUserRejected
	}
	return w.inner.Authorize(ctx, sessionID)
}
