// Package wallet is the authorization provider: the key holder that proves
// the verified voter approved casting this vote. Providers are external and
// untrusted for availability; nothing here caches credentials beyond the
// session being authorized.
package wallet

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"ballotgate/internal/vote/models"
)

var (
	// ErrUserRejected means the key holder declined this prompt. Retryable
	// only by re-prompting, not by replaying the same request.
	ErrUserRejected = errors.New("authorization rejected by user")
	// ErrProviderUnavailable means the wallet could not be reached. Retryable.
	ErrProviderUnavailable = errors.New("authorization provider unavailable")
)

// Provider produces a signed vote authorization bound to a session.
type Provider interface {
	Authorize(ctx context.Context, sessionID uuid.UUID) (*models.Authorization, error)
}
