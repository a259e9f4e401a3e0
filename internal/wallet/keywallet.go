package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"ballotgate/internal/vote/models"
)

// authorizationPrefix domain-separates vote authorizations from anything else
// this key might ever sign.
const authorizationPrefix = "ballotgate/vote-authorization/v1:"

// KeyWallet signs authorizations with a locally held secp256k1 key. It is the
// server-side stand-in for a browser wallet in demo deployments; the signature
// format matches what an externally owned account would produce.
type KeyWallet struct {
	key     *ecdsa.PrivateKey
	address string
}

// NewKeyWallet parses a hex-encoded private key (with or without 0x prefix).
// An empty key generates a fresh one, which is enough for demo mode where the
// ledger is in-memory anyway.
func NewKeyWallet(keyHex string) (*KeyWallet, error) {
	var key *ecdsa.PrivateKey
	var err error
	if keyHex == "" {
		key, err = crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate wallet key: %w", err)
		}
	} else {
		key, err = crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse wallet key: %w", err)
		}
	}
	return &KeyWallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}, nil
}

// Address returns the wallet's ledger address.
func (w *KeyWallet) Address() string { return w.address }

// PrivateKey exposes the signing key for ledger clients that submit
// transactions on the wallet's behalf.
func (w *KeyWallet) PrivateKey() *ecdsa.PrivateKey { return w.key }

func (w *KeyWallet) Authorize(ctx context.Context, sessionID uuid.UUID) (*models.Authorization, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	digest := crypto.Keccak256([]byte(authorizationPrefix), sessionID[:])
	sig, err := crypto.Sign(digest, w.key)
	if err != nil {
		return nil, fmt.Errorf("%w: sign authorization: %v", ErrProviderUnavailable, err)
	}
	return &models.Authorization{
		Address:   w.address,
		Signature: hexutil.Encode(sig),
	}, nil
}

// VerifyAuthorization checks that sig was produced over sessionID by the key
// behind address. Used by tests and by operators reconciling audit trails.
func VerifyAuthorization(sessionID uuid.UUID, address, sigHex string) (bool, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != 65 {
		return false, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	digest := crypto.Keccak256([]byte(authorizationPrefix), sessionID[:])
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return false, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex() == address, nil
}
