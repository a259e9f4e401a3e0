package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and external clients return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record, session, or transaction does not exist
// - ErrExpired: session passed its deadline
// - ErrAlreadyUsed: identity key already holds a vote reservation
// - ErrInvalidState: attempted backward or terminal-overwriting status move
// - ErrUnavailable: external service (verifier, wallet, ledger) temporarily down
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
