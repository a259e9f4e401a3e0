package voterecord

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ballotgate/internal/vote/models"
	"ballotgate/pkg/platform/sentinel"
)

// PostgresStore persists vote records in PostgreSQL. The identity_key primary
// key plus INSERT ... ON CONFLICT DO NOTHING gives Reserve its atomic
// check-and-insert even across service instances.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const voteRecordColumns = `identity_key, candidate_id, voter_address, status, transaction_ref, attempts, created_at, updated_at`

func (s *PostgresStore) Reserve(ctx context.Context, identityKey string, candidateID int64, voterAddress string) (*models.VoteRecord, error) {
	now := time.Now()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO vote_records (identity_key, candidate_id, voter_address, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $5)
		ON CONFLICT (identity_key) DO NOTHING
		RETURNING `+voteRecordColumns,
		identityKey, candidateID, voterAddress, string(models.VoteReserved), now)

	rec, err := scanVoteRecord(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reserve vote record: %w", err)
	}

	// Conflict: the identity already holds a row. Return it so the caller
	// can see its status.
	existing, err := s.Find(ctx, identityKey)
	if err != nil {
		return nil, fmt.Errorf("load conflicting vote record: %w", err)
	}
	return existing, sentinel.ErrAlreadyUsed
}

func (s *PostgresStore) Advance(ctx context.Context, identityKey string, status models.VoteStatus, transactionRef string) (*models.VoteRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin advance: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+voteRecordColumns+` FROM vote_records WHERE identity_key = $1 FOR UPDATE`,
		identityKey)
	rec, err := scanVoteRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("lock vote record: %w", err)
	}

	if rec.Status == models.VoteConfirmed && status == models.VoteConfirmed && rec.TransactionRef == transactionRef {
		return rec, tx.Commit()
	}
	if !advanceAllowed(rec.Status, status) {
		return nil, sentinel.ErrInvalidState
	}

	ref := rec.TransactionRef
	if transactionRef != "" {
		ref = transactionRef
	}
	now := time.Now()
	_, err = tx.ExecContext(ctx,
		`UPDATE vote_records SET status = $2, transaction_ref = $3, updated_at = $4 WHERE identity_key = $1`,
		identityKey, string(status), ref, now)
	if err != nil {
		return nil, fmt.Errorf("advance vote record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit advance: %w", err)
	}

	rec.Status = status
	rec.TransactionRef = ref
	rec.UpdatedAt = now
	return rec, nil
}

func (s *PostgresStore) IncrementAttempts(ctx context.Context, identityKey string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE vote_records SET attempts = attempts + 1, updated_at = $2 WHERE identity_key = $1`,
		identityKey, time.Now())
	if err != nil {
		return fmt.Errorf("increment attempts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment attempts: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, identityKey string) (*models.VoteRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+voteRecordColumns+` FROM vote_records WHERE identity_key = $1`,
		identityKey)
	rec, err := scanVoteRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find vote record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status models.VoteStatus) ([]*models.VoteRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+voteRecordColumns+` FROM vote_records WHERE status = $1 ORDER BY updated_at`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("list vote records: %w", err)
	}
	defer rows.Close()

	var out []*models.VoteRecord
	for rows.Next() {
		rec, err := scanVoteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vote record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list vote records: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVoteRecord(row rowScanner) (*models.VoteRecord, error) {
	var rec models.VoteRecord
	var status string
	err := row.Scan(&rec.IdentityKey, &rec.CandidateID, &rec.VoterAddress, &status,
		&rec.TransactionRef, &rec.Attempts, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = models.VoteStatus(status)
	return &rec, nil
}
