// Package session implements checkpoint persistence: after every completed
// batch the scheduler records how far a run has progressed so a restart on
// the same input can skip already-covered batches (spec §4.4, §8 scenario 6).
// It shares the embedded database with internal/cache (spec §6).
package session

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Checkpoint is one row of the sessions table.
type Checkpoint struct {
	InputFingerprint string
	LastBatchIndex   int
	TokensIn         int
	TokensOut        int
	LastError        string
	UpdatedAt        time.Time
}

// Store persists Checkpoints against a shared *sql.DB (typically the same
// handle as internal/cache's L2, opened via cache.Cache.DB()).
type Store struct {
	db *sql.DB
}

// New wraps an already-open database handle. The sessions table is created
// by internal/cache's schema init; New does not create it again so the two
// packages never race on DDL.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save upserts the checkpoint for a run's input fingerprint.
func (s *Store) Save(ctx context.Context, cp Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (input_fingerprint, last_batch_index, tokens_in, tokens_out, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(input_fingerprint) DO UPDATE SET
			last_batch_index = excluded.last_batch_index,
			tokens_in        = excluded.tokens_in,
			tokens_out       = excluded.tokens_out,
			last_error       = excluded.last_error,
			updated_at       = excluded.updated_at`,
		cp.InputFingerprint, cp.LastBatchIndex, cp.TokensIn, cp.TokensOut, nullIfEmpty(cp.LastError), cp.UpdatedAt)
	return err
}

// Load returns the checkpoint for an input fingerprint, or (Checkpoint{},
// false) if the run has never been checkpointed — a fresh run.
func (s *Store) Load(ctx context.Context, inputFingerprint string) (Checkpoint, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT input_fingerprint, last_batch_index, tokens_in, tokens_out, last_error, updated_at FROM sessions WHERE input_fingerprint = ?`,
		inputFingerprint)
	var cp Checkpoint
	var lastErr sql.NullString
	if err := row.Scan(&cp.InputFingerprint, &cp.LastBatchIndex, &cp.TokensIn, &cp.TokensOut, &lastErr, &cp.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, err
	}
	cp.LastError = lastErr.String
	return cp, true, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
