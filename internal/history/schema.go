package history

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// ledgerVersion is the layout of the builds table this release writes.
const ledgerVersion = 1

// ErrSchemaMismatch reports a build ledger written by another release.
var ErrSchemaMismatch = errors.New("build ledger version mismatch")

// initSchema creates the builds ledger on first use and refuses a ledger of
// any other version. Nothing is migrated: the ledger only mirrors outcomes
// the job server already holds, so recreating it loses no job state.
func (s *Store) initSchema(ctx context.Context) error {
	var present int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&present); err != nil {
		return fmt.Errorf("inspect build ledger: %w", err)
	}
	if present == 0 {
		return s.createLedger(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read build ledger version: %w", err)
	}
	if version == ledgerVersion {
		return nil
	}

	hint := fmt.Sprintf("move %s out of state_dir to start a fresh ledger", s.path)
	if version > ledgerVersion {
		hint = "upgrade cycaxworker or " + hint
	}
	return fmt.Errorf("%w: %s has version %d, this worker writes %d; %s",
		ErrSchemaMismatch, s.path, version, ledgerVersion, hint)
}

func (s *Store) createLedger(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger setup: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create builds table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", ledgerVersion); err != nil {
		return fmt.Errorf("stamp build ledger version: %w", err)
	}
	return tx.Commit()
}
