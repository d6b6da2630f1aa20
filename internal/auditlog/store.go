// Package auditlog implements the audit trail SPEC_FULL.md §12 item 5
// commits to: one audit_log row per sync attempt, successful or not
// (account_id, status, new_count, processed_count, error, timestamp).
// Grounded on the teacher's other narrow *store packages (emailstore,
// jobstore): a small interface plus a *sql.DB-backed implementation, kept
// separate from internal/syncengine so the Engine itself stays testable
// with plain fakes.
package auditlog

import (
	"context"
	"database/sql"
	"fmt"
)

// Entry is one row of the audit trail.
type Entry struct {
	AccountID      string
	Status         string
	NewCount       int
	ProcessedCount int
	Error          string
}

// Store is the audit trail contract.
type Store interface {
	// Record appends one audit_log row for a completed (or failed) sync
	// attempt. Record itself must not fail the sync pass it's auditing —
	// callers log a Record error but still return the pass's own result.
	Record(ctx context.Context, e Entry) error
}

// PostgresStore implements Store against the audit_log table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore builds a PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Record(ctx context.Context, e Entry) error {
	var errText sql.NullString
	if e.Error != "" {
		errText = sql.NullString{String: e.Error, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (account_id, status, new_count, processed_count, error, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, e.AccountID, e.Status, e.NewCount, e.ProcessedCount, errText)
	if err != nil {
		return fmt.Errorf("auditlog: record: %w", err)
	}
	return nil
}
