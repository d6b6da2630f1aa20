// Package cursorstore implements the Sync Cursor Store (C4): the
// per-account opaque cursor marker the Mailbox Sync Engine reads before
// a pass and advances after committing a batch.
package cursorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/domain"
)

// ErrNotFound signals a fresh account with no prior cursor — the Mailbox
// Sync Engine treats this as "perform a bootstrap listing" (spec.md
// §4.1 step 1).
var ErrNotFound = errors.New("cursorstore: no cursor for account")

// Store is the Sync Cursor Store contract.
type Store interface {
	// Get returns the current cursor for accountID, or ErrNotFound.
	Get(ctx context.Context, accountID string) (domain.SyncCursor, error)
	// Advance upserts the cursor to value, recording updated_at=now.
	// Called only after the batch it demarcates has been durably
	// committed (spec.md §3 Sync Cursor invariant: monotonic advance).
	Advance(ctx context.Context, accountID, value string) error
}

// PostgresStore implements Store against PostgreSQL, table
// gmail_sync_state (spec.md §6 persisted state layout).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore builds a PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Get(ctx context.Context, accountID string) (domain.SyncCursor, error) {
	var c domain.SyncCursor
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, cursor_value, updated_at FROM gmail_sync_state WHERE account_id = $1
	`, accountID).Scan(&c.AccountID, &c.CursorValue, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SyncCursor{}, ErrNotFound
	}
	if err != nil {
		return domain.SyncCursor{}, fmt.Errorf("cursorstore: get: %w", err)
	}
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func (s *PostgresStore) Advance(ctx context.Context, accountID, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gmail_sync_state (account_id, cursor_value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (account_id) DO UPDATE SET cursor_value = EXCLUDED.cursor_value, updated_at = NOW()
	`, accountID, value)
	if err != nil {
		return fmt.Errorf("cursorstore: advance: %w", err)
	}
	return nil
}
