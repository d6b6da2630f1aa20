// Package emailstore implements the Email Store (C3): a durable table of
// normalized emails keyed by (account_id, provider_message_id). Insert
// only — content fields are immutable once committed.
package emailstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/domain"
)

// ErrNotFound is returned by Get when no row matches the key.
var ErrNotFound = errors.New("emailstore: email not found")

// Store is the Email Store contract (spec.md §3 "Email").
type Store interface {
	// Insert attempts to insert email, ignoring a uniqueness conflict on
	// (account_id, provider_message_id). Returns inserted=false when the
	// row already existed (spec.md §4.1 step 5: "duplicate-safe re-sync").
	Insert(ctx context.Context, email domain.Email) (inserted bool, err error)
	// Get retrieves one email by its natural key.
	Get(ctx context.Context, accountID, providerMessageID string) (domain.Email, error)
	// List returns emails for an account (or all accounts if accountID is
	// empty), most recent first — backs the read-only /api/emails and
	// /api/emails-with-summaries endpoints. offset supports page-based
	// listing; pass 0 for the first page.
	List(ctx context.Context, accountID string, limit, offset int) ([]domain.Email, error)
	// Count returns the total number of stored emails for an account (or
	// all accounts if accountID is empty), for pagination metadata.
	Count(ctx context.Context, accountID string) (int64, error)
	// Accounts returns the distinct account_id values with at least one
	// stored email. Account lifecycle itself is an external collaborator
	// (spec.md §1 Non-goals); this is the minimal read the core can
	// offer the /api/accounts endpoint without owning an accounts table.
	Accounts(ctx context.Context) ([]string, error)
}

// PostgresStore implements Store against PostgreSQL. Grounded on the
// teacher's internal/repository/postgres/campaign.go: a thin struct
// wrapping *sql.DB, parameterized queries, errors wrapped with context.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore builds a PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Insert(ctx context.Context, e domain.Email) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO emails (account_id, provider_message_id, thread_id, subject, sender, received_at, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6 AT TIME ZONE 'UTC', $7, NOW())
		ON CONFLICT (account_id, provider_message_id) DO NOTHING
	`, e.AccountID, e.ProviderMessageID, nullIfEmpty(e.ThreadID), e.Subject, e.Sender, e.ReceivedAt.UTC(), e.Body)
	if err != nil {
		return false, fmt.Errorf("emailstore: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("emailstore: rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) Get(ctx context.Context, accountID, providerMessageID string) (domain.Email, error) {
	var e domain.Email
	var threadID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, provider_message_id, COALESCE(thread_id, ''), subject, sender, received_at, body, created_at
		FROM emails
		WHERE account_id = $1 AND provider_message_id = $2
	`, accountID, providerMessageID).Scan(
		&e.AccountID, &e.ProviderMessageID, &threadID, &e.Subject, &e.Sender, &e.ReceivedAt, &e.Body, &e.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Email{}, ErrNotFound
	}
	if err != nil {
		return domain.Email{}, fmt.Errorf("emailstore: get: %w", err)
	}
	e.ThreadID = threadID.String
	e.ReceivedAt = e.ReceivedAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func (s *PostgresStore) List(ctx context.Context, accountID string, limit, offset int) ([]domain.Email, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	var rows *sql.Rows
	var err error
	if accountID == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT account_id, provider_message_id, COALESCE(thread_id, ''), subject, sender, received_at, body, created_at
			FROM emails ORDER BY received_at DESC LIMIT $1 OFFSET $2
		`, limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT account_id, provider_message_id, COALESCE(thread_id, ''), subject, sender, received_at, body, created_at
			FROM emails WHERE account_id = $1 ORDER BY received_at DESC LIMIT $2 OFFSET $3
		`, accountID, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("emailstore: list: %w", err)
	}
	defer rows.Close()

	var out []domain.Email
	for rows.Next() {
		var e domain.Email
		var threadID sql.NullString
		if err := rows.Scan(&e.AccountID, &e.ProviderMessageID, &threadID, &e.Subject, &e.Sender, &e.ReceivedAt, &e.Body, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("emailstore: scan: %w", err)
		}
		e.ThreadID = threadID.String
		e.ReceivedAt = e.ReceivedAt.UTC()
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context, accountID string) (int64, error) {
	var n int64
	var err error
	if accountID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails WHERE account_id = $1`, accountID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("emailstore: count: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Accounts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT account_id FROM emails ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("emailstore: accounts: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("emailstore: scan account: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// IsUniqueViolation reports whether err is a Postgres unique_violation,
// for callers that need to distinguish it from other write failures
// (e.g. the Summary Store's "conflict is success" rule, spec.md §4.4
// step 7) when not relying on ON CONFLICT DO NOTHING directly.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
