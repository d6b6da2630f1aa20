// Package summarystore implements the Summary Store (C6): a durable
// table of committed AI summaries keyed by
// (account_id, provider_message_id, prompt_version).
package summarystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/domain"
)

// ErrNotFound is returned by GetByHash and GetLatest when no summary
// exists for the key yet
// — the Sync Trigger API's summary-fetch endpoint reports this as
// {status: "pending"} rather than an error (spec.md §6).
var ErrNotFound = errors.New("summarystore: summary not found")

// Store is the Summary Store contract.
type Store interface {
	// GetByHash looks up an existing summary by its uniqueness key plus
	// input_hash — this is the Summarizer Worker's cache check
	// (spec.md §4.4 step 3).
	GetByHash(ctx context.Context, accountID, providerMessageID, promptVersion, inputHash string) (domain.Summary, error)
	// GetLatest returns the most recent summary for (account, message)
	// regardless of prompt_version, for the read-only summary-fetch
	// endpoint.
	GetLatest(ctx context.Context, accountID, providerMessageID string) (domain.Summary, error)
	// Commit inserts s. A uniqueness conflict on
	// (account_id, provider_message_id, prompt_version) is treated as
	// success — a concurrent worker already committed the same summary
	// (spec.md §4.4 step 7); the caller cannot tell the two cases apart
	// from the return value alone, by design (both mean "a summary now
	// exists").
	Commit(ctx context.Context, s domain.Summary) error
}

// PostgresStore implements Store against PostgreSQL, table
// email_ai_summaries.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore builds a PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) GetByHash(ctx context.Context, accountID, providerMessageID, promptVersion, inputHash string) (domain.Summary, error) {
	return s.queryOne(ctx, `
		SELECT account_id, provider_message_id, prompt_version, model, input_hash, summary_json, summary_text, created_at
		FROM email_ai_summaries
		WHERE account_id = $1 AND provider_message_id = $2 AND prompt_version = $3 AND input_hash = $4
	`, accountID, providerMessageID, promptVersion, inputHash)
}

func (s *PostgresStore) GetLatest(ctx context.Context, accountID, providerMessageID string) (domain.Summary, error) {
	return s.queryOne(ctx, `
		SELECT account_id, provider_message_id, prompt_version, model, input_hash, summary_json, summary_text, created_at
		FROM email_ai_summaries
		WHERE account_id = $1 AND provider_message_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, accountID, providerMessageID)
}

func (s *PostgresStore) queryOne(ctx context.Context, query string, args ...any) (domain.Summary, error) {
	var sum domain.Summary
	var structJSON []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&sum.AccountID, &sum.ProviderMessageID, &sum.PromptVersion, &sum.Model,
		&sum.InputHash, &structJSON, &sum.SummaryText, &sum.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Summary{}, ErrNotFound
	}
	if err != nil {
		return domain.Summary{}, fmt.Errorf("summarystore: query: %w", err)
	}
	if err := json.Unmarshal(structJSON, &sum.SummaryStruct); err != nil {
		return domain.Summary{}, fmt.Errorf("summarystore: decode summary_json: %w", err)
	}
	sum.CreatedAt = sum.CreatedAt.UTC()
	return sum, nil
}

func (s *PostgresStore) Commit(ctx context.Context, sum domain.Summary) error {
	structJSON, err := json.Marshal(sum.SummaryStruct)
	if err != nil {
		return fmt.Errorf("summarystore: encode summary_json: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO email_ai_summaries
			(account_id, provider_message_id, prompt_version, model, input_hash, summary_json, summary_text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (account_id, provider_message_id, prompt_version) DO NOTHING
	`, sum.AccountID, sum.ProviderMessageID, sum.PromptVersion, sum.Model, sum.InputHash, structJSON, sum.SummaryText)
	if err != nil {
		return fmt.Errorf("summarystore: commit: %w", err)
	}
	return nil
}
