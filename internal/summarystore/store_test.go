package summarystore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/domain"
)

func TestPostgresStore_Commit_ConflictIsSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	store := NewPostgresStore(db)

	// ON CONFLICT DO NOTHING returns RowsAffected=0 when a concurrent
	// worker already committed the same key — Commit must still report
	// no error, per spec.md §4.4 step 7.
	mock.ExpectExec("INSERT INTO email_ai_summaries").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.Commit(context.Background(), domain.Summary{
		AccountID: "acct1", ProviderMessageID: "msg1", PromptVersion: "v1", Model: "m",
		InputHash: "h", SummaryStruct: domain.SummaryStruct{Overview: "ov", Urgency: domain.UrgencyLow},
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error on conflict: %v", err)
	}
}

func TestPostgresStore_GetByHash_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	store := NewPostgresStore(db)

	mock.ExpectQuery("SELECT account_id, provider_message_id, prompt_version, model, input_hash, summary_json, summary_text, created_at").
		WithArgs("acct1", "msg1", "v1", "h1").
		WillReturnError(sql.ErrNoRows)

	_, err = store.GetByHash(context.Background(), "acct1", "msg1", "v1", "h1")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
