package schemacheck

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestVerify_MissingRowFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT version FROM schema_version").
		WithArgs(ExpectedVersion).
		WillReturnError(sql.ErrNoRows)

	if err := Verify(context.Background(), db); err == nil {
		t.Fatal("expected error when schema_version row is missing")
	}
}

func TestVerify_PresentRowSucceeds(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"version"}).AddRow(ExpectedVersion)
	mock.ExpectQuery("SELECT version FROM schema_version").
		WithArgs(ExpectedVersion).
		WillReturnRows(rows)

	if err := Verify(context.Background(), db); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
