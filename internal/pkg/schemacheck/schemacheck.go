// Package schemacheck implements the startup fail-fast gate spec.md §6
// requires: "if the expected [schema_version] version is absent, the
// process exits." Grounded on the teacher's cmd/server/main.go
// checkPortAvailable pre-flight check — same shape (a single blocking
// check before any other service starts, a fatal log on failure),
// generalized from a TCP port probe to a database row probe.
package schemacheck

import (
	"context"
	"database/sql"
	"fmt"
)

// ExpectedVersion is the schema_version this binary was built against.
// Bump it alongside new migrations under migrations/.
const ExpectedVersion = 1

// Verify queries the schema_version table and returns an error unless a
// row with exactly ExpectedVersion is present. Both cmd/server and
// cmd/worker call this once at startup, before constructing any store.
func Verify(ctx context.Context, db *sql.DB) error {
	var version int
	err := db.QueryRowContext(ctx, `SELECT version FROM schema_version WHERE version = $1`, ExpectedVersion).Scan(&version)
	if err == sql.ErrNoRows {
		return fmt.Errorf("schemacheck: schema_version %d not found — run cmd/migrate first", ExpectedVersion)
	}
	if err != nil {
		return fmt.Errorf("schemacheck: query schema_version: %w", err)
	}
	return nil
}
