// Package testing provides test helpers shared across augur packages.
package testing

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/aristath/augur/internal/database"
)

// NewTestDB creates a file-backed SQLite database under t.TempDir and applies
// the embedded schema registered for name. The database is closed when the
// test finishes.
//
// Supported schema names:
//   - "forecast" - applies forecast_schema.sql
//   - Unknown names - creates empty database (no schema applied)
func NewTestDB(t *testing.T, name string) *database.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), fmt.Sprintf("test_%s.db", name)),
		Profile: database.ProfileStandard,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}
	t.Cleanup(func() {
		// Tests may close the database themselves
		_ = db.Close()
	})

	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}
	return db
}

// NewTestDBWithSchema creates a test database and executes schema on it
// instead of the embedded one.
func NewTestDBWithSchema(t *testing.T, name string, schema string) *database.DB {
	t.Helper()

	db := NewTestDB(t, name+"_custom")
	if schema == "" {
		return db
	}
	if _, err := db.Conn().Exec(schema); err != nil {
		t.Fatalf("Failed to execute custom schema for test database %s: %v", name, err)
	}
	return db
}
