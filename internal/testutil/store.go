package testutil

import (
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/Skycomm/email-ai-manager/pkg/db"
)

// NewTestDB returns a migrated in-memory sqlite store closed at test end.
func NewTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	sdb, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { sdb.Close() })
	return sdb
}
