package warehouse

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestWarehouse opens an in-memory warehouse with the schema applied. The
// single-connection limit matters for :memory: databases: a second connection
// would see an empty database.
func newTestWarehouse(t *testing.T) *Warehouse {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Errorf("Failed to close database: %v", closeErr)
		}
	})

	wh := OpenDB(db)
	require.NoError(t, wh.Migrate(context.Background()))
	return wh
}
