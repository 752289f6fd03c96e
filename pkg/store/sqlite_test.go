package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Each connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteApprovalStore(t *testing.T) {
	s, err := NewSQLiteApprovalStore(openSQLite(t))
	require.NoError(t, err)
	approvalStoreContract(t, s)
}

func TestSQLitePackLedger(t *testing.T) {
	l := NewSQLPackLedger(openSQLite(t), DialectSQLite)
	require.NoError(t, l.Migrate(context.Background()))
	packLedgerContract(t, l)
}
