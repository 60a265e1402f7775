package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := "SELECT * FROM t WHERE a = ? AND b = ?"
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", Postgres.Rebind(q))
}

func TestOpen_SQLite(t *testing.T) {
	db, dialect, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "coachd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	assert.Equal(t, SQLite, dialect)
	_, err = db.Exec("CREATE TABLE ping (id INTEGER)")
	require.NoError(t, err)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, _, err := Open(context.Background(), "oracle", "")
	require.Error(t, err)
}
