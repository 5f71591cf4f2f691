package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_AppliesEmbeddedMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "meshchat.db")

	db, err := New(path, Migrations(), nil)
	require.NoError(t, err)

	var count int
	require.NoError(t, db.Conn.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('doc_updates','settings')",
	).Scan(&count))
	assert.Equal(t, 2, count)
	require.NoError(t, db.Close())

	// ikinci açılışta migration tekrar çalışmaz
	db, err = New(path, Migrations(), nil)
	require.NoError(t, err)
	defer db.Close()

	version, err := db.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestNew_FailedMigrationRollsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.db")

	_, err := New(path, fstest.MapFS{
		"001_a.sql": {Data: []byte("CREATE TABLE t (a TEXT);")},
		"002_b.sql": {Data: []byte("INSERT INTO t (a) VALUES ('x;y'); INSERT INTO missing VALUES (1);")},
	}, nil)
	require.ErrorContains(t, err, "002_b.sql (statement 2)")

	db, err := New(path, fstest.MapFS{
		"001_a.sql": {Data: []byte("CREATE TABLE t (a TEXT);")},
		"002_b.sql": {Data: []byte("-- fixed\nINSERT INTO t (a) VALUES ('x;y');")},
		"README.md": {Data: []byte("not a migration")},
	}, nil)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.Conn.QueryRow("SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 1, count)

	version, err := db.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestListMigrations_RejectsBadNames(t *testing.T) {
	_, err := listMigrations(fstest.MapFS{"init.sql": {Data: []byte("")}})
	assert.ErrorContains(t, err, "init.sql")

	_, err = listMigrations(fstest.MapFS{
		"001_a.sql": {Data: []byte("")},
		"1_b.sql":   {Data: []byte("")},
	})
	assert.ErrorContains(t, err, "share version 1")

	got, err := listMigrations(fstest.MapFS{
		"010_c.sql": {Data: []byte("")},
		"002_b.sql": {Data: []byte("")},
	})
	require.NoError(t, err)
	assert.Equal(t, []migration{{2, "002_b.sql"}, {10, "010_c.sql"}}, got)
}

func TestNew_MemoryPath(t *testing.T) {
	db, err := New(MemoryPath, Migrations(), nil)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Conn.Exec("INSERT INTO settings (key, value) VALUES ('dark_mode', 'true')")
	require.NoError(t, err)
	var v string
	require.NoError(t, db.Conn.QueryRow("SELECT value FROM settings WHERE key = 'dark_mode'").Scan(&v))
	assert.Equal(t, "true", v)
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("-- header; ignored\nCREATE TABLE a (x TEXT);\nINSERT INTO a VALUES ('it''s; fine -- kept');\n  ;SELECT 1 -- trailing")
	assert.Equal(t, []string{
		"CREATE TABLE a (x TEXT)",
		"INSERT INTO a VALUES ('it''s; fine -- kept')",
		"SELECT 1",
	}, got)
}

func TestWithTx(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "tx.db"), Migrations(), nil)
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	boom := errors.New("boom")
	err = WithTx(ctx, db.Conn, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO settings (key, value) VALUES ('k', 'v')"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.Conn.QueryRow("SELECT COUNT(*) FROM settings").Scan(&count))
	assert.Equal(t, 0, count, "rollback")

	require.NoError(t, WithTx(ctx, db.Conn, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO settings (key, value) VALUES ('k', 'v')")
		return err
	}))
	require.NoError(t, db.Conn.QueryRow("SELECT COUNT(*) FROM settings").Scan(&count))
	assert.Equal(t, 1, count)
}
