package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestStore opens a file-backed store closed at test cleanup.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustExec(t *testing.T, db *sql.DB, query string) {
	t.Helper()
	_, err := db.Exec(query)
	require.NoError(t, err, query)
}

func readPragma(t *testing.T, db *sql.DB, name string) string {
	t.Helper()
	var value string
	require.NoError(t, db.QueryRow("PRAGMA "+name).Scan(&value))
	return value
}

func queryStrings(t *testing.T, db *sql.DB, query string, args ...any) []string {
	t.Helper()
	rows, err := db.Query(query, args...)
	require.NoError(t, err)
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		require.NoError(t, rows.Scan(&s))
		out = append(out, s)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestDSN(t *testing.T) {
	assert.Equal(t,
		"ledger.db?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL",
		dsn("ledger.db"))
	assert.Equal(t,
		"file:ledger.db?mode=rwc&_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL",
		dsn("file:ledger.db?mode=rwc"))
}

func TestOpen_CreatesFileWithGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	require.NoError(t, err)

	tip, err := s.LatestHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), tip)
}

func TestOpen_ReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	for range 3 {
		s, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, s.Close())
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	tables := queryStrings(t, s.db, "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name")
	assert.Equal(t, []string{"apps", "blobs", "blocks"}, tables)

	genesis := queryStrings(t, s.db, "SELECT height FROM blocks")
	assert.Equal(t, []string{"0"}, genesis)
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "ledger.db"))
	assert.Error(t, err)
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	tip, err := s.LatestHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), tip)
	assert.Equal(t, "1", readPragma(t, s.db, "foreign_keys"))
}

func TestClose(t *testing.T) {
	assert.NoError(t, (&Store{}).Close())

	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.NotPanics(t, func() { _ = s.Close() })
}

func TestOpen_ConnectionPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.pragma, func(t *testing.T) {
			assert.Equal(t, tt.want, readPragma(t, s.db, tt.pragma))
		})
	}
}

func TestSchema_Columns(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		table   string
		columns []string
	}{
		{"apps", []string{"id", "name"}},
		{"blocks", []string{"height"}},
		{"blobs", []string{"height", "app_id", "idx", "data", "digest"}},
	}
	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			columns := queryStrings(t, s.db, "SELECT name FROM pragma_table_info(?)", tt.table)
			assert.Equal(t, tt.columns, columns)
		})
	}
}

func TestSchema_Constraints(t *testing.T) {
	tests := []struct {
		name  string
		setup []string
		stmt  string
	}{
		{
			name: "blob slot is unique",
			setup: []string{
				"INSERT INTO apps (id, name) VALUES (1, 'demo')",
				"INSERT INTO blobs (height, app_id, idx, data, digest) VALUES (0, 1, 0, x'00', 'd')",
			},
			stmt: "INSERT INTO blobs (height, app_id, idx, data, digest) VALUES (0, 1, 0, x'01', 'd')",
		},
		{
			name:  "blob requires a sealed height",
			setup: []string{"INSERT INTO apps (id, name) VALUES (1, 'demo')"},
			stmt:  "INSERT INTO blobs (height, app_id, idx, data, digest) VALUES (9, 1, 0, x'00', 'd')",
		},
		{
			name:  "blob requires a registered app",
			setup: nil,
			stmt:  "INSERT INTO blobs (height, app_id, idx, data, digest) VALUES (0, 4, 0, x'00', 'd')",
		},
		{
			name:  "app names are unique",
			setup: []string{"INSERT INTO apps (name) VALUES ('demo')"},
			stmt:  "INSERT INTO apps (name) VALUES ('demo')",
		},
		{
			name:  "heights are non-negative",
			setup: nil,
			stmt:  "INSERT INTO blocks (height) VALUES (-1)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := createTestStore(t)
			for _, q := range tt.setup {
				mustExec(t, s.db, q)
			}
			_, err := s.db.Exec(tt.stmt)
			assert.Error(t, err)
		})
	}
}

func TestMigrate_FreshDatabaseIsCurrent(t *testing.T) {
	s := createTestStore(t)
	assert.Equal(t, "1", readPragma(t, s.db, "user_version"))
	assert.Equal(t, currentSchemaVersion, 1)
}

func TestMigrate_UpgradesVersionZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	mustExec(t, db, "CREATE TABLE apps (id INTEGER PRIMARY KEY, name TEXT NOT NULL UNIQUE)")
	mustExec(t, db, "CREATE TABLE blocks (height INTEGER PRIMARY KEY CHECK (height >= 0))")
	mustExec(t, db, `CREATE TABLE blobs (
		height INTEGER NOT NULL REFERENCES blocks(height),
		app_id INTEGER NOT NULL REFERENCES apps(id),
		idx INTEGER NOT NULL CHECK (idx >= 0),
		data BLOB NOT NULL,
		digest TEXT NOT NULL,
		PRIMARY KEY (height, app_id, idx))`)
	mustExec(t, db, "INSERT INTO blocks (height) VALUES (0), (1), (2)")
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "1", readPragma(t, s.db, "user_version"))
	indexes := queryStrings(t, s.db, "SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = 'blobs' AND sql IS NOT NULL")
	assert.Equal(t, []string{"idx_blobs_app_height"}, indexes)

	tip, err := s.LatestHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), tip)
}
