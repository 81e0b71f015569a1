package migrate

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func TestMigrateCreatesTasksTable(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	require.NoError(t, Migrate(dbPath))

	_, err := os.Stat(dbPath)
	require.NoError(t, err)

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var tableName string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='tasks'`).Scan(&tableName)
	require.NoError(t, err)
	require.Equal(t, "tasks", tableName)

	var indexName string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type='index' AND name='idx_tasks_status_leased_until'`).
		Scan(&indexName)
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = '0001_init.sql'`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestMigrateIsIdempotent(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	require.NoError(t, Migrate(dbPath))
	require.NoError(t, Migrate(dbPath))

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count))

	entries, err := migrations.ReadDir("sql")
	require.NoError(t, err)
	require.Equal(t, len(entries), count)
}

func TestTasksTableInsert(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	require.NoError(t, Migrate(dbPath))

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO tasks (prompt, type, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		"hi", "chat", "queued", 0, 0)
	require.NoError(t, err)

	var prompt string
	require.NoError(t, db.QueryRow(`SELECT prompt FROM tasks WHERE task_id = 1`).Scan(&prompt))
	require.Equal(t, "hi", prompt)
}
