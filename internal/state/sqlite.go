package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps RunState in a SQLite database. Useful when the state
// should be inspected or edited with ordinary SQL tooling.
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore opens (and if needed creates) the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	// - _journal_mode=WAL: readers never block the single writer
	// - _busy_timeout=10000: wait up to 10 seconds when database is locked
	// - _txlock=immediate: take the write lock at BEGIN
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{sqlStore{
		db:           db,
		insertEntity: `INSERT INTO entity_state (scope, name, tries, last_execution) VALUES (?, ?, ?, ?)`,
		upsertMeta:   `INSERT OR REPLACE INTO run_meta (key, value) VALUES (?, ?)`,
	}}
	if _, err := db.Exec(entitySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}
