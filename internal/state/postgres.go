package state

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore keeps RunState in PostgreSQL so several hosts can share one
// database. Each host still needs its own rows, so point them at separate
// databases or schemas via the DSN's search_path.
type PostgresStore struct {
	sqlStore
}

// NewPostgresStore connects to dsn and creates the tables when missing
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A run is one short transaction, a small pool is plenty
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{sqlStore{
		db:           db,
		insertEntity: `INSERT INTO entity_state (scope, name, tries, last_execution) VALUES ($1, $2, $3, $4)`,
		upsertMeta: `INSERT INTO run_meta (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
	}}
	if _, err := db.Exec(entitySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}
