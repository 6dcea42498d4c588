package state

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

const entitySchema = `
	CREATE TABLE IF NOT EXISTS entity_state (
		scope TEXT NOT NULL,
		name TEXT NOT NULL,
		tries INTEGER NOT NULL,
		last_execution BIGINT NOT NULL,
		PRIMARY KEY (scope, name)
	);

	CREATE TABLE IF NOT EXISTS run_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

const (
	metaConfigHash    = "config_hash"
	metaLastRun       = "last_run"
	metaLastDiscovery = "last_discovery"
)

// sqlStore holds the Load and Save logic shared by the SQL backends. The
// dialects differ only in placeholders and upsert syntax.
type sqlStore struct {
	db           *sql.DB
	insertEntity string
	upsertMeta   string
}

// Load implements Store
func (s *sqlStore) Load(ctx context.Context) (*RunState, error) {
	st := New()

	rows, err := s.db.QueryContext(ctx, `SELECT scope, name, tries, last_execution FROM entity_state`)
	if err != nil {
		return New(), fmt.Errorf("%w: failed to query entity state: %v", ErrCorrupt, err)
	}
	defer rows.Close()

	for rows.Next() {
		var scope, name string
		var e EntityState
		if err := rows.Scan(&scope, &name, &e.Tries, &e.LastExecution); err != nil {
			return New(), fmt.Errorf("%w: failed to scan entity state: %v", ErrCorrupt, err)
		}
		switch Scope(scope) {
		case ScopeJob, ScopeGroup:
			st.Put(Scope(scope), name, e)
		default:
			return New(), fmt.Errorf("%w: unknown scope %q for %q", ErrCorrupt, scope, name)
		}
	}
	if err := rows.Err(); err != nil {
		return New(), fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	meta, err := s.db.QueryContext(ctx, `SELECT key, value FROM run_meta`)
	if err != nil {
		return New(), fmt.Errorf("%w: failed to query run metadata: %v", ErrCorrupt, err)
	}
	defer meta.Close()

	for meta.Next() {
		var key, value string
		if err := meta.Scan(&key, &value); err != nil {
			return New(), fmt.Errorf("%w: failed to scan run metadata: %v", ErrCorrupt, err)
		}
		switch key {
		case metaConfigHash:
			st.ConfigHash = value
		case metaLastRun, metaLastDiscovery:
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return New(), fmt.Errorf("%w: %s is not a timestamp: %v", ErrCorrupt, key, err)
			}
			if key == metaLastRun {
				st.LastRun = n
			} else {
				st.LastDiscovery = n
			}
		}
	}
	if err := meta.Err(); err != nil {
		return New(), fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return st, nil
}

// Save replaces the stored state in one transaction
func (s *sqlStore) Save(ctx context.Context, st *RunState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entity_state`); err != nil {
		return fmt.Errorf("failed to clear entity state: %w", err)
	}

	insert, err := tx.PrepareContext(ctx, s.insertEntity)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer insert.Close()

	for name, e := range st.Jobs {
		if _, err := insert.ExecContext(ctx, string(ScopeJob), name, e.Tries, e.LastExecution); err != nil {
			return fmt.Errorf("failed to store job %s: %w", name, err)
		}
	}
	for name, e := range st.Groups {
		if _, err := insert.ExecContext(ctx, string(ScopeGroup), name, e.Tries, e.LastExecution); err != nil {
			return fmt.Errorf("failed to store group %s: %w", name, err)
		}
	}

	meta := map[string]string{
		metaConfigHash:    st.ConfigHash,
		metaLastRun:       strconv.FormatInt(st.LastRun, 10),
		metaLastDiscovery: strconv.FormatInt(st.LastDiscovery, 10),
	}
	for key, value := range meta {
		if _, err := tx.ExecContext(ctx, s.upsertMeta, key, value); err != nil {
			return fmt.Errorf("failed to store %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}
