package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const createQueriesTable = `
CREATE TABLE IF NOT EXISTS queries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query_original TEXT NOT NULL,
	query_normalized TEXT NOT NULL,
	query_hash TEXT NOT NULL UNIQUE,
	embedding BLOB,
	response TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	last_accessed INTEGER NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 1
);
`

const createQueriesIndexes = `
CREATE INDEX IF NOT EXISTS idx_query_hash ON queries(query_hash);
CREATE INDEX IF NOT EXISTS idx_created_at ON queries(created_at);
CREATE INDEX IF NOT EXISTS idx_access_count ON queries(access_count);
`

const createStatsTable = `
CREATE TABLE IF NOT EXISTS cache_stats (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	hit_count INTEGER NOT NULL DEFAULT 0,
	miss_count INTEGER NOT NULL DEFAULT 0
);
INSERT OR IGNORE INTO cache_stats (id, hit_count, miss_count) VALUES (1, 0, 0);
`

// migrate creates any missing tables and indexes. It never drops data and is
// safe to run on every open.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createQueriesTable); err != nil {
		return fmt.Errorf("create queries table: %w", err)
	}

	// Databases written before similarity search have no embedding column.
	ok, err := columnExists(ctx, db, "queries", "embedding")
	if err != nil {
		return err
	}
	if !ok {
		if _, err := db.ExecContext(ctx, `ALTER TABLE queries ADD COLUMN embedding BLOB`); err != nil {
			return fmt.Errorf("add embedding column: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, createQueriesIndexes); err != nil {
		return fmt.Errorf("create queries indexes: %w", err)
	}
	if _, err := db.ExecContext(ctx, createStatsTable); err != nil {
		return fmt.Errorf("create stats table: %w", err)
	}
	return nil
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("scan table info: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
