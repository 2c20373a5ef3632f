package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed catalog + rule-parse cache.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Open opens (creating if necessary) the catalog database at path and
// runs its bootstrap DDL.
func Open(path string, logger *log.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog db: %w", err)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[mbsagent] ", log.LstdFlags)
	}
	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating catalog db: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS items (
			code                    TEXT PRIMARY KEY,
			title                   TEXT NOT NULL,
			description             TEXT NOT NULL,
			item_group              TEXT,
			subgroup                TEXT,
			fee                     REAL,
			duration_min_minutes    INTEGER,
			duration_max_minutes    INTEGER,
			duration_min_inclusive  INTEGER,
			duration_max_inclusive  INTEGER
		)`,

		`CREATE VIRTUAL TABLE IF NOT EXISTS items_fts USING fts5(
			code,
			description,
			content=items,
			content_rowid=rowid,
			tokenize='porter unicode61'
		)`,

		`CREATE TRIGGER IF NOT EXISTS items_ai AFTER INSERT ON items BEGIN
			INSERT INTO items_fts(rowid, code, description)
			VALUES (new.rowid, new.code, new.description);
		END`,

		`CREATE TRIGGER IF NOT EXISTS items_ad AFTER DELETE ON items BEGIN
			INSERT INTO items_fts(items_fts, rowid, code, description)
			VALUES('delete', old.rowid, old.code, old.description);
		END`,

		`CREATE TRIGGER IF NOT EXISTS items_au AFTER UPDATE ON items BEGIN
			INSERT INTO items_fts(items_fts, rowid, code, description)
			VALUES('delete', old.rowid, old.code, old.description);
			INSERT INTO items_fts(rowid, code, description)
			VALUES (new.rowid, new.code, new.description);
		END`,

		// Rule Parser memoization, keyed by code + a hash of the inputs that
		// can change its output (description + structured duration hints).
		`CREATE TABLE IF NOT EXISTS rule_cache (
			code          TEXT PRIMARY KEY,
			content_hash  TEXT NOT NULL,
			rule_json     TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}
	return tx.Commit()
}

// Upsert inserts or replaces a catalog item.
func (s *Store) Upsert(ctx context.Context, item Item) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (code, title, description, item_group, subgroup, fee,
			duration_min_minutes, duration_max_minutes, duration_min_inclusive, duration_max_inclusive)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			title=excluded.title, description=excluded.description,
			item_group=excluded.item_group, subgroup=excluded.subgroup, fee=excluded.fee,
			duration_min_minutes=excluded.duration_min_minutes,
			duration_max_minutes=excluded.duration_max_minutes,
			duration_min_inclusive=excluded.duration_min_inclusive,
			duration_max_inclusive=excluded.duration_max_inclusive`,
		item.Code, item.Title, item.Description, item.Group, item.Subgroup, item.Fee,
		item.DurationMinMinutes, item.DurationMaxMinutes, item.DurationMinInclusive, item.DurationMaxInclusive,
	)
	if err != nil {
		return fmt.Errorf("upserting catalog item %s: %w", item.Code, err)
	}
	return nil
}

// Get fetches a single item by code. Returns (Item{}, false, nil) if
// absent.
func (s *Store) Get(ctx context.Context, code string) (Item, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT code, title, description, item_group, subgroup, fee,
			duration_min_minutes, duration_max_minutes, duration_min_inclusive, duration_max_inclusive
		FROM items WHERE code = ?`, code)
	var it Item
	if err := row.Scan(&it.Code, &it.Title, &it.Description, &it.Group, &it.Subgroup, &it.Fee,
		&it.DurationMinMinutes, &it.DurationMaxMinutes, &it.DurationMinInclusive, &it.DurationMaxInclusive); err != nil {
		if err == sql.ErrNoRows {
			return Item{}, false, nil
		}
		return Item{}, false, fmt.Errorf("fetching catalog item %s: %w", code, err)
	}
	return it, true, nil
}

// AllCodes returns every item code in the catalog, in insertion order.
// Used to seed a vector index from the full catalog at startup, where an
// FTS5 MATCH query (as used by Search) has no "match everything" form.
func (s *Store) AllCodes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code FROM items ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("listing catalog codes: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scanning catalog code: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// Search runs an FTS5 query over descriptions and returns matching codes
// ranked by FTS5 bm25, most relevant first, capped at limit.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT items.code FROM items_fts
		JOIN items ON items.rowid = items_fts.rowid
		WHERE items_fts MATCH ?
		ORDER BY bm25(items_fts)
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching catalog: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scanning catalog search result: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}
