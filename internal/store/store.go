package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store handles SQLite database operations for cache entries, source
// metadata, transcripts and summaries.
type Store struct {
	db *sql.DB
}

// Open opens the database at dbPath, creating parent directories and the
// schema as needed.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc.org/sqlite is not safe for concurrent writers on one conn
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS media_cache_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id TEXT NOT NULL,
		quality TEXT NOT NULL,
		path TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		cached_at DATETIME NOT NULL,
		UNIQUE(source_id, quality)
	);

	CREATE INDEX IF NOT EXISTS idx_cache_source ON media_cache_entries(source_id);
	CREATE INDEX IF NOT EXISTS idx_cache_cached_at ON media_cache_entries(cached_at);

	CREATE TABLE IF NOT EXISTS source_meta (
		source_id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		policy TEXT NOT NULL DEFAULT '',
		expires_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS transcripts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT '',
		engine TEXT NOT NULL DEFAULT '',
		format TEXT NOT NULL DEFAULT 'text',
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE(source_id, language, format)
	);

	CREATE TABLE IF NOT EXISTS summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id TEXT NOT NULL,
		prompt TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transcripts_source ON transcripts(source_id);
	CREATE INDEX IF NOT EXISTS idx_summaries_source ON summaries(source_id);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
