package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mediascribe/api/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// UpsertCacheEntry records a cached file for (source, quality). A re-download
// of the same variant replaces the previous row.
func (s *Store) UpsertCacheEntry(e model.CacheEntry) error {
	if e.CachedAt.IsZero() {
		e.CachedAt = time.Now()
	}
	query := `
	INSERT INTO media_cache_entries (source_id, quality, path, size, cached_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(source_id, quality) DO UPDATE SET
		path = excluded.path,
		size = excluded.size,
		cached_at = excluded.cached_at
	`
	if _, err := s.db.Exec(query, e.SourceID, e.Quality, e.Path, e.Size, e.CachedAt); err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}
	return nil
}

// GetCacheEntry looks up one exact (source, quality) variant.
func (s *Store) GetCacheEntry(sourceID, quality string) (model.CacheEntry, error) {
	row := s.db.QueryRow(
		`SELECT id, source_id, quality, path, size, cached_at
		 FROM media_cache_entries WHERE source_id = ? AND quality = ?`,
		sourceID, quality,
	)
	return scanCacheEntry(row)
}

// ListCacheEntriesBySource returns all cached variants of a source, most
// recently cached first.
func (s *Store) ListCacheEntriesBySource(sourceID string) ([]model.CacheEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, source_id, quality, path, size, cached_at
		 FROM media_cache_entries WHERE source_id = ? ORDER BY cached_at DESC`,
		sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	defer rows.Close()
	return collectCacheEntries(rows)
}

// ListCacheEntries returns every cache row, oldest first. The GC capacity
// pass relies on this ordering to evict the least recently cached files.
func (s *Store) ListCacheEntries() ([]model.CacheEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, source_id, quality, path, size, cached_at
		 FROM media_cache_entries ORDER BY cached_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	defer rows.Close()
	return collectCacheEntries(rows)
}

// DeleteCacheEntry removes the row for one (source, quality) variant.
func (s *Store) DeleteCacheEntry(sourceID, quality string) error {
	if _, err := s.db.Exec(
		`DELETE FROM media_cache_entries WHERE source_id = ? AND quality = ?`,
		sourceID, quality,
	); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// DeleteCacheEntriesBySource removes all rows for a source and returns how
// many were deleted.
func (s *Store) DeleteCacheEntriesBySource(sourceID string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM media_cache_entries WHERE source_id = ?`, sourceID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cache entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CacheTotals returns the row count, total byte size and per-quality byte
// sizes of the cache index.
func (s *Store) CacheTotals() (count int, total int64, byQuality map[string]int64, err error) {
	row := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM media_cache_entries`)
	if err = row.Scan(&count, &total); err != nil {
		return 0, 0, nil, fmt.Errorf("failed to read cache totals: %w", err)
	}

	rows, err := s.db.Query(`SELECT quality, COALESCE(SUM(size), 0) FROM media_cache_entries GROUP BY quality`)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("failed to read cache totals: %w", err)
	}
	defer rows.Close()

	byQuality = make(map[string]int64)
	for rows.Next() {
		var q string
		var sz int64
		if err := rows.Scan(&q, &sz); err != nil {
			continue
		}
		byQuality[q] = sz
	}
	return count, total, byQuality, nil
}

func scanCacheEntry(row *sql.Row) (model.CacheEntry, error) {
	var e model.CacheEntry
	err := row.Scan(&e.ID, &e.SourceID, &e.Quality, &e.Path, &e.Size, &e.CachedAt)
	if err == sql.ErrNoRows {
		return model.CacheEntry{}, ErrNotFound
	}
	if err != nil {
		return model.CacheEntry{}, fmt.Errorf("failed to scan cache entry: %w", err)
	}
	return e, nil
}

func collectCacheEntries(rows *sql.Rows) ([]model.CacheEntry, error) {
	var out []model.CacheEntry
	for rows.Next() {
		var e model.CacheEntry
		if err := rows.Scan(&e.ID, &e.SourceID, &e.Quality, &e.Path, &e.Size, &e.CachedAt); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
