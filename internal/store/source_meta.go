package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mediascribe/api/internal/model"
)

// UpsertSourceMeta creates or updates the metadata row for a source.
func (s *Store) UpsertSourceMeta(m model.SourceMeta) error {
	var expires interface{}
	if m.ExpiresAt != nil {
		expires = *m.ExpiresAt
	}
	query := `
	INSERT INTO source_meta (source_id, title, policy, expires_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(source_id) DO UPDATE SET
		title = CASE WHEN excluded.title != '' THEN excluded.title ELSE source_meta.title END,
		policy = excluded.policy,
		expires_at = excluded.expires_at
	`
	if _, err := s.db.Exec(query, m.SourceID, m.Title, m.Policy, expires); err != nil {
		return fmt.Errorf("failed to upsert source meta: %w", err)
	}
	return nil
}

// SetSourceTitle records the display title without touching the policy.
func (s *Store) SetSourceTitle(sourceID, title string) error {
	query := `
	INSERT INTO source_meta (source_id, title)
	VALUES (?, ?)
	ON CONFLICT(source_id) DO UPDATE SET
		title = CASE WHEN excluded.title != '' THEN excluded.title ELSE source_meta.title END
	`
	if _, err := s.db.Exec(query, sourceID, title); err != nil {
		return fmt.Errorf("failed to set source title: %w", err)
	}
	return nil
}

// GetSourceMeta returns the metadata row for a source, or ErrNotFound.
func (s *Store) GetSourceMeta(sourceID string) (model.SourceMeta, error) {
	row := s.db.QueryRow(
		`SELECT source_id, title, policy, expires_at FROM source_meta WHERE source_id = ?`,
		sourceID,
	)
	var m model.SourceMeta
	var expires sql.NullTime
	err := row.Scan(&m.SourceID, &m.Title, &m.Policy, &expires)
	if err == sql.ErrNoRows {
		return model.SourceMeta{}, ErrNotFound
	}
	if err != nil {
		return model.SourceMeta{}, fmt.Errorf("failed to get source meta: %w", err)
	}
	if expires.Valid {
		t := expires.Time
		m.ExpiresAt = &t
	}
	return m, nil
}

// ListSourceMeta returns all source metadata keyed by source id.
func (s *Store) ListSourceMeta() (map[string]model.SourceMeta, error) {
	rows, err := s.db.Query(`SELECT source_id, title, policy, expires_at FROM source_meta`)
	if err != nil {
		return nil, fmt.Errorf("failed to list source meta: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.SourceMeta)
	for rows.Next() {
		var m model.SourceMeta
		var expires sql.NullTime
		if err := rows.Scan(&m.SourceID, &m.Title, &m.Policy, &expires); err != nil {
			continue
		}
		if expires.Valid {
			t := expires.Time
			m.ExpiresAt = &t
		}
		out[m.SourceID] = m
	}
	return out, rows.Err()
}

// SetSourcePolicy sets the per-source retention override. Policy "" clears
// the override so the source inherits the global policy again.
func (s *Store) SetSourcePolicy(sourceID, policy string, expiresAt *time.Time) error {
	var expires interface{}
	if expiresAt != nil {
		expires = *expiresAt
	}
	query := `
	INSERT INTO source_meta (source_id, policy, expires_at)
	VALUES (?, ?, ?)
	ON CONFLICT(source_id) DO UPDATE SET
		policy = excluded.policy,
		expires_at = excluded.expires_at
	`
	if _, err := s.db.Exec(query, sourceID, policy, expires); err != nil {
		return fmt.Errorf("failed to set source policy: %w", err)
	}
	return nil
}
