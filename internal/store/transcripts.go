package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Transcript is one persisted transcription result.
type Transcript struct {
	ID        int64     `json:"id"`
	SourceID  string    `json:"sourceId"`
	Language  string    `json:"language"`
	Engine    string    `json:"engine"`
	Format    string    `json:"format"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Summary is one persisted LLM analysis result.
type Summary struct {
	ID        int64     `json:"id"`
	SourceID  string    `json:"sourceId"`
	Prompt    string    `json:"prompt"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// SaveTranscript stores a transcription result, replacing any previous one
// for the same (source, language, format).
func (s *Store) SaveTranscript(t Transcript) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	query := `
	INSERT INTO transcripts (source_id, language, engine, format, content, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(source_id, language, format) DO UPDATE SET
		engine = excluded.engine,
		content = excluded.content,
		created_at = excluded.created_at
	`
	if _, err := s.db.Exec(query, t.SourceID, t.Language, t.Engine, t.Format, t.Content, t.CreatedAt); err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}
	return nil
}

// GetTranscript returns the stored transcript for (source, language, format),
// or ErrNotFound.
func (s *Store) GetTranscript(sourceID, language, format string) (Transcript, error) {
	row := s.db.QueryRow(
		`SELECT id, source_id, language, engine, format, content, created_at
		 FROM transcripts WHERE source_id = ? AND language = ? AND format = ?`,
		sourceID, language, format,
	)
	var t Transcript
	err := row.Scan(&t.ID, &t.SourceID, &t.Language, &t.Engine, &t.Format, &t.Content, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return Transcript{}, ErrNotFound
	}
	if err != nil {
		return Transcript{}, fmt.Errorf("failed to get transcript: %w", err)
	}
	return t, nil
}

// ListTranscripts returns transcripts for a source, newest first.
func (s *Store) ListTranscripts(sourceID string) ([]Transcript, error) {
	rows, err := s.db.Query(
		`SELECT id, source_id, language, engine, format, content, created_at
		 FROM transcripts WHERE source_id = ? ORDER BY created_at DESC`,
		sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	defer rows.Close()

	var out []Transcript
	for rows.Next() {
		var t Transcript
		if err := rows.Scan(&t.ID, &t.SourceID, &t.Language, &t.Engine, &t.Format, &t.Content, &t.CreatedAt); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// HasTranscript reports whether any transcript exists for the source.
func (s *Store) HasTranscript(sourceID string) (bool, error) {
	row := s.db.QueryRow(`SELECT COUNT(*) FROM transcripts WHERE source_id = ?`, sourceID)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("failed to count transcripts: %w", err)
	}
	return n > 0, nil
}

// SaveSummary stores an LLM analysis result.
func (s *Store) SaveSummary(sum Summary) error {
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = time.Now()
	}
	if _, err := s.db.Exec(
		`INSERT INTO summaries (source_id, prompt, content, created_at) VALUES (?, ?, ?, ?)`,
		sum.SourceID, sum.Prompt, sum.Content, sum.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}

// ListSummaries returns summaries for a source, newest first.
func (s *Store) ListSummaries(sourceID string) ([]Summary, error) {
	rows, err := s.db.Query(
		`SELECT id, source_id, prompt, content, created_at
		 FROM summaries WHERE source_id = ? ORDER BY created_at DESC`,
		sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ID, &sum.SourceID, &sum.Prompt, &sum.Content, &sum.CreatedAt); err != nil {
			continue
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}
