package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SearchHit is one full-text match over chunk text.
type SearchHit struct {
	ChunkID string
	WorkID  string
	SceneID string
	Idx     int
	Start   int
	End     int
	Text    string
	Score   float64
}

// SearchChunks runs an FTS5 MATCH over chunk text, most relevant first.
// A non-empty workID narrows the search to one work. Score is the negated
// bm25 rank, so larger is better. Malformed query syntax surfaces as an
// error from the MATCH itself.
func (s *Store) SearchChunks(ctx context.Context, query, workID string, limit, offset int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT c.id, c.work_id, c.scene_id, c.idx, c.char_start, c.char_end, c.text, f.rank
		FROM chunk_fts f
		JOIN chunk c ON c.rowid = f.rowid
		WHERE chunk_fts MATCH ?`
	args := []any{query}
	if workID != "" {
		q += " AND c.work_id = ?"
		args = append(args, workID)
	}
	q += " ORDER BY f.rank LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var (
			h          SearchHit
			sceneID    sql.NullString
			start, end sql.NullInt64
			rank       float64
		)
		if err := rows.Scan(&h.ChunkID, &h.WorkID, &sceneID, &h.Idx, &start, &end, &h.Text, &rank); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		h.SceneID = sceneID.String
		h.Start = int(start.Int64)
		h.End = int(end.Int64)
		h.Score = -rank
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// RebuildFTS repopulates the full-text index from the chunk table. The
// triggers keep it fresh during normal operation; this covers databases
// whose chunks predate the index.
func (s *Store) RebuildFTS(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "INSERT INTO chunk_fts(chunk_fts) VALUES ('rebuild')"); err != nil {
		return fmt.Errorf("rebuild chunk_fts: %w", err)
	}
	return nil
}
