// Package store persists works, scenes, and chunks in SQLite.
//
// A single writer connection with WAL journaling; the schema is managed
// through embedded migrations plus a column backfill for databases created
// before the migration scheme existed.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by methods that need to distinguish a missing work
// from an empty result. Pointer-returning lookups return (nil, nil) instead.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database holding ingested works.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path, applies pragmas, and
// brings the schema up to date.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Set pragmas.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set foreign_keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set synchronous: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if err := ensureWorkColumns(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("backfill work columns: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Ready verifies the database is reachable and writable by exercising a
// scratch table.
func (s *Store) Ready(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS ready_probe (k INTEGER PRIMARY KEY, at TEXT)"); err != nil {
		return fmt.Errorf("create ready_probe: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "INSERT OR REPLACE INTO ready_probe (k, at) VALUES (1, strftime('%Y-%m-%dT%H:%M:%fZ','now'))"); err != nil {
		return fmt.Errorf("write ready_probe: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM ready_probe WHERE k = 1"); err != nil {
		return fmt.Errorf("clear ready_probe: %w", err)
	}
	return nil
}

// WorkInput carries the fields of a new work row. Optional text fields use
// the empty string for NULL.
type WorkInput struct {
	Title       string
	Author      string
	Source      string
	License     string
	RawText     []byte
	NormText    string
	ContentSHA1 string
}

// SceneInput is one scene span to persist. Offsets are byte offsets into the
// normalized text.
type SceneInput struct {
	Idx     int
	Start   int
	End     int
	Heading string
}

// ChunkInput is one chunk span to persist. Scene affiliation resolves in
// order: explicit SceneID, then SceneIdx (-1 means unset), then containment
// of Start in a scene span. Empty Text is materialized by slicing the work's
// normalized text.
type ChunkInput struct {
	Idx      int
	Start    int
	End      int
	SceneIdx int
	SceneID  string
	Text     string
}

// InsertResult reports the identifiers minted by InsertWork.
type InsertResult struct {
	WorkID string
	RunID  string
}

// InsertWork writes an ingest_run, the work, and its scenes and chunks in a
// single transaction. Scenes are stored in (idx, start) order with fresh
// UUIDs; chunk sha256 digests are computed over the stored text.
func (s *Store) InsertWork(ctx context.Context, w WorkInput, scenes []SceneInput, chunks []ChunkInput, runParams map[string]any) (InsertResult, error) {
	if runParams == nil {
		runParams = map[string]any{}
	}
	params, err := json.Marshal(runParams)
	if err != nil {
		return InsertResult{}, fmt.Errorf("marshal run params: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return InsertResult{}, fmt.Errorf("begin insert work: %w", err)
	}
	defer tx.Rollback()

	runID := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO ingest_run (id, params_json) VALUES (?, ?)",
		runID, string(params)); err != nil {
		return InsertResult{}, fmt.Errorf("insert ingest_run: %w", err)
	}

	workID := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO work (id, title, author, source, license, raw_text, norm_text, char_count, content_sha1, ingest_run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, workID, nullStr(w.Title), nullStr(w.Author), nullStr(w.Source), nullStr(w.License),
		w.RawText, w.NormText, len(w.NormText), nullStr(w.ContentSHA1), runID); err != nil {
		return InsertResult{}, fmt.Errorf("insert work: %w", err)
	}

	if err := insertSceneChunkRows(ctx, tx, workID, w.NormText, scenes, chunks); err != nil {
		return InsertResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{}, fmt.Errorf("commit insert work: %w", err)
	}
	return InsertResult{WorkID: workID, RunID: runID}, nil
}

// ReplaceSceneChunks rewrites a work's scene and chunk rows in one
// transaction, leaving the work row untouched. Returns ErrNotFound for an
// unknown work.
func (s *Store) ReplaceSceneChunks(ctx context.Context, workID string, scenes []SceneInput, chunks []ChunkInput) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin resegment: %w", err)
	}
	defer tx.Rollback()

	var normText sql.NullString
	err = tx.QueryRowContext(ctx, "SELECT norm_text FROM work WHERE id = ?", workID).Scan(&normText)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load work %q: %w", workID, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunk WHERE work_id = ?", workID); err != nil {
		return fmt.Errorf("delete chunks for %q: %w", workID, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM scene WHERE work_id = ?", workID); err != nil {
		return fmt.Errorf("delete scenes for %q: %w", workID, err)
	}
	if err := insertSceneChunkRows(ctx, tx, workID, normText.String, scenes, chunks); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit resegment: %w", err)
	}
	return nil
}

// insertSceneChunkRows inserts scene and chunk rows for workID inside tx.
// normText backs chunk text materialization for span-only chunks.
func insertSceneChunkRows(ctx context.Context, tx *sql.Tx, workID, normText string, scenes []SceneInput, chunks []ChunkInput) error {
	ordered := make([]SceneInput, len(scenes))
	copy(ordered, scenes)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Idx != ordered[j].Idx {
			return ordered[i].Idx < ordered[j].Idx
		}
		return ordered[i].Start < ordered[j].Start
	})

	sceneIDByIdx := make(map[int]string, len(ordered))
	if len(ordered) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO scene (id, work_id, chapter_id, idx, char_start, char_end, heading)
			VALUES (?, ?, NULL, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare scene insert: %w", err)
		}
		defer stmt.Close()
		for _, sc := range ordered {
			id := uuid.NewString()
			sceneIDByIdx[sc.Idx] = id
			if _, err := stmt.ExecContext(ctx, id, workID, sc.Idx, sc.Start, sc.End, nullStr(sc.Heading)); err != nil {
				return fmt.Errorf("insert scene %d: %w", sc.Idx, err)
			}
		}
	}

	sceneIDForSpan := func(start int) any {
		for _, sc := range ordered {
			if sc.Start <= start && start < sc.End {
				if id, ok := sceneIDByIdx[sc.Idx]; ok {
					return id
				}
			}
		}
		return nil
	}

	if len(chunks) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunk (id, work_id, scene_id, idx, char_start, char_end, token_start, token_end, text, sha256)
		VALUES (?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		var sceneID any
		switch {
		case c.SceneID != "":
			sceneID = c.SceneID
		case c.SceneIdx >= 0:
			if id, ok := sceneIDByIdx[c.SceneIdx]; ok {
				sceneID = id
			} else {
				sceneID = sceneIDForSpan(c.Start)
			}
		default:
			sceneID = sceneIDForSpan(c.Start)
		}

		text := c.Text
		if text == "" {
			text = sliceSafe(normText, c.Start, c.End)
		}
		sum := sha256.Sum256([]byte(text))

		if _, err := stmt.ExecContext(ctx, uuid.NewString(), workID, sceneID, c.Idx, c.Start, c.End, text, hex.EncodeToString(sum[:])); err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Idx, err)
		}
	}
	return nil
}

// FindDuplicate returns the id of an existing work with the same content
// digest, falling back to an exact normalized-text match when the digest
// misses. Empty string means no duplicate.
func (s *Store) FindDuplicate(ctx context.Context, contentSHA1, normText string) (string, error) {
	if contentSHA1 != "" {
		var id string
		err := s.db.QueryRowContext(ctx,
			"SELECT id FROM work WHERE content_sha1 = ? LIMIT 1", contentSHA1).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("find work by digest: %w", err)
		}
	}
	if normText != "" {
		var id string
		err := s.db.QueryRowContext(ctx,
			"SELECT id FROM work WHERE norm_text = ? LIMIT 1", normText).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("find work by text: %w", err)
		}
	}
	return "", nil
}

// Work is the metadata view of a work row. NULL columns read as zero values.
type Work struct {
	ID          string
	Title       string
	Author      string
	Source      string
	License     string
	CharCount   int
	ContentSHA1 string
	IngestRunID string
	CreatedAt   string
}

// GetWork returns a work's metadata, or (nil, nil) when the id is unknown.
func (s *Store) GetWork(ctx context.Context, id string) (*Work, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, author, source, license, char_count, content_sha1, ingest_run_id, created_at
		FROM work WHERE id = ?
	`, id)

	w, err := scanWork(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get work %q: %w", id, err)
	}
	return w, nil
}

// WorkText returns a work's normalized text. Returns ErrNotFound for an
// unknown work.
func (s *Store) WorkText(ctx context.Context, workID string) (string, error) {
	var text sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT norm_text FROM work WHERE id = ?", workID).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("work text %q: %w", workID, err)
	}
	return text.String, nil
}

// ListFilter narrows and pages ListWorks. Query and Author are substring
// matches; a zero Limit means 50, capped at 500.
type ListFilter struct {
	Query  string
	Author string
	Limit  int
	Offset int
}

// ListWorks returns works newest first.
func (s *Store) ListWorks(ctx context.Context, f ListFilter) ([]Work, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	q := "SELECT id, title, author, source, license, char_count, content_sha1, ingest_run_id, created_at FROM work"
	var (
		conds []string
		args  []any
	)
	if f.Query != "" {
		conds = append(conds, "title LIKE ?")
		args = append(args, "%"+f.Query+"%")
	}
	if f.Author != "" {
		conds = append(conds, "author LIKE ?")
		args = append(args, "%"+f.Author+"%")
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list works: %w", err)
	}
	defer rows.Close()

	var result []Work
	for rows.Next() {
		w, err := scanWork(rows)
		if err != nil {
			return nil, fmt.Errorf("scan work: %w", err)
		}
		result = append(result, *w)
	}
	return result, rows.Err()
}

// Scene is a stored scene span.
type Scene struct {
	ID      string
	WorkID  string
	Idx     int
	Start   int
	End     int
	Heading string
}

// Scenes returns a work's scenes in idx order.
func (s *Store) Scenes(ctx context.Context, workID string) ([]Scene, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, work_id, idx, char_start, char_end, heading
		FROM scene WHERE work_id = ? ORDER BY idx ASC
	`, workID)
	if err != nil {
		return nil, fmt.Errorf("list scenes for %q: %w", workID, err)
	}
	defer rows.Close()

	var result []Scene
	for rows.Next() {
		var (
			sc         Scene
			start, end sql.NullInt64
			heading    sql.NullString
		)
		if err := rows.Scan(&sc.ID, &sc.WorkID, &sc.Idx, &start, &end, &heading); err != nil {
			return nil, fmt.Errorf("scan scene: %w", err)
		}
		sc.Start = int(start.Int64)
		sc.End = int(end.Int64)
		sc.Heading = heading.String
		result = append(result, sc)
	}
	return result, rows.Err()
}

// Chunk is a stored chunk row.
type Chunk struct {
	ID      string
	WorkID  string
	SceneID string
	Idx     int
	Start   int
	End     int
	Text    string
	SHA256  string
}

// Chunks returns a work's chunks in idx order.
func (s *Store) Chunks(ctx context.Context, workID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, work_id, scene_id, idx, char_start, char_end, text, sha256
		FROM chunk WHERE work_id = ? ORDER BY idx ASC
	`, workID)
	if err != nil {
		return nil, fmt.Errorf("list chunks for %q: %w", workID, err)
	}
	defer rows.Close()

	var result []Chunk
	for rows.Next() {
		var (
			c          Chunk
			sceneID    sql.NullString
			start, end sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.WorkID, &sceneID, &c.Idx, &start, &end, &c.Text, &c.SHA256); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.SceneID = sceneID.String
		c.Start = int(start.Int64)
		c.End = int(end.Int64)
		result = append(result, c)
	}
	return result, rows.Err()
}

// Counts reports how many scene and chunk rows a work has.
type Counts struct {
	Scenes int
	Chunks int
}

// CountsFor returns scene and chunk counts for a work. Unknown works count
// as zero.
func (s *Store) CountsFor(ctx context.Context, workID string) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT count(*) FROM scene WHERE work_id = ?)
		     , (SELECT count(*) FROM chunk WHERE work_id = ?)
	`, workID, workID).Scan(&c.Scenes, &c.Chunks)
	if err != nil {
		return Counts{}, fmt.Errorf("count rows for %q: %w", workID, err)
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWork(row rowScanner) (*Work, error) {
	var (
		w                              Work
		title, author, source, license sql.NullString
		charCount                      sql.NullInt64
		sha1, runID, createdAt         sql.NullString
	)
	if err := row.Scan(&w.ID, &title, &author, &source, &license, &charCount, &sha1, &runID, &createdAt); err != nil {
		return nil, err
	}
	w.Title = title.String
	w.Author = author.String
	w.Source = source.String
	w.License = license.String
	w.CharCount = int(charCount.Int64)
	w.ContentSHA1 = sha1.String
	w.IngestRunID = runID.String
	w.CreatedAt = createdAt.String
	return &w, nil
}

// nullStr maps the empty string to NULL for optional text columns.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// sliceSafe clamps [start, end) into text before slicing.
func sliceSafe(text string, start, end int) string {
	n := len(text)
	st := min(max(start, 0), n)
	en := max(st, min(end, n))
	return text[st:en]
}
