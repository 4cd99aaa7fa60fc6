package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPragmas(t *testing.T) {
	s := newTestStore(t)

	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("expected journal_mode=wal, got %q", journalMode)
	}

	var fk int
	if err := s.db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("query foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("expected foreign_keys=1, got %d", fk)
	}
}

func TestSchema(t *testing.T) {
	s := newTestStore(t)

	tables := map[string]bool{}
	rows, err := s.db.Query("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		t.Fatalf("query tables: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan: %v", err)
		}
		tables[name] = true
	}

	for _, want := range []string{"work", "scene", "chunk", "ingest_run", "chunk_fts", "schema_migrations"} {
		if !tables[want] {
			t.Errorf("expected table %q, got tables: %v", want, tables)
		}
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Open and close twice; migrations should be idempotent.
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()

	var count int
	if err := s2.db.QueryRow("SELECT count(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 migration versions, got %d", count)
	}
}

func TestLegacyColumnBackfill(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	// Seed a database the way an older ingestor would have left it: a work
	// table without the digest and run bookkeeping columns.
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	_, err = db.Exec(`CREATE TABLE work (
		id TEXT PRIMARY KEY, title TEXT, author TEXT, source TEXT,
		license TEXT, raw_text BLOB, norm_text TEXT, created_at TEXT
	)`)
	if err != nil {
		t.Fatalf("create legacy table: %v", err)
	}
	if _, err := db.Exec("INSERT INTO work (id, title, norm_text) VALUES ('w1', 'Old Work', 'text')"); err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open over legacy db: %v", err)
	}
	defer s.Close()

	for _, col := range []string{"content_sha1", "ingest_run_id", "char_count"} {
		var n int
		err := s.db.QueryRow(
			"SELECT count(*) FROM pragma_table_info('work') WHERE name = ?", col).Scan(&n)
		if err != nil {
			t.Fatalf("table_info: %v", err)
		}
		if n != 1 {
			t.Errorf("column %q not backfilled", col)
		}
	}

	// The legacy row survives with NULL digest.
	w, err := s.GetWork(context.Background(), "w1")
	if err != nil {
		t.Fatalf("GetWork: %v", err)
	}
	if w == nil || w.Title != "Old Work" || w.ContentSHA1 != "" {
		t.Errorf("legacy row mangled: %+v", w)
	}
}

func TestInsertWorkRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	normText := "First scene prose here.\n\nSecond scene prose follows on."
	res, err := s.InsertWork(ctx, WorkInput{
		Title:       "Round Trip",
		Author:      "Tester",
		Source:      "roundtrip.txt",
		RawText:     []byte(normText),
		NormText:    normText,
		ContentSHA1: "abc123",
	}, []SceneInput{
		{Idx: 0, Start: 0, End: 23},
		{Idx: 1, Start: 25, End: len(normText)},
	}, []ChunkInput{
		{Idx: 0, Start: 0, End: 23, SceneIdx: 0},
		{Idx: 1, Start: 25, End: len(normText), SceneIdx: 1},
	}, map[string]any{"profile": "default"})
	if err != nil {
		t.Fatalf("InsertWork: %v", err)
	}
	if res.WorkID == "" || res.RunID == "" {
		t.Fatalf("empty ids: %+v", res)
	}

	w, err := s.GetWork(ctx, res.WorkID)
	if err != nil {
		t.Fatalf("GetWork: %v", err)
	}
	if w == nil {
		t.Fatal("GetWork returned nil for a freshly inserted work")
	}
	if w.Title != "Round Trip" || w.Author != "Tester" || w.ContentSHA1 != "abc123" {
		t.Errorf("work fields: %+v", w)
	}
	if w.CharCount != len(normText) {
		t.Errorf("char_count = %d, want %d", w.CharCount, len(normText))
	}
	if w.IngestRunID != res.RunID {
		t.Errorf("ingest_run_id = %q, want %q", w.IngestRunID, res.RunID)
	}
	if w.CreatedAt == "" || !strings.Contains(w.CreatedAt, "T") {
		t.Errorf("created_at not set: %q", w.CreatedAt)
	}

	scenes, err := s.Scenes(ctx, res.WorkID)
	if err != nil {
		t.Fatalf("Scenes: %v", err)
	}
	if len(scenes) != 2 {
		t.Fatalf("got %d scenes, want 2", len(scenes))
	}
	if scenes[0].Idx != 0 || scenes[0].Start != 0 || scenes[0].End != 23 {
		t.Errorf("scene 0: %+v", scenes[0])
	}

	chunks, err := s.Chunks(ctx, res.WorkID)
	if err != nil {
		t.Fatalf("Chunks: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	// Text materialized from norm_text, digested over what was stored.
	if chunks[0].Text != normText[0:23] {
		t.Errorf("chunk 0 text = %q, want %q", chunks[0].Text, normText[0:23])
	}
	sum := sha256.Sum256([]byte(chunks[0].Text))
	if chunks[0].SHA256 != hex.EncodeToString(sum[:]) {
		t.Errorf("chunk 0 sha256 = %q", chunks[0].SHA256)
	}
	if chunks[0].SceneID != scenes[0].ID {
		t.Errorf("chunk 0 scene = %q, want %q", chunks[0].SceneID, scenes[0].ID)
	}
	if chunks[1].SceneID != scenes[1].ID {
		t.Errorf("chunk 1 scene = %q, want %q", chunks[1].SceneID, scenes[1].ID)
	}

	counts, err := s.CountsFor(ctx, res.WorkID)
	if err != nil {
		t.Fatalf("CountsFor: %v", err)
	}
	if counts.Scenes != 2 || counts.Chunks != 2 {
		t.Errorf("counts = %+v", counts)
	}

	// Run params landed in ingest_run.
	var params string
	if err := s.db.QueryRow("SELECT params_json FROM ingest_run WHERE id = ?", res.RunID).Scan(&params); err != nil {
		t.Fatalf("ingest_run row: %v", err)
	}
	if !strings.Contains(params, `"profile":"default"`) {
		t.Errorf("params_json = %q", params)
	}
}

func TestInsertWorkNullableFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.InsertWork(ctx, WorkInput{NormText: "bare"}, nil, nil, nil)
	if err != nil {
		t.Fatalf("InsertWork: %v", err)
	}

	var titleNull, shaNull int
	err = s.db.QueryRow(
		"SELECT title IS NULL, content_sha1 IS NULL FROM work WHERE id = ?", res.WorkID).
		Scan(&titleNull, &shaNull)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if titleNull != 1 || shaNull != 1 {
		t.Errorf("empty optional fields should store as NULL: title=%d sha=%d", titleNull, shaNull)
	}

	// nil run params still produce a valid JSON object.
	var params string
	if err := s.db.QueryRow("SELECT params_json FROM ingest_run WHERE id = ?", res.RunID).Scan(&params); err != nil {
		t.Fatalf("ingest_run row: %v", err)
	}
	if params != "{}" {
		t.Errorf("params_json = %q, want {}", params)
	}
}

func TestChunkSceneResolution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	normText := "aaaaaaaaaa bbbbbbbbbb cccccccccc"
	res, err := s.InsertWork(ctx, WorkInput{NormText: normText, ContentSHA1: "scn"},
		[]SceneInput{
			{Idx: 0, Start: 0, End: 10},
			{Idx: 1, Start: 11, End: 21},
		},
		[]ChunkInput{
			{Idx: 0, Start: 0, End: 5, SceneIdx: 0},    // explicit idx
			{Idx: 1, Start: 12, End: 18, SceneIdx: -1}, // by span containment
			{Idx: 2, Start: 25, End: 30, SceneIdx: -1}, // outside every scene
		}, nil)
	if err != nil {
		t.Fatalf("InsertWork: %v", err)
	}

	scenes, err := s.Scenes(ctx, res.WorkID)
	if err != nil {
		t.Fatalf("Scenes: %v", err)
	}
	chunks, err := s.Chunks(ctx, res.WorkID)
	if err != nil {
		t.Fatalf("Chunks: %v", err)
	}
	if chunks[0].SceneID != scenes[0].ID {
		t.Errorf("chunk 0: explicit scene idx should resolve to scene 0")
	}
	if chunks[1].SceneID != scenes[1].ID {
		t.Errorf("chunk 1: span containment should resolve to scene 1")
	}
	if chunks[2].SceneID != "" {
		t.Errorf("chunk 2: expected NULL scene, got %q", chunks[2].SceneID)
	}
}

func TestUniqueDigest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertWork(ctx, WorkInput{NormText: "one", ContentSHA1: "samesha"}, nil, nil, nil); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := s.InsertWork(ctx, WorkInput{NormText: "two", ContentSHA1: "samesha"}, nil, nil, nil); err == nil {
		t.Fatal("second insert with the same digest should violate uniq_work_content_sha1")
	}

	// Works without a digest don't collide (unique index admits NULLs).
	if _, err := s.InsertWork(ctx, WorkInput{NormText: "three"}, nil, nil, nil); err != nil {
		t.Fatalf("null digest insert: %v", err)
	}
	if _, err := s.InsertWork(ctx, WorkInput{NormText: "four"}, nil, nil, nil); err != nil {
		t.Fatalf("second null digest insert: %v", err)
	}
}

func TestFindDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.InsertWork(ctx, WorkInput{NormText: "duplicate body", ContentSHA1: "dupsha"}, nil, nil, nil)
	if err != nil {
		t.Fatalf("InsertWork: %v", err)
	}

	id, err := s.FindDuplicate(ctx, "dupsha", "")
	if err != nil {
		t.Fatalf("by digest: %v", err)
	}
	if id != res.WorkID {
		t.Errorf("digest lookup = %q, want %q", id, res.WorkID)
	}

	id, err = s.FindDuplicate(ctx, "missing-sha", "duplicate body")
	if err != nil {
		t.Fatalf("by text: %v", err)
	}
	if id != res.WorkID {
		t.Errorf("text fallback = %q, want %q", id, res.WorkID)
	}

	id, err = s.FindDuplicate(ctx, "missing-sha", "no such body")
	if err != nil {
		t.Fatalf("miss: %v", err)
	}
	if id != "" {
		t.Errorf("expected no duplicate, got %q", id)
	}
}

func TestListWorks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	works := []WorkInput{
		{Title: "The Raven", Author: "Poe", NormText: "r", ContentSHA1: "s1"},
		{Title: "The Cask", Author: "Poe", NormText: "c", ContentSHA1: "s2"},
		{Title: "Dracula", Author: "Stoker", NormText: "d", ContentSHA1: "s3"},
	}
	for _, w := range works {
		if _, err := s.InsertWork(ctx, w, nil, nil, nil); err != nil {
			t.Fatalf("insert %q: %v", w.Title, err)
		}
	}

	all, err := s.ListWorks(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("ListWorks: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d works, want 3", len(all))
	}
	// Newest first.
	if all[0].Title != "Dracula" {
		t.Errorf("expected newest first, got %q", all[0].Title)
	}

	byTitle, err := s.ListWorks(ctx, ListFilter{Query: "The"})
	if err != nil {
		t.Fatalf("by title: %v", err)
	}
	if len(byTitle) != 2 {
		t.Errorf("title filter: got %d, want 2", len(byTitle))
	}

	byAuthor, err := s.ListWorks(ctx, ListFilter{Author: "Stoker"})
	if err != nil {
		t.Fatalf("by author: %v", err)
	}
	if len(byAuthor) != 1 || byAuthor[0].Title != "Dracula" {
		t.Errorf("author filter: %+v", byAuthor)
	}

	limited, err := s.ListWorks(ctx, ListFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("paged: %v", err)
	}
	if len(limited) != 1 || limited[0].Title != "The Cask" {
		t.Errorf("page 2: %+v", limited)
	}
}

func TestGetWorkMissing(t *testing.T) {
	s := newTestStore(t)

	w, err := s.GetWork(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetWork: %v", err)
	}
	if w != nil {
		t.Errorf("expected nil for unknown id, got %+v", w)
	}
}

func TestWorkText(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.InsertWork(ctx, WorkInput{NormText: "the stored text", ContentSHA1: "wt"}, nil, nil, nil)
	if err != nil {
		t.Fatalf("InsertWork: %v", err)
	}

	text, err := s.WorkText(ctx, res.WorkID)
	if err != nil {
		t.Fatalf("WorkText: %v", err)
	}
	if text != "the stored text" {
		t.Errorf("got %q", text)
	}

	if _, err := s.WorkText(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReplaceSceneChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	normText := "alpha beta gamma delta epsilon zeta"
	res, err := s.InsertWork(ctx, WorkInput{NormText: normText, ContentSHA1: "rs"},
		[]SceneInput{{Idx: 0, Start: 0, End: len(normText)}},
		[]ChunkInput{{Idx: 0, Start: 0, End: len(normText), SceneIdx: 0}}, nil)
	if err != nil {
		t.Fatalf("InsertWork: %v", err)
	}

	err = s.ReplaceSceneChunks(ctx, res.WorkID,
		[]SceneInput{
			{Idx: 0, Start: 0, End: 16},
			{Idx: 1, Start: 17, End: len(normText)},
		},
		[]ChunkInput{
			{Idx: 0, Start: 0, End: 16, SceneIdx: 0},
			{Idx: 1, Start: 17, End: 28, SceneIdx: 1},
			{Idx: 2, Start: 28, End: len(normText), SceneIdx: 1},
		})
	if err != nil {
		t.Fatalf("ReplaceSceneChunks: %v", err)
	}

	counts, err := s.CountsFor(ctx, res.WorkID)
	if err != nil {
		t.Fatalf("CountsFor: %v", err)
	}
	if counts.Scenes != 2 || counts.Chunks != 3 {
		t.Errorf("counts after replace = %+v", counts)
	}

	// The work row is untouched.
	w, err := s.GetWork(ctx, res.WorkID)
	if err != nil || w == nil {
		t.Fatalf("GetWork: %v %v", w, err)
	}
	if w.ContentSHA1 != "rs" || w.CharCount != len(normText) {
		t.Errorf("work row changed: %+v", w)
	}

	// Replaced chunk text comes from the stored norm_text.
	chunks, err := s.Chunks(ctx, res.WorkID)
	if err != nil {
		t.Fatalf("Chunks: %v", err)
	}
	if chunks[1].Text != normText[17:28] {
		t.Errorf("chunk 1 text = %q, want %q", chunks[1].Text, normText[17:28])
	}

	if err := s.ReplaceSceneChunks(ctx, "nope", nil, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ravenText := "The raven perched upon the marble bust.\n\nIt spoke a single word."
	raven, err := s.InsertWork(ctx, WorkInput{Title: "The Raven", NormText: ravenText, ContentSHA1: "f1"},
		[]SceneInput{{Idx: 0, Start: 0, End: 39}, {Idx: 1, Start: 41, End: len(ravenText)}},
		[]ChunkInput{
			{Idx: 0, Start: 0, End: 39, SceneIdx: 0},
			{Idx: 1, Start: 41, End: len(ravenText), SceneIdx: 1},
		}, nil)
	if err != nil {
		t.Fatalf("insert raven: %v", err)
	}

	catText := "The cat slept through the entire storm."
	cat, err := s.InsertWork(ctx, WorkInput{Title: "Cat", NormText: catText, ContentSHA1: "f2"},
		[]SceneInput{{Idx: 0, Start: 0, End: len(catText)}},
		[]ChunkInput{{Idx: 0, Start: 0, End: len(catText), SceneIdx: 0}}, nil)
	if err != nil {
		t.Fatalf("insert cat: %v", err)
	}

	hits, err := s.SearchChunks(ctx, "raven", "", 10, 0)
	if err != nil {
		t.Fatalf("SearchChunks: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits for raven, want 1", len(hits))
	}
	if hits[0].WorkID != raven.WorkID || hits[0].Idx != 0 {
		t.Errorf("hit: %+v", hits[0])
	}
	if hits[0].Score <= 0 {
		t.Errorf("score should be positive, got %f", hits[0].Score)
	}
	if !strings.Contains(hits[0].Text, "raven") {
		t.Errorf("hit text %q", hits[0].Text)
	}

	// Work filter narrows.
	hits, err = s.SearchChunks(ctx, "the", cat.WorkID, 10, 0)
	if err != nil {
		t.Fatalf("filtered search: %v", err)
	}
	for _, h := range hits {
		if h.WorkID != cat.WorkID {
			t.Errorf("filtered search leaked work %q", h.WorkID)
		}
	}
	if len(hits) != 1 {
		t.Errorf("got %d filtered hits, want 1", len(hits))
	}

	// Index follows deletions via triggers: resegmenting rewrites chunks.
	if err := s.ReplaceSceneChunks(ctx, raven.WorkID,
		[]SceneInput{{Idx: 0, Start: 0, End: len(ravenText)}},
		[]ChunkInput{{Idx: 0, Start: 0, End: len(ravenText), SceneIdx: 0}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	hits, err = s.SearchChunks(ctx, "raven", "", 10, 0)
	if err != nil {
		t.Fatalf("post-replace search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits after replace, want 1", len(hits))
	}

	if err := s.RebuildFTS(ctx); err != nil {
		t.Fatalf("RebuildFTS: %v", err)
	}
	hits, err = s.SearchChunks(ctx, "raven", "", 10, 0)
	if err != nil || len(hits) != 1 {
		t.Fatalf("post-rebuild search: %d hits, err %v", len(hits), err)
	}
}

func TestReady(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ready(context.Background()); err != nil {
		t.Fatalf("Ready: %v", err)
	}
	// Callable repeatedly.
	if err := s.Ready(context.Background()); err != nil {
		t.Fatalf("second Ready: %v", err)
	}
}

func TestSliceSafe(t *testing.T) {
	text := "0123456789"
	cases := []struct {
		name       string
		start, end int
		want       string
	}{
		{"in range", 2, 5, "234"},
		{"negative start", -3, 4, "0123"},
		{"end past length", 8, 99, "89"},
		{"inverted", 7, 3, ""},
		{"both past length", 50, 60, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sliceSafe(text, tc.start, tc.end); got != tc.want {
				t.Errorf("sliceSafe(%d, %d) = %q, want %q", tc.start, tc.end, got, tc.want)
			}
		})
	}
}
