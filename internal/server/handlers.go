package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ljramones/lore-ingestor/internal/event"
	"github.com/ljramones/lore-ingestor/internal/ingest"
	"github.com/ljramones/lore-ingestor/internal/parser"
	"github.com/ljramones/lore-ingestor/internal/profile"
	"github.com/ljramones/lore-ingestor/internal/store"
)

// Error envelope types.
const (
	errValidation  = "validation"
	errBadRequest  = "bad_request"
	errNotFound    = "not_found"
	errUnsupported = "unsupported_media_type"
	errRange       = "range_not_satisfiable"
	errRateLimited = "rate_limited"
	errQuery       = "query"
	errInternal    = "internal"
)

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, typ, format string, args ...any) {
	writeJSON(w, status, map[string]any{
		"ok":    false,
		"error": apiError{Type: typ, Message: fmt.Sprintf(format, args...)},
	})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, what string, err error) {
	s.logger.Error("http.error",
		"what", what,
		"path", r.URL.Path,
		"request_id", r.Header.Get(requestIDHeader),
		"error", err,
	)
	writeError(w, http.StatusInternalServerError, errInternal, "%s: %v", what, err)
}

func intParam(q url.Values, name string, def int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func requiredInt(q url.Values, name string) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func boolParam(raw string) bool {
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "db": s.store.Path()})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ready(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (s *Server) handleParsers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"parsers": s.parsers.Exts()})
}

func (s *Server) handleProfiles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"profiles": profile.Names()})
}

type workSummary struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Chars  int    `json:"chars"`
}

type workDetail struct {
	workSummary
	Source      string `json:"source,omitempty"`
	License     string `json:"license,omitempty"`
	ContentSHA1 string `json:"content_sha1,omitempty"`
	RunID       string `json:"run_id,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func (s *Server) handleListWorks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q, "limit", 0)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, errValidation, "%v", err)
		return
	}
	offset, err := intParam(q, "offset", 0)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, errValidation, "%v", err)
		return
	}

	works, err := s.store.ListWorks(r.Context(), store.ListFilter{
		Query:  q.Get("q"),
		Author: q.Get("author"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.internalError(w, r, "list works", err)
		return
	}

	out := make([]workSummary, 0, len(works))
	for _, wk := range works {
		out = append(out, workSummary{ID: wk.ID, Title: wk.Title, Author: wk.Author, Chars: wk.CharCount})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetWork(w http.ResponseWriter, r *http.Request) {
	wk, err := s.store.GetWork(r.Context(), r.PathValue("id"))
	if err != nil {
		s.internalError(w, r, "load work", err)
		return
	}
	if wk == nil {
		writeError(w, http.StatusNotFound, errNotFound, "work not found")
		return
	}
	writeJSON(w, http.StatusOK, workDetail{
		workSummary: workSummary{ID: wk.ID, Title: wk.Title, Author: wk.Author, Chars: wk.CharCount},
		Source:      wk.Source,
		License:     wk.License,
		ContentSHA1: wk.ContentSHA1,
		RunID:       wk.IngestRunID,
		CreatedAt:   wk.CreatedAt,
	})
}

type sceneJSON struct {
	SceneID string `json:"scene_id"`
	Idx     int    `json:"idx"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Heading string `json:"heading"`
}

func (s *Server) handleScenes(w http.ResponseWriter, r *http.Request) {
	scenes, err := s.store.Scenes(r.Context(), r.PathValue("id"))
	if err != nil {
		s.internalError(w, r, "list scenes", err)
		return
	}
	out := make([]sceneJSON, 0, len(scenes))
	for _, sc := range scenes {
		out = append(out, sceneJSON{SceneID: sc.ID, Idx: sc.Idx, Start: sc.Start, End: sc.End, Heading: sc.Heading})
	}
	writeJSON(w, http.StatusOK, out)
}

type chunkJSON struct {
	ChunkID string `json:"chunk_id"`
	SceneID string `json:"scene_id"`
	Idx     int    `json:"idx"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

func (s *Server) handleChunks(w http.ResponseWriter, r *http.Request) {
	chunks, err := s.store.Chunks(r.Context(), r.PathValue("id"))
	if err != nil {
		s.internalError(w, r, "list chunks", err)
		return
	}
	out := make([]chunkJSON, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, chunkJSON{ChunkID: c.ID, SceneID: c.SceneID, Idx: c.Idx, Start: c.Start, End: c.End})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSlice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := requiredInt(q, "start")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, errValidation, "%v", err)
		return
	}
	end, err := requiredInt(q, "end")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, errValidation, "%v", err)
		return
	}

	text, err := s.store.WorkText(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, errNotFound, "work not found")
		return
	}
	if err != nil {
		s.internalError(w, r, "load work text", err)
		return
	}

	if start < 0 || end < start || end > len(text) {
		writeError(w, http.StatusRequestedRangeNotSatisfiable, errRange,
			"slice [%d,%d) outside norm_text of %d chars", start, end, len(text))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text[start:end]})
}

type searchHitJSON struct {
	ChunkID string  `json:"chunk_id"`
	WorkID  string  `json:"work_id"`
	SceneID string  `json:"scene_id"`
	Idx     int     `json:"idx"`
	Start   int     `json:"start"`
	End     int     `json:"end"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeError(w, http.StatusUnprocessableEntity, errValidation, "q is required")
		return
	}
	limit, err := intParam(q, "limit", 0)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, errValidation, "%v", err)
		return
	}
	offset, err := intParam(q, "offset", 0)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, errValidation, "%v", err)
		return
	}

	if boolParam(q.Get("rebuild")) {
		if err := s.store.RebuildFTS(r.Context()); err != nil {
			s.internalError(w, r, "rebuild search index", err)
			return
		}
	}

	hits, err := s.store.SearchChunks(r.Context(), query, q.Get("work_id"), limit, offset)
	if err != nil {
		// FTS5 reports query syntax problems through the MATCH itself.
		writeError(w, http.StatusBadRequest, errQuery, "search failed: %v", err)
		return
	}
	out := make([]searchHitJSON, 0, len(hits))
	for _, h := range hits {
		out = append(out, searchHitJSON{
			ChunkID: h.ChunkID,
			WorkID:  h.WorkID,
			SceneID: h.SceneID,
			Idx:     h.Idx,
			Start:   h.Start,
			End:     h.End,
			Text:    h.Text,
			Score:   h.Score,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": out})
}

type ingestRequest struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Author  string `json:"author"`
	Profile string `json:"profile"`
}

type ingestResponse struct {
	WorkID      string      `json:"work_id"`
	ContentSHA1 string      `json:"content_sha1"`
	Sizes       event.Sizes `json:"sizes"`
	Deduped     bool        `json:"deduped,omitempty"`
}

// handleIngest accepts JSON {"path", "title"?, "author"?, "profile"?},
// multipart with a file upload, or multipart with a form "path". A missing
// or wrong Content-Type is tolerated when the body turns out to be JSON.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/json":
		s.ingestJSON(w, r)
	case "multipart/form-data":
		s.ingestMultipart(w, r)
	default:
		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Path != "" {
			s.runIngest(w, r, req, "")
			return
		}
		writeError(w, http.StatusUnsupportedMediaType, errUnsupported,
			"use application/json or multipart/form-data")
	}
}

func (s *Server) ingestJSON(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errBadRequest, "invalid JSON body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, errBadRequest, "JSON body requires 'path'")
		return
	}
	s.runIngest(w, r, req, "")
}

func (s *Server) ingestMultipart(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, http.StatusBadRequest, errBadRequest, "invalid multipart form data")
		return
	}
	req := ingestRequest{
		Title:   r.FormValue("title"),
		Author:  r.FormValue("author"),
		Profile: r.FormValue("profile"),
	}

	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		tmp, err := spoolUpload(file, header.Filename)
		if err != nil {
			s.internalError(w, r, "spool upload", err)
			return
		}
		defer os.Remove(tmp)
		req.Path = tmp
		// The spool file has a synthetic name; keep the upload's as source.
		s.runIngest(w, r, req, filepath.Base(header.Filename))

	case errors.Is(err, http.ErrMissingFile):
		req.Path = r.FormValue("path")
		if req.Path == "" {
			writeError(w, http.StatusBadRequest, errBadRequest, "provide a 'file' upload or form field 'path'")
			return
		}
		s.runIngest(w, r, req, "")

	default:
		writeError(w, http.StatusBadRequest, errBadRequest, "invalid multipart form data")
	}
}

// spoolUpload copies an upload to a temp file that keeps the original
// extension, so parser selection still works on the spooled copy.
func spoolUpload(file io.Reader, filename string) (string, error) {
	tmp, err := os.CreateTemp("", "lore-upload-*"+filepath.Ext(filename))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, file); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func (s *Server) runIngest(w http.ResponseWriter, r *http.Request, req ingestRequest, source string) {
	res, err := s.ingestor.IngestFile(r.Context(), ingest.Options{
		Path:      req.Path,
		Title:     req.Title,
		Author:    req.Author,
		Source:    source,
		Profile:   req.Profile,
		RunParams: map[string]any{"invoked_by": "http"},
	})
	if err != nil {
		switch {
		case errors.Is(err, parser.ErrUnsupported):
			writeError(w, http.StatusUnsupportedMediaType, errUnsupported, "%v", err)
		case errors.Is(err, fs.ErrNotExist):
			writeError(w, http.StatusBadRequest, errBadRequest, "%v", err)
		default:
			s.internalError(w, r, "ingest", err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, ingestResponse{
		WorkID:      res.WorkID,
		ContentSHA1: res.ContentSHA1,
		Sizes:       res.Sizes(),
		Deduped:     res.Deduped,
	})
}

type resegmentRequest struct {
	Profile     string `json:"profile"`
	WindowChars int    `json:"window_chars"`
	StrideChars int    `json:"stride_chars"`
}

func (s *Server) handleResegment(w http.ResponseWriter, r *http.Request) {
	var req resegmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, errBadRequest, "invalid JSON body")
		return
	}

	res, err := s.ingestor.Resegment(r.Context(), r.PathValue("id"), ingest.Options{
		Profile:     req.Profile,
		WindowChars: req.WindowChars,
		StrideChars: req.StrideChars,
	})
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, errNotFound, "work not found")
		return
	}
	if err != nil {
		s.internalError(w, r, "resegment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"work_id": res.WorkID, "sizes": res.Sizes()})
}
