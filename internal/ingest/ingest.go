// Package ingest orchestrates the document pipeline: parse, normalize,
// segment, chunk, persist. One call handles one file; the watcher and the
// HTTP surface are both thin callers of this package.
package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ljramones/lore-ingestor/internal/chunker"
	"github.com/ljramones/lore-ingestor/internal/event"
	"github.com/ljramones/lore-ingestor/internal/logging"
	"github.com/ljramones/lore-ingestor/internal/metrics"
	"github.com/ljramones/lore-ingestor/internal/normalize"
	"github.com/ljramones/lore-ingestor/internal/parser"
	"github.com/ljramones/lore-ingestor/internal/profile"
	"github.com/ljramones/lore-ingestor/internal/segment"
	"github.com/ljramones/lore-ingestor/internal/store"
	"github.com/ljramones/lore-ingestor/internal/workflow"
)

// Pipeline stages reported in document.failed events.
const (
	StageRead    = "read"
	StageParse   = "parse"
	StagePersist = "persist"
)

// Deps carries the service collaborators. Store and Parsers are required;
// Emitter and Metrics may be nil, Starter defaults to workflow.Nop.
type Deps struct {
	Store   *store.Store
	Parsers *parser.Registry
	Emitter *event.Emitter
	Starter workflow.Starter
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Service runs the ingest pipeline against one store.
type Service struct {
	store   *store.Store
	parsers *parser.Registry
	emitter *event.Emitter
	starter workflow.Starter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewService wires a Service from its dependencies.
func NewService(d Deps) *Service {
	starter := d.Starter
	if starter == nil {
		starter = workflow.Nop{}
	}
	return &Service{
		store:   d.Store,
		parsers: d.Parsers,
		emitter: d.Emitter,
		starter: starter,
		metrics: d.Metrics,
		logger:  logging.Default(d.Logger).With("component", "ingest"),
	}
}

// Options are the per-call knobs for IngestFile and Resegment. Zero values
// defer to defaults: empty Profile means "default", zero window/stride mean
// the profile's own chunk rules, empty Source means the file's base name.
type Options struct {
	Path        string
	Title       string
	Author      string
	Source      string
	License     string
	Profile     string
	WindowChars int
	StrideChars int
	RunParams   map[string]any
	Force       bool
}

// Result reports what one ingest or resegment produced.
type Result struct {
	WorkID      string
	ContentSHA1 string
	Encoding    string
	Profile     string
	CharCount   int
	Scenes      int
	Chunks      int
	Deduped     bool
	RunID       string
}

// Sizes converts the result counts to the event payload shape.
func (r *Result) Sizes() event.Sizes {
	return event.Sizes{Chars: r.CharCount, Scenes: r.Scenes, Chunks: r.Chunks}
}

// IngestFile runs the full pipeline for one file. The same raw bytes ingest
// once: a digest match short-circuits to the existing work unless
// opts.Force. Errors surface unwrapped where callers dispatch on them
// (parser.ErrUnsupported, store.ErrNotFound).
//
// Side effects ride along best-effort: a document.ingested or
// document.failed event, an ingest metrics observation, and (for fresh
// works) a workflow dispatch. None of them affect the returned error.
func (s *Service) IngestFile(ctx context.Context, opts Options) (*Result, error) {
	started := time.Now()
	prof := profile.Get(opts.Profile)
	doc := event.Doc{Path: opts.Path, Title: opts.Title, Author: opts.Author, Profile: prof.Name}

	res, stage, err := s.run(ctx, opts, prof)
	if err != nil {
		s.observe("ingest", metrics.OutcomeError, started)
		s.publish(event.Failed(doc, err.Error(), stage, nil))
		s.logger.Error("ingest.error", "path", opts.Path, "stage", stage, "error", err)
		return nil, err
	}

	var extra map[string]any
	outcome := metrics.OutcomeOK
	if res.Deduped {
		extra = map[string]any{"deduped": true}
		outcome = metrics.OutcomeDeduped
	}
	s.observe("ingest", outcome, started)
	s.publish(event.Ingested(doc, res.WorkID, res.ContentSHA1, res.RunID, res.Sizes(), extra))
	if !res.Deduped {
		go s.starter.OnIngestSuccess(context.WithoutCancel(ctx), res.WorkID, res.ContentSHA1, res.Profile)
	}

	s.logger.Info("ingest.ok",
		"path", opts.Path,
		"work_id", res.WorkID,
		"chars", res.CharCount,
		"scenes", res.Scenes,
		"chunks", res.Chunks,
		"deduped", res.Deduped,
		"duration", time.Since(started),
	)
	return res, nil
}

// run is the pipeline without the observation side effects. The stage
// return names the phase an error belongs to.
func (s *Service) run(ctx context.Context, opts Options, prof *profile.Profile) (*Result, string, error) {
	p, err := s.parsers.ForPath(opts.Path)
	if err != nil {
		return nil, StageParse, err
	}

	data, err := os.ReadFile(opts.Path)
	if err != nil {
		return nil, StageRead, fmt.Errorf("read %s: %w", opts.Path, err)
	}
	sum := sha1.Sum(data)
	contentSHA1 := hex.EncodeToString(sum[:])

	pr, err := p.Parse(data)
	if err != nil {
		return nil, StageParse, fmt.Errorf("parse %s: %w", opts.Path, err)
	}
	normText := normalize.Normalize(pr.Text)
	encoding := metaString(pr.Meta, "encoding")

	// Force still checks for an existing copy, but instead of
	// short-circuiting it stores the duplicate with a NULL digest so the
	// unique index keeps pointing at the first copy.
	insertSHA1 := contentSHA1
	if opts.Force {
		existing, err := s.store.FindDuplicate(ctx, contentSHA1, "")
		if err != nil {
			return nil, StagePersist, err
		}
		if existing != "" {
			insertSHA1 = ""
		}
	} else {
		existing, err := s.store.FindDuplicate(ctx, contentSHA1, normText)
		if err != nil {
			return nil, StagePersist, err
		}
		if existing != "" {
			res, err := s.dedupResult(ctx, existing, contentSHA1, encoding, prof.Name)
			if err != nil {
				return nil, StagePersist, err
			}
			return res, "", nil
		}
	}

	scenes := segment.Segment(normText, prof)
	chunks := chunker.Chunk(scenes, prof, opts.WindowChars, opts.StrideChars)

	source := opts.Source
	if source == "" {
		source = filepath.Base(opts.Path)
	}
	runParams := map[string]any{
		"profile":    prof.Name,
		"parser":     p.Name(),
		"encoding":   encoding,
		"source_ext": strings.ToLower(filepath.Ext(opts.Path)),
	}
	for k, v := range opts.RunParams {
		runParams[k] = v
	}

	ir, err := s.store.InsertWork(ctx, store.WorkInput{
		Title:       opts.Title,
		Author:      opts.Author,
		Source:      source,
		License:     opts.License,
		RawText:     data,
		NormText:    normText,
		ContentSHA1: insertSHA1,
	}, sceneInputs(scenes), chunkInputs(chunks), runParams)
	if err != nil {
		return nil, StagePersist, err
	}

	return &Result{
		WorkID:      ir.WorkID,
		ContentSHA1: insertSHA1,
		Encoding:    encoding,
		Profile:     prof.Name,
		CharCount:   len(normText),
		Scenes:      len(scenes),
		Chunks:      len(chunks),
		RunID:       ir.RunID,
	}, "", nil
}

// dedupResult assembles a Result for an already-ingested work from its
// stored counts.
func (s *Service) dedupResult(ctx context.Context, workID, contentSHA1, encoding, profileName string) (*Result, error) {
	w, err := s.store.GetWork(ctx, workID)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.CountsFor(ctx, workID)
	if err != nil {
		return nil, err
	}
	res := &Result{
		WorkID:      workID,
		ContentSHA1: contentSHA1,
		Encoding:    encoding,
		Profile:     profileName,
		Scenes:      counts.Scenes,
		Chunks:      counts.Chunks,
		Deduped:     true,
	}
	if w != nil {
		res.CharCount = w.CharCount
	}
	return res, nil
}

// Resegment re-derives scenes and chunks for an existing work from its
// stored normalized text; the work row itself is untouched. Unknown work
// IDs return store.ErrNotFound.
func (s *Service) Resegment(ctx context.Context, workID string, opts Options) (*Result, error) {
	started := time.Now()

	normText, err := s.store.WorkText(ctx, workID)
	if err != nil {
		s.observe("resegment", metrics.OutcomeError, started)
		return nil, err
	}

	prof := profile.Get(opts.Profile)
	scenes := segment.Segment(normText, prof)
	chunks := chunker.Chunk(scenes, prof, opts.WindowChars, opts.StrideChars)

	if err := s.store.ReplaceSceneChunks(ctx, workID, sceneInputs(scenes), chunkInputs(chunks)); err != nil {
		s.observe("resegment", metrics.OutcomeError, started)
		s.logger.Error("resegment.error", "work_id", workID, "error", err)
		return nil, err
	}

	s.observe("resegment", metrics.OutcomeOK, started)
	s.logger.Info("resegment.ok",
		"work_id", workID,
		"profile", prof.Name,
		"scenes", len(scenes),
		"chunks", len(chunks),
		"duration", time.Since(started),
	)
	return &Result{
		WorkID:    workID,
		Profile:   prof.Name,
		CharCount: len(normText),
		Scenes:    len(scenes),
		Chunks:    len(chunks),
	}, nil
}

func (s *Service) publish(r event.Record) {
	if s.emitter != nil {
		s.emitter.Publish(r)
	}
}

func (s *Service) observe(ev, outcome string, started time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveEvent(ev, outcome, time.Since(started))
	}
}

func sceneInputs(scenes []segment.Span) []store.SceneInput {
	in := make([]store.SceneInput, len(scenes))
	for i, sc := range scenes {
		in[i] = store.SceneInput{Idx: i, Start: sc.Start, End: sc.End}
	}
	return in
}

func chunkInputs(chunks []chunker.Span) []store.ChunkInput {
	in := make([]store.ChunkInput, len(chunks))
	for i, ch := range chunks {
		in[i] = store.ChunkInput{Idx: i, Start: ch.Start, End: ch.End, SceneIdx: ch.SceneIdx}
	}
	return in
}

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}
