// Package watcher turns an inbox directory into an ingest feed.
//
// One dispatcher goroutine discovers candidate files (fsnotify events plus a
// periodic glob rescan), holds them until their size and mtime stop moving,
// and feeds a bounded queue. Worker goroutines pull from the queue, run the
// ingest pipeline with retry and backoff, and disposition every input: into
// the success directory named by its work id, or into the fail directory
// with an .err.json sidecar. A full queue sheds load by dropping candidates;
// the next rescan rediscovers them.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/ljramones/lore-ingestor/internal/event"
	"github.com/ljramones/lore-ingestor/internal/ingest"
	"github.com/ljramones/lore-ingestor/internal/logging"
	"github.com/ljramones/lore-ingestor/internal/metrics"
)

// Config carries the watcher knobs. Zero values fall back to serviceable
// defaults; only Inbox is required.
type Config struct {
	Inbox       string
	SuccessDir  string
	FailDir     string
	AllowedExt  map[string]bool
	MaxBytes    int64
	Workers     int
	QueueSize   int
	Stable      time.Duration
	Poll        time.Duration
	Retries     int
	BackoffBase time.Duration
	Recursive   bool
	Profile     string
}

// Deps carries the watcher collaborators. Ingestor is required; Emitter and
// Metrics may be nil.
type Deps struct {
	Ingestor *ingest.Service
	Emitter  *event.Emitter
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// item is one queued ingest candidate.
type item struct {
	path    string
	attempt int
}

// observation is the last stat of a file waiting to stabilize.
type observation struct {
	size  int64
	mtime int64
	at    time.Time
}

// Watcher owns the inbox lifecycle between Run and cancellation.
type Watcher struct {
	cfg      Config
	ingestor *ingest.Service
	emitter  *event.Emitter
	metrics  *metrics.Metrics
	logger   *slog.Logger

	queue chan item

	mu      sync.Mutex
	pending map[string]observation // stabilizing, keyed by path
	queued  map[string]struct{}    // enqueued or in-flight
	seen    map[string]int64       // path → mtime ns already dispatched
}

// New builds a watcher. Directories are created by Run, not here.
func New(cfg Config, d Deps) (*Watcher, error) {
	if cfg.Inbox == "" {
		return nil, fmt.Errorf("watcher: inbox directory is required")
	}
	if d.Ingestor == nil {
		return nil, fmt.Errorf("watcher: ingest service is required")
	}
	if abs, err := filepath.Abs(cfg.Inbox); err == nil {
		cfg.Inbox = abs
	}
	if cfg.SuccessDir == "" {
		cfg.SuccessDir = filepath.Join(filepath.Dir(cfg.Inbox), "success")
	}
	if cfg.FailDir == "" {
		cfg.FailDir = filepath.Join(filepath.Dir(cfg.Inbox), "fail")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 16
	}
	if cfg.Stable <= 0 {
		cfg.Stable = 500 * time.Millisecond
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 5 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 250 * time.Millisecond
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 20 << 20
	}

	return &Watcher{
		cfg:      cfg,
		ingestor: d.Ingestor,
		emitter:  d.Emitter,
		metrics:  d.Metrics,
		logger:   logging.Default(d.Logger).With("component", "watcher"),
		queue:    make(chan item, cfg.QueueSize),
		pending:  make(map[string]observation),
		queued:   make(map[string]struct{}),
		seen:     make(map[string]int64),
	}, nil
}

// Run watches the inbox until ctx is canceled. Workers abandon any queued
// backlog on cancellation; undispositioned files stay in the inbox, so a
// restart picks them up again.
func (w *Watcher) Run(ctx context.Context) error {
	for _, dir := range []string{w.cfg.Inbox, w.cfg.SuccessDir, w.cfg.FailDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()
	if err := fw.Add(w.cfg.Inbox); err != nil {
		return fmt.Errorf("watch %s: %w", w.cfg.Inbox, err)
	}

	if w.metrics != nil {
		w.metrics.SetWatchQueueCapacity(w.cfg.QueueSize)
	}

	var workers sync.WaitGroup
	for range w.cfg.Workers {
		workers.Go(func() { w.worker(ctx) })
	}

	w.logger.Info("watch.start",
		"inbox", w.cfg.Inbox,
		"success_dir", w.cfg.SuccessDir,
		"fail_dir", w.cfg.FailDir,
		"workers", w.cfg.Workers,
		"queue", w.cfg.QueueSize,
		"recursive", w.cfg.Recursive,
	)

	// Catch files already sitting in the inbox.
	w.scan(fw)

	rescan := time.NewTicker(w.cfg.Poll)
	defer rescan.Stop()
	ripen := time.NewTicker(w.cfg.Stable)
	defer ripen.Stop()

	for {
		select {
		case <-ctx.Done():
			workers.Wait()
			w.logger.Info("watch.stop")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fw, ev)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch.fsnotify.error", "error", err)

		case <-rescan.C:
			w.scan(fw)

		case <-ripen.C:
			w.observePending()
		}
	}
}

// handleEvent reacts to one fsnotify event. New directories in recursive
// mode trigger a rescan so files that arrived with them are not missed.
func (w *Watcher) handleEvent(fw *fsnotify.Watcher, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if w.cfg.Recursive {
			if err := fw.Add(ev.Name); err != nil {
				w.logger.Warn("watch.subdir.error", "dir", ev.Name, "error", err)
			}
			w.scan(fw)
		}
		return
	}
	w.consider(ev.Name, info)
}

// scan globs the inbox tree and feeds every regular file through consider.
// In recursive mode it also (re-)adds directories to the fs watcher.
func (w *Watcher) scan(fw *fsnotify.Watcher) {
	pattern := filepath.Join(w.cfg.Inbox, "*")
	if w.cfg.Recursive {
		pattern = filepath.Join(w.cfg.Inbox, "**", "*")
	}
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		w.logger.Warn("watch.scan.error", "error", err)
		return
	}
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if info.IsDir() {
			if w.cfg.Recursive && fw != nil {
				_ = fw.Add(m)
			}
			continue
		}
		w.consider(m, info)
	}
}

// consider runs the discovery checks for one file: ignorable names are
// skipped, disallowed extensions and oversize files fail immediately, and
// everything else starts (or continues) stability tracking.
func (w *Watcher) consider(path string, info os.FileInfo) {
	if !info.Mode().IsRegular() {
		return
	}
	if ignorable(filepath.Base(path)) {
		return
	}

	mt := info.ModTime().UnixNano()
	w.mu.Lock()
	_, inFlight := w.queued[path]
	handled := w.seen[path] == mt
	w.mu.Unlock()
	if inFlight || handled {
		return
	}

	ext := strings.ToLower(filepath.Ext(path))
	if len(w.cfg.AllowedExt) > 0 && !w.cfg.AllowedExt[ext] {
		w.disposeFail(path, fmt.Sprintf("unsupported file type %q", ext), stagePrecheck)
		return
	}
	if info.Size() > w.cfg.MaxBytes {
		w.disposeFail(path, fmt.Sprintf("file too large: %d bytes (limit %d)", info.Size(), w.cfg.MaxBytes), stagePrecheck)
		return
	}

	// Seed or refresh the observation, but never reset the clock for a file
	// that has not changed: that would keep busy inboxes from ripening.
	w.mu.Lock()
	if obs, ok := w.pending[path]; !ok || obs.size != info.Size() || obs.mtime != mt {
		w.pending[path] = observation{size: info.Size(), mtime: mt, at: time.Now()}
	}
	w.mu.Unlock()
}

// observePending re-stats every tracked file. A file is ripe when a full
// stability window has passed with the same nonzero size and mtime; ripe
// files move to the queue.
func (w *Watcher) observePending() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.mu.Unlock()
	sort.Strings(paths)

	for _, path := range paths {
		w.observeOne(path)
	}
}

func (w *Watcher) observeOne(path string) {
	w.mu.Lock()
	obs, ok := w.pending[path]
	w.mu.Unlock()
	if !ok {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		return
	}

	mt := info.ModTime().UnixNano()
	if info.Size() == obs.size && mt == obs.mtime {
		if info.Size() > 0 && time.Since(obs.at) >= w.cfg.Stable {
			w.mu.Lock()
			delete(w.pending, path)
			w.mu.Unlock()
			w.enqueue(path, mt)
		}
		// Unchanged but not ripe yet: keep the clock running.
		return
	}

	w.mu.Lock()
	w.pending[path] = observation{size: info.Size(), mtime: mt, at: time.Now()}
	w.mu.Unlock()
}

// enqueue offers a ripe file to the queue. A full queue drops the candidate;
// it stays in the inbox and a later rescan retries.
func (w *Watcher) enqueue(path string, mtimeNS int64) {
	w.mu.Lock()
	if _, ok := w.queued[path]; ok {
		w.mu.Unlock()
		return
	}
	w.queued[path] = struct{}{}
	w.seen[path] = mtimeNS
	w.mu.Unlock()

	select {
	case w.queue <- item{path: path}:
		w.setDepth()
		w.logger.Debug("watch.enqueue", "path", path)
	default:
		w.mu.Lock()
		delete(w.queued, path)
		delete(w.seen, path)
		w.mu.Unlock()
		w.countFile(metrics.FileDropped)
		w.logger.Warn("watch.queue.full", "path", path)
	}
}

func (w *Watcher) setDepth() {
	if w.metrics != nil {
		w.metrics.SetWatchQueueDepth(len(w.queue))
	}
}

func (w *Watcher) countFile(result string) {
	if w.metrics != nil {
		w.metrics.CountFile(result)
	}
}

// ignorable filters editor droppings and in-progress downloads by name.
func ignorable(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") {
		return true
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".tmp", ".crdownload", ".partial":
		return true
	}
	return false
}
