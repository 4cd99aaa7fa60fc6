package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ljramones/lore-ingestor/internal/event"
	"github.com/ljramones/lore-ingestor/internal/ingest"
	"github.com/ljramones/lore-ingestor/internal/metrics"
	"github.com/ljramones/lore-ingestor/internal/parser"
)

// Stages recorded in .err.json sidecars and precheck failure events.
const (
	stagePrecheck = "precheck"
	stageIngest   = "ingest"
)

func (w *Watcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-w.queue:
			w.setDepth()
			w.process(ctx, it)
		}
	}
}

// process runs one attempt for one file: re-stat precheck, ingest, then
// disposition or schedule a retry.
func (w *Watcher) process(ctx context.Context, it item) {
	if it.attempt == 0 {
		w.countFile(metrics.FileProcessed)
	}

	info, err := os.Stat(it.path)
	if err != nil || !info.Mode().IsRegular() {
		// Vanished or replaced by a non-file; someone else handled it.
		w.forget(it.path)
		w.logger.Debug("watch.vanished", "path", it.path)
		return
	}
	if info.Size() == 0 {
		w.disposeFail(it.path, "file is empty", stagePrecheck)
		return
	}
	if info.Size() > w.cfg.MaxBytes {
		w.disposeFail(it.path, fmt.Sprintf("file too large: %d bytes (limit %d)", info.Size(), w.cfg.MaxBytes), stagePrecheck)
		return
	}
	ext := strings.ToLower(filepath.Ext(it.path))
	if len(w.cfg.AllowedExt) > 0 && !w.cfg.AllowedExt[ext] {
		w.disposeFail(it.path, fmt.Sprintf("unsupported file type %q", ext), stagePrecheck)
		return
	}

	res, err := w.ingestor.IngestFile(ctx, ingest.Options{
		Path:    it.path,
		Title:   stem(it.path),
		Profile: w.cfg.Profile,
		RunParams: map[string]any{
			"invoked_by": "watcher",
			"inbox":      w.cfg.Inbox,
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a verdict: leave the file for the next run.
			w.release(it.path)
			return
		}
		if errors.Is(err, parser.ErrUnsupported) || it.attempt >= w.cfg.Retries {
			w.disposeFail(it.path, err.Error(), stageIngest)
			return
		}
		w.backoffRequeue(ctx, it, err)
		return
	}

	w.disposeSuccess(it.path, res)
}

// backoffRequeue sleeps the attempt's backoff, then re-enqueues. A canceled
// context abandons the retry; a full queue turns it into a terminal failure.
func (w *Watcher) backoffRequeue(ctx context.Context, it item, cause error) {
	delay := backoffDelay(w.cfg.BackoffBase, it.attempt)
	w.logger.Warn("watch.retry",
		"path", it.path,
		"attempt", it.attempt,
		"backoff", delay,
		"error", cause,
	)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		w.release(it.path)
		return
	case <-timer.C:
	}

	select {
	case w.queue <- item{path: it.path, attempt: it.attempt + 1}:
		w.setDepth()
	default:
		w.disposeFail(it.path, fmt.Sprintf("retry queue full: %v", cause), stageIngest)
	}
}

// disposeSuccess moves an ingested file to the success directory under its
// work id. Dedup hits disposition the same way.
func (w *Watcher) disposeSuccess(path string, res *ingest.Result) {
	dst := uniquePath(filepath.Join(w.cfg.SuccessDir, res.WorkID+"__"+filepath.Base(path)))
	if err := moveFile(path, dst); err != nil {
		w.logger.Error("watch.move.error", "path", path, "dest", dst, "error", err)
		w.release(path)
		return
	}
	w.forget(path)
	if res.Deduped {
		w.countFile(metrics.FileDeduped)
	} else {
		w.countFile(metrics.FileSucceeded)
	}
	w.logger.Info("watch.ingested",
		"path", path,
		"work_id", res.WorkID,
		"deduped", res.Deduped,
		"dest", dst,
	)
}

// disposeFail moves a rejected file to the fail directory under a timestamp
// prefix and writes the .err.json sidecar. Precheck rejections also emit a
// failure event; ingest failures were already evented per attempt.
func (w *Watcher) disposeFail(path, message, stage string) {
	name := fmt.Sprintf("%d__%s", time.Now().Unix(), filepath.Base(path))
	dst := uniquePath(filepath.Join(w.cfg.FailDir, name))
	if err := moveFile(path, dst); err != nil {
		w.logger.Error("watch.move.error", "path", path, "dest", dst, "error", err)
		w.release(path)
		return
	}
	w.writeErrSidecar(dst, message, stage)
	w.forget(path)
	w.countFile(metrics.FileFailed)
	if stage == stagePrecheck && w.emitter != nil {
		w.emitter.Publish(event.Failed(event.Doc{Path: path, Title: stem(path)}, message, stage, nil))
	}
	w.logger.Warn("watch.rejected",
		"path", path,
		"stage", stage,
		"reason", message,
		"dest", dst,
	)
}

func (w *Watcher) writeErrSidecar(moved, message, stage string) {
	payload, err := json.MarshalIndent(map[string]string{
		"message":    message,
		"stage":      stage,
		"created_at": time.Now().UTC().Format("2006-01-02T15:04:05Z"),
	}, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(moved+".err.json", payload, 0o644); err != nil {
		w.logger.Warn("watch.sidecar.error", "path", moved, "error", err)
	}
}

// forget clears all tracking for a dispositioned path.
func (w *Watcher) forget(path string) {
	w.mu.Lock()
	delete(w.queued, path)
	delete(w.seen, path)
	w.mu.Unlock()
}

// release clears only the in-flight mark. The seen entry stays, so the same
// file version is not immediately re-enqueued after a move failure.
func (w *Watcher) release(path string) {
	w.mu.Lock()
	delete(w.queued, path)
	w.mu.Unlock()
}

// backoffDelay is base * 2^attempt with ±20% jitter.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := float64(base) * float64(int64(1)<<attempt)
	return time.Duration(d * (0.8 + 0.4*rand.Float64()))
}

// stem is the file name without its extension.
func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// uniquePath returns path, or the first "name-N.ext" variant that does not
// exist yet.
func uniquePath(path string) string {
	if _, err := os.Lstat(path); err != nil {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		cand := fmt.Sprintf("%s-%d%s", base, i, ext)
		if _, err := os.Lstat(cand); err != nil {
			return cand
		}
	}
}

// moveFile renames src to dst, falling back to copy+remove when they sit on
// different filesystems.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
