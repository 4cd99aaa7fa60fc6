// Package workflow dispatches post-ingest hooks. The ingest service calls
// the configured Starter after a work is persisted; dispatch is
// fire-and-forget and never affects the ingest result.
package workflow

import (
	"context"
	"log/slog"

	"github.com/ljramones/lore-ingestor/internal/logging"
)

// Starter receives a notification for every successfully ingested work.
type Starter interface {
	OnIngestSuccess(ctx context.Context, workID, contentSHA1, profile string)
}

// Nop ignores every notification. The default when no downstream pipeline
// is configured.
type Nop struct{}

func (Nop) OnIngestSuccess(context.Context, string, string, string) {}

// LogStarter logs each dispatch. Useful for verifying wiring before a real
// downstream consumer exists.
type LogStarter struct {
	logger *slog.Logger
}

// NewLogStarter builds a LogStarter on the given logger.
func NewLogStarter(logger *slog.Logger) *LogStarter {
	return &LogStarter{logger: logging.Default(logger).With("component", "workflow")}
}

func (s *LogStarter) OnIngestSuccess(ctx context.Context, workID, contentSHA1, profile string) {
	s.logger.Info("workflow.dispatch",
		"work_id", workID,
		"content_sha1", contentSHA1,
		"profile", profile,
	)
}
