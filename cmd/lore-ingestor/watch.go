package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ljramones/lore-ingestor/internal/config"
	"github.com/ljramones/lore-ingestor/internal/event"
	"github.com/ljramones/lore-ingestor/internal/ingest"
	"github.com/ljramones/lore-ingestor/internal/metrics"
	"github.com/ljramones/lore-ingestor/internal/store"
	"github.com/ljramones/lore-ingestor/internal/watcher"
	"github.com/ljramones/lore-ingestor/internal/workflow"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the inbox and ingest new files, without the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if v, _ := cmd.Flags().GetString("inbox"); v != "" {
				cfg.Inbox = v
			}
			if v, _ := cmd.Flags().GetString("success"); v != "" {
				cfg.SuccessDir = v
			}
			if v, _ := cmd.Flags().GetString("fail"); v != "" {
				cfg.FailDir = v
			}
			if v, _ := cmd.Flags().GetString("profile"); v != "" {
				cfg.DefaultProfile = v
			}
			if v, _ := cmd.Flags().GetInt("workers"); v > 0 {
				cfg.WatchWorkers = v
			}
			if cmd.Flags().Changed("recursive") {
				v, _ := cmd.Flags().GetBool("recursive")
				cfg.WatchRecursive = v
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runWatch(ctx, cfg)
		},
	}
	cmd.Flags().String("inbox", "", "inbox directory (default $INBOX or inbox)")
	cmd.Flags().String("success", "", "directory for ingested files (default $SUCCESS_DIR or success)")
	cmd.Flags().String("fail", "", "directory for failed files (default $FAIL_DIR or fail)")
	cmd.Flags().String("profile", "", "segmentation profile (default $INGEST_PROFILE or default)")
	cmd.Flags().Int("workers", 0, "ingest worker count (default $WATCH_WORKERS or 2)")
	cmd.Flags().Bool("recursive", false, "watch subdirectories of the inbox")
	return cmd
}

func runWatch(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info("store.open", "path", cfg.DBPath)

	m := metrics.New()
	emitter := event.NewEmitter(buildSinks(cfg, logger), logger)
	defer emitter.Close()

	svc := ingest.NewService(ingest.Deps{
		Store:   st,
		Parsers: buildRegistry(cfg),
		Emitter: emitter,
		Starter: workflow.NewLogStarter(logger),
		Metrics: m,
		Logger:  logger,
	})

	if cfg.PushgatewayURL != "" {
		pusher, err := metrics.NewPusher(m.Gatherer(), metrics.PushOptions{
			URL:      cfg.PushgatewayURL,
			Job:      cfg.PushgatewayJob,
			Instance: cfg.PushgatewayInstance,
			Mode:     cfg.PushgatewayMode,
			Interval: cfg.PushInterval,
		}, logger)
		if err != nil {
			return err
		}
		pusher.Start()
		defer func() {
			if err := pusher.Stop(); err != nil {
				logger.Error("pushgateway.stop.error", "error", err)
			}
		}()
	}

	w, err := watcher.New(watcherConfig(cfg), watcher.Deps{
		Ingestor: svc,
		Emitter:  emitter,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	err = w.Run(ctx)
	logger.Info("shutdown complete")
	return err
}
