package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ljramones/lore-ingestor/internal/config"
	"github.com/ljramones/lore-ingestor/internal/event"
	"github.com/ljramones/lore-ingestor/internal/ingest"
	"github.com/ljramones/lore-ingestor/internal/metrics"
	"github.com/ljramones/lore-ingestor/internal/server"
	"github.com/ljramones/lore-ingestor/internal/store"
	"github.com/ljramones/lore-ingestor/internal/watcher"
	"github.com/ljramones/lore-ingestor/internal/workflow"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and inbox watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if v, _ := cmd.Flags().GetString("addr"); v != "" {
				cfg.HTTPAddr = v
			}
			if v, _ := cmd.Flags().GetString("inbox"); v != "" {
				cfg.Inbox = v
			}
			noWatch, _ := cmd.Flags().GetBool("no-watch")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, cfg, !noWatch)
		},
	}
	cmd.Flags().String("addr", "", "HTTP listen address (default $HTTP_ADDR or :8099)")
	cmd.Flags().String("inbox", "", "inbox directory to watch (default $INBOX or inbox)")
	cmd.Flags().Bool("no-watch", false, "serve the API without watching the inbox")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, watch bool) error {
	logger := newLogger(cfg)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info("store.open", "path", cfg.DBPath)

	reg := buildRegistry(cfg)
	m := metrics.New()

	emitter := event.NewEmitter(buildSinks(cfg, logger), logger)
	defer emitter.Close()

	svc := ingest.NewService(ingest.Deps{
		Store:   st,
		Parsers: reg,
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

	srv, err := server.New(server.Config{
		RateRPS:   cfg.RateLimitRPS,
		RateBurst: cfg.RateLimitBurst,
		Logger:    logger,
	}, server.Deps{Store: st, Parsers: reg, Ingestor: svc, Metrics: m})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if watch {
		w, err := watcher.New(watcherConfig(cfg), watcher.Deps{
			Ingestor: svc,
			Emitter:  emitter,
			Metrics:  m,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(ctx) })
	}

	g.Go(func() error { return srv.ServeTCP(cfg.HTTPAddr) })
	g.Go(func() error {
		// Shut the listener down when the signal context or a sibling
		// failure cancels; ServeTCP then returns nil.
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(stopCtx)
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

func buildSinks(cfg *config.Config, logger *slog.Logger) []event.Sink {
	return event.BuildSinks(event.Options{
		Kinds:       cfg.EmitSinks,
		HTTPURL:     cfg.EmitHTTPURL,
		RedisURL:    cfg.EmitRedisURL,
		RedisList:   cfg.EmitRedisList,
		NATSURL:     cfg.EmitNATSURL,
		NATSSubject: cfg.EmitNATSSubject,
	}, logger)
}

func watcherConfig(cfg *config.Config) watcher.Config {
	return watcher.Config{
		Inbox:       cfg.Inbox,
		SuccessDir:  cfg.SuccessDir,
		FailDir:     cfg.FailDir,
		AllowedExt:  cfg.AllowedExtSet(),
		MaxBytes:    cfg.MaxFileBytes(),
		Workers:     cfg.WatchWorkers,
		QueueSize:   cfg.WatchMaxQueue,
		Stable:      cfg.WatchStable,
		Poll:        cfg.WatchPoll,
		Retries:     cfg.WatchRetries,
		BackoffBase: cfg.WatchBackoffBase,
		Recursive:   cfg.WatchRecursive,
		Profile:     cfg.DefaultProfile,
	}
}
