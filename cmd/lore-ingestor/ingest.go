package main

import (
	"github.com/spf13/cobra"

	"github.com/ljramones/lore-ingestor/internal/event"
	"github.com/ljramones/lore-ingestor/internal/ingest"
	"github.com/ljramones/lore-ingestor/internal/store"
)

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest FILE",
		Short: "Ingest a single file into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			title, _ := cmd.Flags().GetString("title")
			author, _ := cmd.Flags().GetString("author")
			source, _ := cmd.Flags().GetString("source")
			license, _ := cmd.Flags().GetString("license")
			prof, _ := cmd.Flags().GetString("profile")
			window, _ := cmd.Flags().GetInt("window")
			stride, _ := cmd.Flags().GetInt("stride")
			force, _ := cmd.Flags().GetBool("force")
			if prof == "" {
				prof = cfg.DefaultProfile
			}

			logger := newLogger(cfg)
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			emitter := event.NewEmitter(buildSinks(cfg, logger), logger)
			svc := ingest.NewService(ingest.Deps{
				Store:   st,
				Parsers: buildRegistry(cfg),
				Emitter: emitter,
				Logger:  logger,
			})

			res, ingestErr := svc.IngestFile(cmd.Context(), ingest.Options{
				Path:        args[0],
				Title:       title,
				Author:      author,
				Source:      source,
				License:     license,
				Profile:     prof,
				WindowChars: window,
				StrideChars: stride,
				Force:       force,
				RunParams:   map[string]any{"invoked_by": "cli"},
			})
			// Drain events before printing so sink output lands first.
			_ = emitter.Close()
			if ingestErr != nil {
				return ingestErr
			}

			out := map[string]any{
				"work_id":      res.WorkID,
				"content_sha1": res.ContentSHA1,
				"profile":      res.Profile,
				"sizes":        res.Sizes(),
			}
			if res.Deduped {
				out["deduped"] = true
			}
			return printJSON(out)
		},
	}

	cmd.Flags().String("title", "", "work title")
	cmd.Flags().String("author", "", "work author")
	cmd.Flags().String("source", "", "source label (default: file base name)")
	cmd.Flags().String("license", "", "license label")
	cmd.Flags().String("profile", "", "segmentation profile (default $INGEST_PROFILE or default)")
	cmd.Flags().Int("window", 0, "chunk window in characters (default: profile setting)")
	cmd.Flags().Int("stride", 0, "chunk stride in characters (default: profile setting)")
	cmd.Flags().Bool("force", false, "ingest even when the same content already exists")
	return cmd
}
