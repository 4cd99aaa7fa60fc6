package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ljramones/lore-ingestor/internal/ingest"
	"github.com/ljramones/lore-ingestor/internal/store"
)

func newResegmentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resegment WORK_ID",
		Short: "Recompute scenes and chunks for a stored work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			prof, _ := cmd.Flags().GetString("profile")
			window, _ := cmd.Flags().GetInt("window")
			stride, _ := cmd.Flags().GetInt("stride")

			logger := newLogger(cfg)
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			svc := ingest.NewService(ingest.Deps{Store: st, Parsers: buildRegistry(cfg), Logger: logger})
			res, err := svc.Resegment(cmd.Context(), args[0], ingest.Options{
				Profile:     prof,
				WindowChars: window,
				StrideChars: stride,
			})
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("work %s not found", args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"work_id": res.WorkID,
				"profile": res.Profile,
				"sizes":   res.Sizes(),
			})
		},
	}

	cmd.Flags().String("profile", "", "segmentation profile (default: default)")
	cmd.Flags().Int("window", 0, "chunk window in characters (default: profile setting)")
	cmd.Flags().Int("stride", 0, "chunk stride in characters (default: profile setting)")
	return cmd
}
