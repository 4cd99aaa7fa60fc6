package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ljramones/lore-ingestor/internal/store"
)

func newWorksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "works",
		Short: "Inspect stored works",
	}
	cmd.PersistentFlags().Bool("json", false, "print JSON instead of a table")
	cmd.AddCommand(newWorksListCmd(), newWorksShowCmd())
	return cmd
}

func newWorksListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List works, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			query, _ := cmd.Flags().GetString("query")
			author, _ := cmd.Flags().GetString("author")
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			asJSON, _ := cmd.Flags().GetBool("json")

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			works, err := st.ListWorks(cmd.Context(), store.ListFilter{
				Query:  query,
				Author: author,
				Limit:  limit,
				Offset: offset,
			})
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(works)
			}
			rows := make([][]string, 0, len(works))
			for _, w := range works {
				rows = append(rows, []string{
					w.ID, w.Title, w.Author, strconv.Itoa(w.CharCount), w.CreatedAt,
				})
			}
			printTable(os.Stdout, []string{"ID", "TITLE", "AUTHOR", "CHARS", "CREATED"}, rows)
			return nil
		},
	}

	cmd.Flags().String("query", "", "substring filter on title")
	cmd.Flags().String("author", "", "substring filter on author")
	cmd.Flags().Int("limit", 0, "maximum rows (default 50, capped at 500)")
	cmd.Flags().Int("offset", 0, "rows to skip")
	return cmd
}

func newWorksShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show WORK_ID",
		Short: "Show one work with its scene and chunk counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			w, err := st.GetWork(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if w == nil {
				return fmt.Errorf("work %s not found", args[0])
			}
			counts, err := st.CountsFor(cmd.Context(), w.ID)
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(map[string]any{
					"work":   w,
					"scenes": counts.Scenes,
					"chunks": counts.Chunks,
				})
			}
			printKV(os.Stdout, [][2]string{
				{"id", w.ID},
				{"title", w.Title},
				{"author", w.Author},
				{"source", w.Source},
				{"license", w.License},
				{"chars", strconv.Itoa(w.CharCount)},
				{"content_sha1", w.ContentSHA1},
				{"run_id", w.IngestRunID},
				{"created_at", w.CreatedAt},
				{"scenes", strconv.Itoa(counts.Scenes)},
				{"chunks", strconv.Itoa(counts.Chunks)},
			})
			return nil
		},
	}
}
