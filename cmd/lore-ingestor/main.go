// Command lore-ingestor runs the document ingest service and its
// maintenance tools: an HTTP API plus inbox watcher (serve), one-shot
// ingestion (ingest), a standalone watcher (watch), and read-side helpers
// against the same SQLite store.
//
// Configuration comes from the environment, with an optional .env file for
// development. Flags override the environment for the fields they cover.
// The logger is built per command and passed to every component; nothing
// writes through a global.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ljramones/lore-ingestor/internal/config"
	"github.com/ljramones/lore-ingestor/internal/logging"
	"github.com/ljramones/lore-ingestor/internal/parser"
	"github.com/ljramones/lore-ingestor/internal/parser/docx"
	"github.com/ljramones/lore-ingestor/internal/parser/pdf"
	"github.com/ljramones/lore-ingestor/internal/parser/plain"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "lore-ingestor",
		Short:        "Document ingest service",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("db", "", "SQLite database path (default $DB_PATH or lore.db)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (default $LOG_LEVEL or info)")
	rootCmd.PersistentFlags().String("log-format", "", "log format: text or json (default $LOG_FORMAT or text)")

	rootCmd.AddCommand(
		newServeCmd(),
		newIngestCmd(),
		newWatchCmd(),
		newResegmentCmd(),
		newWorksCmd(),
		newProfilesCmd(),
		newParsersCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the environment configuration and applies the shared
// persistent flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		cfg.DBPath = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.LogFormat = v
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
}

// buildRegistry registers one parser per supported extension family. The
// registry decides per path; ALLOWED_EXT additionally gates the watcher.
func buildRegistry(cfg *config.Config) *parser.Registry {
	reg := parser.NewRegistry()
	reg.Register(plain.New(), ".txt", ".md")
	reg.Register(pdf.New(), ".pdf")
	reg.Register(&docx.Parser{StripHeaderFooter: cfg.DocxStripHeaders}, ".docx")
	return reg
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
