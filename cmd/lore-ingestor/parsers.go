package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newParsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parsers",
		Short: "List supported file extensions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			reg := buildRegistry(cfg)
			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				return printJSON(map[string]any{"parsers": reg.Exts()})
			}
			rows := make([][]string, 0)
			for _, ext := range reg.Exts() {
				p, err := reg.ForPath("probe" + ext)
				if err != nil {
					continue
				}
				rows = append(rows, []string{ext, p.Name()})
			}
			printTable(os.Stdout, []string{"EXT", "PARSER"}, rows)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "print JSON instead of a table")
	return cmd
}
