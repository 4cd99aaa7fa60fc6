package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ljramones/lore-ingestor/internal/profile"
)

func newProfilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List segmentation profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				return printJSON(profile.Describe())
			}
			rows := make([][]string, 0)
			for _, d := range profile.Describe() {
				rows = append(rows, []string{
					fmt.Sprint(d["name"]),
					fmt.Sprint(d["min_scene_chars"]),
					fmt.Sprint(d["window_chars"]),
					fmt.Sprint(d["stride_chars"]),
					fmt.Sprint(d["break_on_blank"]),
				})
			}
			printTable(os.Stdout, []string{"NAME", "MIN_SCENE", "WINDOW", "STRIDE", "BLANK_BREAK"}, rows)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "print JSON instead of a table")
	return cmd
}
