package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var findLimit int

var findCmd = &cobra.Command{
	Use:   "find <query>",
	Short: "Search issues by semantic similarity",
	Long: `Search issues by meaning rather than keywords. Results are ranked by
similarity to the query and include done and archived issues.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := getTracker()
		if err != nil {
			return err
		}

		query := strings.Join(args, " ")
		result := t.Find(cmd.Context(), query, findLimit)
		fmt.Fprintln(ui.Out, result)
		return nil
	},
}

func init() {
	findCmd.Flags().IntVarP(&findLimit, "limit", "l", 0, "Maximum results (default 5)")
	rootCmd.AddCommand(findCmd)
}
