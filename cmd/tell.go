package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var tellIssueID string

var tellCmd = &cobra.Command{
	Use:   "tell <message>",
	Short: "Report work, decisions, or problems in natural language",
	Long: `Tell the tracker what happened. With no --issue flag it searches for
duplicate or related issues and decides whether to create a new issue or
update an existing one. With --issue it appends directly to that thread.

Examples:
  trackd tell "login page 500s when the session cookie is expired"
  trackd tell --issue wi_a1b2c3d4 "fixed, deploying to staging"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := getTracker()
		if err != nil {
			return err
		}

		message := strings.Join(args, " ")
		result := t.Tell(cmd.Context(), message, tellIssueID)
		fmt.Fprintln(ui.Out, result)
		return nil
	},
}

func init() {
	tellCmd.Flags().StringVarP(&tellIssueID, "issue", "i", "", "Existing issue ID to update (e.g. wi_a1b2c3d4)")
	rootCmd.AddCommand(tellCmd)
}
