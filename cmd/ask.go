package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about tracked work",
	Long: `Ask a question answered from the current issues. The answer is grounded
in active issues plus any archived or done issues the question matches.

Examples:
  trackd ask "what should I work on next?"
  trackd ask "is anything blocking the release?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := getTracker()
		if err != nil {
			return err
		}

		question := strings.Join(args, " ")
		result := t.Ask(cmd.Context(), question)
		fmt.Fprintln(ui.Out, result)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
}
