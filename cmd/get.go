package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <issue-id>",
	Short: "Show full detail and thread for one issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := getTracker()
		if err != nil {
			return err
		}

		result := t.Get(cmd.Context(), args[0])
		fmt.Fprintln(ui.Out, result)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
}
