package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"trackd/internal/models"
	"trackd/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status <issue-id> <open|active|done|archived>",
	Short: "Manually set an issue's status",
	Long: `Set an issue's status directly, bypassing extraction. Archiving hides
the issue from active views without deleting its thread.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusRun(args[0], models.IssueStatus(args[1]))
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusRun(issueID string, status models.IssueStatus) error {
	if !models.ValidStatus(status) {
		return fmt.Errorf("invalid status %q (want open, active, done, or archived)", status)
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := rootCmd.Context()

	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}

	if err := s.SetStatus(ctx, issueID, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("issue not found: %s", issueID)
		}
		return err
	}

	ui.Success("%s is now %s", issueID, status)
	return nil
}
