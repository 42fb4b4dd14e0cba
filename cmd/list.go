package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	"trackd/internal/format"
	"trackd/internal/output"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all issues grouped by status",
	Long: `List every tracked issue in a table, grouped active, open, done, then
archived, with priority ordering inside each group.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listRun()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func listRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := rootCmd.Context()

	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}

	issues, err := s.ListByStatus(ctx)
	if err != nil {
		return err
	}

	if len(issues) == 0 {
		ui.Info("No issues tracked. Use 'trackd tell <message>' to get started.")
		return nil
	}

	ids := make([]string, len(issues))
	for i, issue := range issues {
		ids[i] = issue.ID
	}
	stats, err := s.ThreadStatsBatch(ctx, ids)
	if err != nil {
		return err
	}

	table := ui.Table([]string{"ID", "Pri", "Status", "Type", "Title", "Msgs", "Updated"})

	for _, issue := range issues {
		st := stats[issue.ID]
		table.Append([]string{
			output.Cyan(issue.ID),
			output.PriorityColor(issue.Priority),
			output.StatusColor(string(issue.Status)),
			string(issue.Type),
			issue.Title,
			strconv.Itoa(st.MessageCount),
			format.TimeAgo(issue.UpdatedAt),
		})
	}

	return table.Render()
}
