package cmd

import (
	"github.com/spf13/cobra"

	"trackd/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets coding agents report and query work natively. Configure with:

  {
    "mcpServers": {
      "trackd": { "command": "trackd", "args": ["mcp"] }
    }
  }

Available tools: trackd_tell, trackd_ask, trackd_get, trackd_find`,
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := getTracker()
		if err != nil {
			return err
		}
		return mcp.NewServer(t).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
