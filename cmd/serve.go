package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"trackd/internal/api"
	"trackd/internal/mcp"
	"trackd/internal/slack"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server: dashboard API, Slack webhook, MCP mount",
	Long: `Start the HTTP server. It exposes the dashboard JSON API under /api/v1,
session auth under /api/auth, the Slack events webhook at /api/slack, and
the streamable MCP transport at /mcp (bearer token).

By default it listens on :8080. Use --addr or serve.addr to change it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", ":8080", "listen address")
	_ = viper.BindPFlag("serve.addr", serveCmd.Flags().Lookup("addr"))
}

// serveLogger builds the server logger, rotating to a file when
// serve.log_file is set.
func serveLogger() *slog.Logger {
	var w io.Writer = os.Stderr
	if logFile := viper.GetString("serve.log_file"); logFile != "" {
		w = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     30, // days
		}
	}
	return slog.New(slog.NewTextHandler(w, nil))
}

func serveRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	t, err := getTracker()
	if err != nil {
		return err
	}

	embedder, err := getEmbedder()
	if err != nil {
		return err
	}

	var slackClient api.SlackPoster
	if botToken := viper.GetString("slack.bot_token"); botToken != "" {
		slackClient = slack.NewClient(botToken)
	}

	mcpHandler := mcp.NewServer(t).HTTPHandler()

	logger := serveLogger()
	srv := api.NewServer(s, t, embedder, slackClient, mcpHandler, api.Config{
		DashboardToken:     viper.GetString("serve.dashboard_token"),
		APIToken:           viper.GetString("serve.api_token"),
		SlackSigningSecret: viper.GetString("slack.signing_secret"),
		BaseURL:            viper.GetString("serve.base_url"),
		SecureCookies:      viper.GetBool("serve.secure_cookies"),
	}, logger)

	addr := viper.GetString("serve.addr")
	logger.Info("listening", "addr", addr)
	fmt.Fprintf(ui.Out, "trackd serving on %s\n", addr)
	return http.ListenAndServe(addr, srv.Router())
}
