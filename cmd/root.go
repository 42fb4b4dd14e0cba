package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"trackd/internal/ai"
	"trackd/internal/output"
	"trackd/internal/store"
	"trackd/internal/tracker"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "trackd",
	Short: "AI-native issue tracker - tell it what happened, ask it what matters",
	Long: `trackd is an issue tracker built for AI agents and the humans they work with.
Report work in natural language with 'tell', ask questions about open work
with 'ask', and fetch full issue detail with 'get'. Duplicate detection,
field extraction, and prioritization happen automatically.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/trackd/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "trackd")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TRACKD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	viper.SetDefault("db.url", "postgres://localhost:5432/trackd?sslmode=disable")
	viper.SetDefault("db.dimensions", store.DefaultDimensions)
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("openai.api_key", "")
	viper.SetDefault("openai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("tracker.duplicate_threshold", 0.85)
	viper.SetDefault("tracker.related_threshold", 0.70)
	viper.SetDefault("tracker.max_trackable_priority", 4)
	viper.SetDefault("tracker.thread_context_limit", 20)
	viper.SetDefault("tracker.search_limit", 5)
	viper.SetDefault("tracker.ask_search_limit", 10)
	viper.SetDefault("serve.addr", ":8080")
	viper.SetDefault("serve.base_url", "")
	viper.SetDefault("serve.dashboard_token", "")
	viper.SetDefault("serve.api_token", "")
	viper.SetDefault("serve.secure_cookies", false)
	viper.SetDefault("serve.log_file", "")
	viper.SetDefault("slack.signing_secret", "")
	viper.SetDefault("slack.bot_token", "")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	// The store and model clients are initialized lazily so config and
	// version commands can run without a database or API keys.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	ctx := rootCmd.Context()
	s, err := store.NewPostgresStore(ctx, store.Config{
		URL:        viper.GetString("db.url"),
		Dimensions: viper.GetInt("db.dimensions"),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.EnsureSchema(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getAIClient builds the Anthropic client from config.
func getAIClient() (*ai.Client, error) {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic.api_key is not set (TRACKD_ANTHROPIC_API_KEY)")
	}
	return ai.NewClient(apiKey, viper.GetString("anthropic.model")), nil
}

// getEmbedder builds the embedding client from config.
func getEmbedder() (*ai.Embedder, error) {
	apiKey := viper.GetString("openai.api_key")
	if apiKey == "" {
		return nil, fmt.Errorf("openai.api_key is not set (TRACKD_OPENAI_API_KEY)")
	}
	return ai.NewEmbedder(apiKey, viper.GetString("openai.embedding_model"), viper.GetInt("db.dimensions")), nil
}

// trackerConfig reads the pipeline tuning from viper.
func trackerConfig() tracker.Config {
	cfg := tracker.DefaultConfig()
	cfg.DuplicateThreshold = viper.GetFloat64("tracker.duplicate_threshold")
	cfg.RelatedThreshold = viper.GetFloat64("tracker.related_threshold")
	cfg.MaxTrackablePriority = viper.GetInt("tracker.max_trackable_priority")
	cfg.ThreadContextLimit = viper.GetInt("tracker.thread_context_limit")
	cfg.SearchLimit = viper.GetInt("tracker.search_limit")
	cfg.AskSearchLimit = viper.GetInt("tracker.ask_search_limit")
	return cfg
}

// getTracker wires the store and model clients into the shared pipeline.
func getTracker() (*tracker.Tracker, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}

	client, err := getAIClient()
	if err != nil {
		return nil, err
	}

	embedder, err := getEmbedder()
	if err != nil {
		return nil, err
	}

	return tracker.New(s, client, embedder, client, client, trackerConfig(), nil), nil
}
