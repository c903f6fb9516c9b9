package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/codecli/internal/chat"
	"github.com/joescharf/codecli/internal/client"
	"github.com/joescharf/codecli/internal/output"
	"github.com/joescharf/codecli/internal/store"
	"github.com/joescharf/codecli/internal/workflow"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool

	buildVersion string
	buildCommit  string
	buildDate    string
)

var rootCmd = &cobra.Command{
	Use:   "codecli",
	Short: "Chat with coding CLIs through a workflow engine",
	Long: `codecli relays chat messages to command-line coding assistants
(Claude Code, Gemini CLI, ...) through an external workflow engine.

Replies arrive asynchronously: a sent message shows "Thinking..." until
the engine calls the server back, and the client polls until it does.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(ui.Out, "codecli %s (commit %s, built %s)\n", buildVersion, buildCommit, buildDate)
	},
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

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return useShowRun()
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/codecli/config.yaml)")

	rootCmd.AddCommand(versionCmd)
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

		configDir := filepath.Join(home, ".config", "codecli")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CODECLI")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	setDefaults(filepath.Join(home, ".config", "codecli"), home)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key with its default value.
func setDefaults(stateDir, home string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(stateDir, "codecli.db"))
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("server.port", 8002)
	viper.SetDefault("server.public_url", "")
	viper.SetDefault("server.url", client.DefaultServerURL)
	viper.SetDefault("workflow.url", "")
	viper.SetDefault("workflow.timeout", "30s")
	viper.SetDefault("chat.default_path", home)
	viper.SetDefault("attachments.max_bytes", chat.DefaultMaxAttachmentBytes)
	viper.SetDefault("poll.interval", client.DefaultPollInterval.String())
	viper.SetDefault("poll.max_attempts", client.DefaultPollMaxAttempts)
	viper.SetDefault("engine.port", 5678)
	viper.SetDefault("engine.responder", "echo")
	viper.SetDefault("engine.delay", "0s")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// The store opens lazily in getStore so config and version run without a db.
}

// newLogger builds the slog logger selected by log.level and log.format.
func newLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log.level"))); err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(viper.GetString("log.format"), "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// publicURL is the callback base advertised to the workflow engine.
func publicURL() string {
	if u := viper.GetString("server.public_url"); u != "" {
		return u
	}
	return fmt.Sprintf("http://localhost:%d", viper.GetInt("server.port"))
}

// newChatService wires the chat service used by serve and mcp.
func newChatService(s store.Store, logger *slog.Logger) *chat.Service {
	engine := workflow.NewClient(viper.GetString("workflow.url"), viper.GetDuration("workflow.timeout"))
	return chat.NewService(s, engine, chat.Config{
		PublicURL:          publicURL(),
		DefaultPath:        viper.GetString("chat.default_path"),
		MaxAttachmentBytes: viper.GetInt64("attachments.max_bytes"),
	}, logger)
}
