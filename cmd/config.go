package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "codecli"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage codecli configuration.

Values come from flags, CODECLI_* environment variables, the config file
and built-in defaults, in that order. Running bare 'codecli config' is the
same as 'codecli config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# codecli configuration
# See: codecli config show (for effective values and sources)

# State/data directory (default: ~/.config/codecli)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/codecli/codecli.db)
# db_path: {{ .DBPath }}

log:
  # debug, info, warn or error
  level: "{{ .LogLevel }}"
  # text or json
  format: "{{ .LogFormat }}"

# API server ('codecli serve')
server:
  port: {{ .ServerPort }}
  # Base URL the workflow engine uses to call back (default: http://localhost:<port>)
  public_url: "{{ .ServerPublicURL }}"
  # Server the chat client talks to
  url: "{{ .ServerURL }}"

# Workflow engine webhook; replies are a not-configured notice when empty
workflow:
  url: "{{ .WorkflowURL }}"
  timeout: "{{ .WorkflowTimeout }}"

chat:
  # Working directory for sessions created without an explicit path
  default_path: "{{ .ChatDefaultPath }}"

attachments:
  max_bytes: {{ .AttachmentsMaxBytes }}

# Client polling while a reply is pending
poll:
  interval: "{{ .PollInterval }}"
  max_attempts: {{ .PollMaxAttempts }}

# Local engine ('codecli engine')
engine:
  port: {{ .EnginePort }}
  # echo or anthropic
  responder: "{{ .EngineResponder }}"
  delay: "{{ .EngineDelay }}"

anthropic:
  # api_key: set CODECLI_ANTHROPIC_API_KEY instead of storing it here
  model: "{{ .AnthropicModel }}"
`

type configTemplateData struct {
	StateDir            string
	DBPath              string
	LogLevel            string
	LogFormat           string
	ServerPort          int
	ServerPublicURL     string
	ServerURL           string
	WorkflowURL         string
	WorkflowTimeout     string
	ChatDefaultPath     string
	AttachmentsMaxBytes int64
	PollInterval        string
	PollMaxAttempts     int
	EnginePort          int
	EngineResponder     string
	EngineDelay         string
	AnthropicModel      string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:            viper.GetString("state_dir"),
		DBPath:              viper.GetString("db_path"),
		LogLevel:            viper.GetString("log.level"),
		LogFormat:           viper.GetString("log.format"),
		ServerPort:          viper.GetInt("server.port"),
		ServerPublicURL:     viper.GetString("server.public_url"),
		ServerURL:           viper.GetString("server.url"),
		WorkflowURL:         viper.GetString("workflow.url"),
		WorkflowTimeout:     viper.GetDuration("workflow.timeout").String(),
		ChatDefaultPath:     viper.GetString("chat.default_path"),
		AttachmentsMaxBytes: viper.GetInt64("attachments.max_bytes"),
		PollInterval:        viper.GetDuration("poll.interval").String(),
		PollMaxAttempts:     viper.GetInt("poll.max_attempts"),
		EnginePort:          viper.GetInt("engine.port"),
		EngineResponder:     viper.GetString("engine.responder"),
		EngineDelay:         viper.GetDuration("engine.delay").String(),
		AnthropicModel:      viper.GetString("anthropic.model"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
	Secret bool
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "CODECLI_STATE_DIR"},
	{Key: "db_path", EnvVar: "CODECLI_DB_PATH"},
	{Key: "log.level", EnvVar: "CODECLI_LOG_LEVEL"},
	{Key: "log.format", EnvVar: "CODECLI_LOG_FORMAT"},
	{Key: "server.port", EnvVar: "CODECLI_SERVER_PORT"},
	{Key: "server.public_url", EnvVar: "CODECLI_SERVER_PUBLIC_URL"},
	{Key: "server.url", EnvVar: "CODECLI_SERVER_URL"},
	{Key: "workflow.url", EnvVar: "CODECLI_WORKFLOW_URL"},
	{Key: "workflow.timeout", EnvVar: "CODECLI_WORKFLOW_TIMEOUT"},
	{Key: "chat.default_path", EnvVar: "CODECLI_CHAT_DEFAULT_PATH"},
	{Key: "attachments.max_bytes", EnvVar: "CODECLI_ATTACHMENTS_MAX_BYTES"},
	{Key: "poll.interval", EnvVar: "CODECLI_POLL_INTERVAL"},
	{Key: "poll.max_attempts", EnvVar: "CODECLI_POLL_MAX_ATTEMPTS"},
	{Key: "engine.port", EnvVar: "CODECLI_ENGINE_PORT"},
	{Key: "engine.responder", EnvVar: "CODECLI_ENGINE_RESPONDER"},
	{Key: "engine.delay", EnvVar: "CODECLI_ENGINE_DELAY"},
	{Key: "anthropic.api_key", EnvVar: "CODECLI_ANTHROPIC_API_KEY", Secret: true},
	{Key: "anthropic.model", EnvVar: "CODECLI_ANTHROPIC_MODEL"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Secret && viper.GetString(k.Key) != "" {
			val = "********"
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-24s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'codecli config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
