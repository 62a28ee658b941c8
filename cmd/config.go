package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
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
	return filepath.Join(home, ".config", "prboard"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage prboard configuration.

Running bare 'prboard config' is the same as 'prboard config show'.`,
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
const configTemplate = `# prboard configuration
# See: prboard config show (for effective values and sources)
# Every key can also be set as PRBOARD_<SECTION>_<KEY>, e.g. PRBOARD_DB_PASSWORD.

db:
  # "sqlite" for local use, "mysql" for production
  driver: "{{ .DBDriver }}"
  # SQLite database file
  path: "{{ .DBPath }}"
  # MySQL connection (db.socket wins over host/port, e.g. /cloudsql/project:region:instance)
  host: "{{ .DBHost }}"
  port: {{ .DBPort }}
  name: "{{ .DBName }}"
  # user: ""
  # password: ""
  # socket: ""
  # TLS mode: "", "true", "skip-verify", "preferred"
  # tls: ""
  max_open_conns: {{ .DBMaxOpenConns }}

server:
  port: {{ .ServerPort }}
  # read_timeout: 15s
  # write_timeout: 120s
  # shutdown_timeout: 30s

anthropic:
  model: "{{ .AnthropicModel }}"
  # Per-request bound on the model call
  timeout: {{ .AnthropicTimeout }}
  max_retries: {{ .AnthropicMaxRetries }}
  # max_tokens: 8192
  # base_url: ""

auth:
  # HS256 secret for dashboard session tokens (required by serve and token)
  # session_secret: ""
  session_ttl: {{ .SessionTTL }}

dashboard:
  # Tenant shown when a session token carries none (empty: all tenants)
  tenant: "{{ .DashboardTenant }}"
  page_size: {{ .PageSize }}

log:
  # debug, info, warn, error
  level: "{{ .LogLevel }}"
  # text or json
  format: "{{ .LogFormat }}"

# github:
#   token: ""

submit:
  endpoint: "{{ .SubmitEndpoint }}"
  # app_id: ""
  # app_private_key: ""
`

type configTemplateData struct {
	DBDriver            string
	DBPath              string
	DBHost              string
	DBPort              int
	DBName              string
	DBMaxOpenConns      int
	ServerPort          int
	AnthropicModel      string
	AnthropicTimeout    string
	AnthropicMaxRetries int
	SessionTTL          string
	DashboardTenant     string
	PageSize            int
	LogLevel            string
	LogFormat           string
	SubmitEndpoint      string
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
		DBDriver:            viper.GetString("db.driver"),
		DBPath:              viper.GetString("db.path"),
		DBHost:              viper.GetString("db.host"),
		DBPort:              viper.GetInt("db.port"),
		DBName:              viper.GetString("db.name"),
		DBMaxOpenConns:      viper.GetInt("db.max_open_conns"),
		ServerPort:          viper.GetInt("server.port"),
		AnthropicModel:      viper.GetString("anthropic.model"),
		AnthropicTimeout:    viper.GetString("anthropic.timeout"),
		AnthropicMaxRetries: viper.GetInt("anthropic.max_retries"),
		SessionTTL:          viper.GetString("auth.session_ttl"),
		DashboardTenant:     viper.GetString("dashboard.tenant"),
		PageSize:            viper.GetInt("dashboard.page_size"),
		LogLevel:            viper.GetString("log.level"),
		LogFormat:           viper.GetString("log.format"),
		SubmitEndpoint:      viper.GetString("submit.endpoint"),
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
	Secret bool
}

var configKeys = []configKeyInfo{
	{Key: "db.driver"},
	{Key: "db.path"},
	{Key: "db.host"},
	{Key: "db.port"},
	{Key: "db.user"},
	{Key: "db.password", Secret: true},
	{Key: "db.name"},
	{Key: "db.socket"},
	{Key: "db.tls"},
	{Key: "db.max_open_conns"},
	{Key: "server.port"},
	{Key: "server.read_timeout"},
	{Key: "server.write_timeout"},
	{Key: "server.shutdown_timeout"},
	{Key: "anthropic.model"},
	{Key: "anthropic.max_tokens"},
	{Key: "anthropic.timeout"},
	{Key: "anthropic.max_retries"},
	{Key: "anthropic.base_url"},
	{Key: "auth.session_secret", Secret: true},
	{Key: "auth.session_ttl"},
	{Key: "dashboard.tenant"},
	{Key: "dashboard.page_size"},
	{Key: "log.level"},
	{Key: "log.format"},
	{Key: "github.token", Secret: true},
	{Key: "submit.endpoint"},
	{Key: "submit.app_id"},
	{Key: "submit.app_private_key", Secret: true},
}

// envVar returns the environment variable that overrides key.
func envVar(key string) string {
	return "PRBOARD_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// displayValue masks secrets that are set.
func displayValue(k configKeyInfo) any {
	val := viper.Get(k.Key)
	if k.Secret && viper.GetString(k.Key) != "" {
		return "********"
	}
	return val
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
		source := detectSource(k.Key, envVar(k.Key), fileValues)
		fmt.Fprintf(ui.Out, "  %-24s %v  %s\n", k.Key, displayValue(k), source)
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
		return fmt.Errorf("config file not found: %s (run 'prboard config init' first)", cfgPath)
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
