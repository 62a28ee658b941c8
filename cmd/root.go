package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/prboard/internal/logging"
	"github.com/joescharf/prboard/internal/output"
	"github.com/joescharf/prboard/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore *store.SQLStore

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "prboard",
	Short: "PR review reporting - ingest review comments and browse structured results",
	Long: `prboard turns free-text PR review comments posted by CI into structured
reports (tests, coverage, critical issues, merge recommendation), stores
them per tenant, and serves them to dashboards.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	err := rootCmd.Execute()
	closeStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/prboard/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		configDir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PRBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers a default for every config key.
func setDefaults() {
	dir, _ := configDirFunc()

	viper.SetDefault("db.driver", "sqlite")
	viper.SetDefault("db.path", filepath.Join(dir, "prboard.db"))
	viper.SetDefault("db.host", "127.0.0.1")
	viper.SetDefault("db.port", 3306)
	viper.SetDefault("db.user", "")
	viper.SetDefault("db.password", "")
	viper.SetDefault("db.name", "prboard")
	viper.SetDefault("db.socket", "")
	viper.SetDefault("db.tls", "")
	viper.SetDefault("db.max_open_conns", 10)

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "120s")
	viper.SetDefault("server.shutdown_timeout", "30s")

	viper.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	viper.SetDefault("anthropic.max_tokens", 8192)
	viper.SetDefault("anthropic.timeout", "90s")
	viper.SetDefault("anthropic.max_retries", 1)
	viper.SetDefault("anthropic.base_url", "")

	viper.SetDefault("auth.session_secret", "")
	viper.SetDefault("auth.session_ttl", "24h")

	viper.SetDefault("dashboard.tenant", "")
	viper.SetDefault("dashboard.page_size", 100)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	viper.SetDefault("github.token", "")

	viper.SetDefault("submit.endpoint", "http://localhost:8080/api/v1/reporting")
	viper.SetDefault("submit.app_id", "")
	viper.SetDefault("submit.app_private_key", "")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	level := viper.GetString("log.level")
	if verbose {
		level = "debug"
	}
	if _, err := logging.Setup(os.Stderr, viper.GetString("log.format"), level, isTerminal(os.Stderr)); err != nil {
		ui.Warning("%v, using info", err)
		_, _ = logging.Setup(os.Stderr, viper.GetString("log.format"), "info", isTerminal(os.Stderr))
	}

	// Initialize store lazily, only when commands actually need it.
	// This allows config/version commands to run without a db.
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

// storeConfig maps db.* keys onto a store configuration.
func storeConfig() store.Config {
	return store.Config{
		Driver:       viper.GetString("db.driver"),
		Path:         viper.GetString("db.path"),
		Host:         viper.GetString("db.host"),
		Port:         viper.GetInt("db.port"),
		User:         viper.GetString("db.user"),
		Password:     viper.GetString("db.password"),
		Name:         viper.GetString("db.name"),
		Socket:       viper.GetString("db.socket"),
		TLS:          viper.GetString("db.tls"),
		MaxOpenConns: viper.GetInt("db.max_open_conns"),
	}
}

// getStore returns the shared store, initializing and migrating it on first call.
func getStore() (*store.SQLStore, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	s, err := store.Open(storeConfig())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(commandContext()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

func closeStore() {
	if dataStore != nil {
		_ = dataStore.Close()
		dataStore = nil
	}
}

func commandContext() context.Context {
	if ctx := rootCmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
