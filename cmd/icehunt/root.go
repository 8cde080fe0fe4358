package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"icehunt/internal/config"
	"icehunt/internal/logging"
	"icehunt/internal/version"
)

var (
	// configDirFlag is the CLI --config flag value: an alternate working
	// directory holding .icehunt/config.json
	configDirFlag string
	// logLevelFlag is the CLI --log-level flag value
	logLevelFlag string
	// logFormatFlag is the CLI --log-format flag value
	logFormatFlag string
)

var rootCmd = &cobra.Command{
	Use:   "icehunt",
	Short: "icehunt - compiler crash hunting harness",
	Long: `icehunt sweeps generated source files through a compiler under test,
detects internal compiler errors by their diagnostic signatures, and archives
every finding alongside its compiler output. Sweeps are resumable: an
append-only ledger records every processed file, so an interrupted run
picks up exactly where it stopped.`,
	Version: version.Version,
}

func init() {
	// main reports execution errors through the structured logger;
	// letting cobra print them too would report every failure twice.
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate("icehunt version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configDirFlag, "config", "",
		"Working directory holding .icehunt/config.json (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "",
		"Log level: debug, info, warn, error (default from config)")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "",
		"Log format: human or json (default from config)")
}

// mustGetWorkDir returns the harness working directory: the --config
// flag when given, else the current directory. Config-relative paths
// (sweep root, ledger, archive) are anchored here.
func mustGetWorkDir() string {
	if configDirFlag != "" {
		return configDirFlag
	}
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to get working directory: %v\n", err)
		os.Exit(1)
	}
	return cwd
}

// loadConfigOrExit loads the configuration for workDir and applies the
// persistent logging flag overrides.
func loadConfigOrExit(workDir string) *config.Config {
	cfg, err := config.LoadConfig(workDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if logLevelFlag != "" {
		cfg.Logging.Level = logLevelFlag
	}
	if logFormatFlag != "" {
		cfg.Logging.Format = logFormatFlag
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// resolvePath anchors a config-relative path at the working directory.
// Absolute paths pass through unchanged.
func resolvePath(workDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workDir, path)
}

// newLogger builds the process logger from the effective configuration.
func newLogger(cfg *config.Config) *logging.Logger {
	return logging.NewLogger(logging.Config{
		Format: logging.Format(cfg.Logging.Format),
		Level:  logging.LogLevel(cfg.Logging.Level),
	})
}
