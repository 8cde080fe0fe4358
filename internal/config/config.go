package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the complete harness configuration (v2 schema)
type Config struct {
	Version int `json:"version" mapstructure:"version"`

	Sweep    SweepConfig    `json:"sweep" mapstructure:"sweep"`
	Match    MatchConfig    `json:"match" mapstructure:"match"`
	Coverage CoverageConfig `json:"coverage" mapstructure:"coverage"`
	History  HistoryConfig  `json:"history" mapstructure:"history"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
}

// SweepConfig contains sweep harness configuration
type SweepConfig struct {
	Root           string `json:"root" mapstructure:"root"`
	LedgerPath     string `json:"ledgerPath" mapstructure:"ledgerPath"`
	ArchiveRoot    string `json:"archiveRoot" mapstructure:"archiveRoot"`
	FileSuffix     string `json:"fileSuffix" mapstructure:"fileSuffix"`
	BatchSize      int    `json:"batchSize" mapstructure:"batchSize"`
	TimeoutSec     int    `json:"timeoutSec" mapstructure:"timeoutSec"`
	Workers        int    `json:"workers" mapstructure:"workers"`
	Toolchain      string `json:"toolchain" mapstructure:"toolchain"`
	ToolchainsFile string `json:"toolchainsFile" mapstructure:"toolchainsFile"`
	SignaturesFile string `json:"signaturesFile" mapstructure:"signaturesFile"`
}

// MatchConfig contains structural similarity matcher configuration
type MatchConfig struct {
	Threshold  float64 `json:"threshold" mapstructure:"threshold"`
	OutputRoot string  `json:"outputRoot" mapstructure:"outputRoot"`
	Workers    int     `json:"workers" mapstructure:"workers"`
}

// CoverageConfig contains coverage fragment merging configuration
type CoverageConfig struct {
	Enabled        bool   `json:"enabled" mapstructure:"enabled"`
	FragmentDir    string `json:"fragmentDir" mapstructure:"fragmentDir"`
	IndexPath      string `json:"indexPath" mapstructure:"indexPath"`
	MergeThreshold int    `json:"mergeThreshold" mapstructure:"mergeThreshold"`
}

// HistoryConfig contains run-history database configuration
type HistoryConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: 2,
		Sweep: SweepConfig{
			Root:           "code_gen",
			LedgerPath:     "pending_review/checked_files.log",
			ArchiveRoot:    "pending_review/ice",
			FileSuffix:     ".rs",
			BatchSize:      50,
			TimeoutSec:     10,
			Workers:        1,
			Toolchain:      "nightly",
			ToolchainsFile: "toolchains.toml",
			SignaturesFile: "",
		},
		Match: MatchConfig{
			Threshold:  0.6,
			OutputRoot: "matched",
			Workers:    4,
		},
		Coverage: CoverageConfig{
			Enabled:        false,
			FragmentDir:    "coverage_incoming",
			IndexPath:      "fuzzing_total.profdata",
			MergeThreshold: 20,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "",
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// LoadConfig loads configuration from .icehunt/config.json under workDir.
// A missing config file yields the defaults.
func LoadConfig(workDir string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(workDir, ".icehunt"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to .icehunt/config.json
func (c *Config) Save(workDir string) error {
	dir := filepath.Join(workDir, ".icehunt")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Sweep.BatchSize <= 0 {
		return &ConfigError{Field: "sweep.batchSize", Message: "must be positive"}
	}
	if c.Sweep.TimeoutSec <= 0 {
		return &ConfigError{Field: "sweep.timeoutSec", Message: "must be positive"}
	}
	if c.Sweep.Workers <= 0 {
		return &ConfigError{Field: "sweep.workers", Message: "must be positive"}
	}
	if c.Sweep.FileSuffix == "" {
		return &ConfigError{Field: "sweep.fileSuffix", Message: "must not be empty"}
	}
	if c.Match.Threshold < 0 || c.Match.Threshold > 1 {
		return &ConfigError{Field: "match.threshold", Message: "must be in [0, 1]"}
	}
	if c.Coverage.Enabled && c.Coverage.MergeThreshold <= 0 {
		return &ConfigError{Field: "coverage.mergeThreshold", Message: "must be positive when coverage is enabled"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
