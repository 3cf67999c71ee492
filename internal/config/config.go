// Package config handles configuration loading for dcfscan.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/dcfscan/dcfscan/pkg/models"
)

// Config represents the complete application configuration.
type Config struct {
	Datasource DatasourceConfig `mapstructure:"datasource" yaml:"datasource"`
	Valuation  ValuationConfig  `mapstructure:"valuation"  yaml:"valuation"`
	Store      StoreConfig      `mapstructure:"store"      yaml:"store"`
	Batch      BatchConfig      `mapstructure:"batch"      yaml:"batch"`
	API        APIConfig        `mapstructure:"api"        yaml:"api"`
	Logging    LoggingConfig    `mapstructure:"logging"    yaml:"logging"`
}

// DatasourceConfig selects and tunes the external fetch collaborator.
type DatasourceConfig struct {
	Provider string `mapstructure:"provider"  yaml:"provider"` // "stockanalysis" or "csv"
	CSVDir   string `mapstructure:"csv_dir"   yaml:"csv_dir"`
	// Lookback limits fetched history to the most recent N fiscal years.
	// Zero fetches everything available.
	Lookback int `mapstructure:"lookback" yaml:"lookback"`
}

// ValuationConfig holds the default model parameters. Named presets and
// per-run flags both override these.
type ValuationConfig struct {
	WACC                float64 `mapstructure:"wacc"                  yaml:"wacc"`
	TerminalGrowth      float64 `mapstructure:"terminal_growth"       yaml:"terminal_growth"`
	GrowthRate          float64 `mapstructure:"growth_rate"           yaml:"growth_rate"`
	ProjectionYears     int     `mapstructure:"projection_years"      yaml:"projection_years"`
	MarginOfSafety      float64 `mapstructure:"margin_of_safety"      yaml:"margin_of_safety"`
	Input               string  `mapstructure:"input"                 yaml:"input"` // "fcf" or "eps"
	NormalizationYears  int     `mapstructure:"normalization_years"   yaml:"normalization_years"`
	Mode                string  `mapstructure:"mode"                  yaml:"mode"` // "per_share" or "equity_bridge"
	UndervaluedAbovePct float64 `mapstructure:"undervalued_above_pct" yaml:"undervalued_above_pct"`
	OvervaluedBelowPct  float64 `mapstructure:"overvalued_below_pct"  yaml:"overvalued_below_pct"`
}

// ToParameters converts the config section to model parameters.
func (v ValuationConfig) ToParameters() models.Parameters {
	return models.Parameters{
		WACC:                v.WACC,
		TerminalGrowth:      v.TerminalGrowth,
		GrowthRate:          v.GrowthRate,
		ProjectionYears:     v.ProjectionYears,
		MarginOfSafety:      v.MarginOfSafety,
		Input:               models.InputMetric(v.Input),
		NormalizationYears:  v.NormalizationYears,
		Mode:                models.CalcMode(v.Mode),
		UndervaluedAbovePct: v.UndervaluedAbovePct,
		OvervaluedBelowPct:  v.OvervaluedBelowPct,
	}
}

// StoreConfig selects the history backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // "memory" or "postgres"
	DSN     string `mapstructure:"dsn"     yaml:"dsn"`
}

// BatchConfig tunes batch valuation runs.
type BatchConfig struct {
	Workers int `mapstructure:"workers" yaml:"workers"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.dcfscan/config.yaml (home directory)
//  3. /etc/dcfscan/config.yaml (system)
//
// Environment variables override config file values.
// Format: DCFSCAN_<SECTION>_<KEY>, e.g., DCFSCAN_STORE_DSN
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".dcfscan"))
	v.AddConfigPath("/etc/dcfscan")

	v.SetEnvPrefix("DCFSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults + env vars.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("DCFSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Datasource defaults
	v.SetDefault("datasource.provider", "stockanalysis")
	v.SetDefault("datasource.csv_dir", "./data")
	v.SetDefault("datasource.lookback", 10)

	// Valuation defaults mirror the moderate preset.
	v.SetDefault("valuation.wacc", 0.10)
	v.SetDefault("valuation.terminal_growth", 0.025)
	v.SetDefault("valuation.growth_rate", 0.08)
	v.SetDefault("valuation.projection_years", 5)
	v.SetDefault("valuation.margin_of_safety", 0.0)
	v.SetDefault("valuation.input", "fcf")
	v.SetDefault("valuation.normalization_years", 5)
	v.SetDefault("valuation.mode", "per_share")
	v.SetDefault("valuation.undervalued_above_pct", 10.0)
	v.SetDefault("valuation.overvalued_below_pct", -10.0)

	// Store defaults
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.dsn", "")

	// Batch defaults
	v.SetDefault("batch.workers", 4)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
