// Package config loads engine settings from YAML. The file is optional;
// every field has a working default so a zero-config start is valid.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root engine configuration.
type Config struct {
	Run         RunConfig        `yaml:"run"`
	Breakpoints BreakpointConfig `yaml:"breakpoints"`
	Budget      BudgetConfig     `yaml:"budget"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Logging     LoggingConfig    `yaml:"logging"`
}

// RunConfig bounds run execution.
type RunConfig struct {
	// MaxTurns caps turns per run when the caller does not override it.
	MaxTurns int `yaml:"max_turns"`
}

// BreakpointConfig preconfigures the breakpoint controller.
type BreakpointConfig struct {
	// Armed lists event points armed at startup.
	Armed []string `yaml:"armed"`
	// TurnInterval pauses the run every N turns, zero disables.
	TurnInterval int `yaml:"turn_interval"`
}

// BudgetConfig configures the token budget observer.
type BudgetConfig struct {
	// TokenLimit is the per-run budget, zero disables the warning.
	TokenLimit int `yaml:"token_limit"`
}

// TelemetryConfig configures event persistence.
type TelemetryConfig struct {
	// SQLitePath is the database file for the sqlite exporter. Empty keeps
	// telemetry in memory only.
	SQLitePath string `yaml:"sqlite_path"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Run:     RunConfig{MaxTurns: 10},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML config file, layering it over the defaults. A missing
// file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values that would misbehave at runtime.
func (c Config) Validate() error {
	if c.Run.MaxTurns < 0 {
		return fmt.Errorf("run.max_turns must not be negative")
	}
	if c.Breakpoints.TurnInterval < 0 {
		return fmt.Errorf("breakpoints.turn_interval must not be negative")
	}
	if c.Budget.TokenLimit < 0 {
		return fmt.Errorf("budget.token_limit must not be negative")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}
	return nil
}
