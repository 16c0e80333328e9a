// Package config loads and validates reportlens configuration.
// Configuration comes from a YAML file with environment variable overrides;
// every field has a safe default so the system runs with no config at all.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all reportlens configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Oracle configuration (semantic extraction)
	Oracle OracleConfig `yaml:"oracle"`

	// Capability catalog configuration
	Catalog CatalogConfig `yaml:"catalog"`

	// Turn engine configuration
	Engine EngineConfig `yaml:"engine"`

	// Conversation memory storage
	Memory MemoryConfig `yaml:"memory"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// OracleConfig configures the semantic extraction oracle.
type OracleConfig struct {
	Provider string `yaml:"provider"` // gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"`
	Retries  int    `yaml:"retries"`
}

// CatalogConfig configures the capability catalog snapshot.
type CatalogConfig struct {
	Path           string  `yaml:"path"`
	SnapshotDB     string  `yaml:"snapshot_db"`
	FreshnessHours float64 `yaml:"freshness_hours"`
	Watch          bool    `yaml:"watch"`
}

// EngineConfig configures the turn orchestrator.
type EngineConfig struct {
	MaxSteps          int    `yaml:"max_steps"`
	MaxSwitchAttempts int    `yaml:"max_switch_attempts"`
	MaxRepairAttempts int    `yaml:"max_repair_attempts"`
	WritesEnabled     bool   `yaml:"writes_enabled"`
	BackendTimeout    string `yaml:"backend_timeout"`
}

// MemoryConfig configures cross-turn conversation storage.
type MemoryConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures categorized logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
	Directory  string          `yaml:"directory"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Name:    "reportlens",
		Version: "1.0.0",
		Oracle: OracleConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
			Timeout:  "30s",
			Retries:  1,
		},
		Catalog: CatalogConfig{
			Path:           "catalog.yaml",
			SnapshotDB:     ".reportlens/catalog.db",
			FreshnessHours: 24,
			Watch:          false,
		},
		Engine: EngineConfig{
			MaxSteps:          5,
			MaxSwitchAttempts: 4,
			MaxRepairAttempts: 1,
			WritesEnabled:     false,
			BackendTimeout:    "60s",
		},
		Memory: MemoryConfig{
			DatabasePath: ".reportlens/sessions.db",
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
			Directory: ".reportlens/logs",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults when
// the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Oracle.APIKey = key
		if c.Oracle.Provider == "" {
			c.Oracle.Provider = "gemini"
		}
	}
	if key := os.Getenv("REPORTLENS_ORACLE_KEY"); key != "" {
		c.Oracle.APIKey = key
	}
	if model := os.Getenv("REPORTLENS_ORACLE_MODEL"); model != "" {
		c.Oracle.Model = model
	}
	if path := os.Getenv("REPORTLENS_CATALOG"); path != "" {
		c.Catalog.Path = path
	}
	if path := os.Getenv("REPORTLENS_DB"); path != "" {
		c.Memory.DatabasePath = path
	}
	if v := os.Getenv("REPORTLENS_WRITES_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Engine.WritesEnabled = enabled
		}
	}
	if v := os.Getenv("REPORTLENS_DEBUG"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = enabled
		}
	}
}

// GetOracleTimeout returns the oracle call timeout as a duration.
func (c *Config) GetOracleTimeout() time.Duration {
	d, err := time.ParseDuration(c.Oracle.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetBackendTimeout returns the report backend timeout as a duration.
func (c *Config) GetBackendTimeout() time.Duration {
	d, err := time.ParseDuration(c.Engine.BackendTimeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetOracleRetries returns the bounded oracle retry count. The contract is
// exactly one retry; values outside [0,1] are clamped.
func (c *Config) GetOracleRetries() int {
	if c.Oracle.Retries < 0 {
		return 0
	}
	if c.Oracle.Retries > 1 {
		return 1
	}
	return c.Oracle.Retries
}

// GetMaxSteps returns the orchestrator loop bound.
func (c *Config) GetMaxSteps() int {
	if c.Engine.MaxSteps <= 0 {
		return 5
	}
	return c.Engine.MaxSteps
}

// GetMaxSwitchAttempts returns the candidate switch budget.
func (c *Config) GetMaxSwitchAttempts() int {
	if c.Engine.MaxSwitchAttempts <= 0 {
		return 4
	}
	return c.Engine.MaxSwitchAttempts
}

// GetMaxRepairAttempts returns the repair budget.
func (c *Config) GetMaxRepairAttempts() int {
	if c.Engine.MaxRepairAttempts < 0 {
		return 1
	}
	return c.Engine.MaxRepairAttempts
}

// GetCatalogFreshness returns the catalog freshness window.
func (c *Config) GetCatalogFreshness() time.Duration {
	hours := c.Catalog.FreshnessHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours * float64(time.Hour))
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config name is required")
	}
	if c.Oracle.Provider != "" && c.Oracle.Provider != "gemini" {
		return fmt.Errorf("unsupported oracle provider: %s", c.Oracle.Provider)
	}
	if c.Engine.MaxSteps < 0 {
		return fmt.Errorf("engine max_steps must not be negative")
	}
	if c.Catalog.FreshnessHours < 0 {
		return fmt.Errorf("catalog freshness_hours must not be negative")
	}
	if _, err := time.ParseDuration(c.Oracle.Timeout); c.Oracle.Timeout != "" && err != nil {
		return fmt.Errorf("invalid oracle timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Engine.BackendTimeout); c.Engine.BackendTimeout != "" && err != nil {
		return fmt.Errorf("invalid backend timeout: %w", err)
	}
	return nil
}
