// Package config loads the typestore configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvEnvironment   = "TYPESTORE_ENVIRONMENT"
	EnvDriver        = "TYPESTORE_DRIVER"
	EnvMongoURI      = "TYPESTORE_MONGO_URI"
	EnvMongoDatabase = "TYPESTORE_MONGO_DATABASE"
	EnvRemoteURL     = "TYPESTORE_REMOTE_URL"
	EnvRemoteToken   = "TYPESTORE_REMOTE_TOKEN"
	EnvChangefeed    = "TYPESTORE_CHANGEFEED"
	EnvNatsURL       = "TYPESTORE_NATS_URL"
	EnvLogLevel      = "TYPESTORE_LOG_LEVEL"
	EnvTxMaxAttempts = "TYPESTORE_TX_MAX_ATTEMPTS"
)

const (
	defaultEnvironment = "server"
	defaultMaxAttempts = 5
	defaultConfigFile  = "config.yml"
	defaultLocalConfig = "config.local.yml"
)

// Config holds the client configuration
type Config struct {
	// Environment is the runtime documents are read in: server or client
	Environment string `yaml:"environment"`

	Driver      DriverConfig      `yaml:"driver"`
	Changefeed  ChangefeedConfig  `yaml:"changefeed"`
	Transaction TransactionConfig `yaml:"transaction"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// TransactionConfig holds transaction retry settings
type TransactionConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Environment: defaultEnvironment,
		Driver:      DefaultDriverConfig(),
		Changefeed:  DefaultChangefeedConfig(),
		Transaction: TransactionConfig{MaxAttempts: defaultMaxAttempts},
		Logging:     DefaultLoggingConfig(),
	}
}

// Load loads configuration from dir and environment variables.
// Order: defaults -> config.yml -> config.local.yml -> ApplyEnvOverrides -> ResolvePaths -> Validate
func Load(dir string) (*Config, error) {
	// 1. Start with default values (so YAML can override them, including bool fields)
	cfg := Default()

	// 2. Load config.yml (overrides defaults)
	loadFile(filepath.Join(dir, defaultConfigFile), cfg)

	// 3. Load config.local.yml (overrides config.yml)
	loadFile(filepath.Join(dir, defaultLocalConfig), cfg)

	// 4. Apply the section lifecycle
	if err := cfg.Finalize(dir); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// Finalize runs defaults, env overrides, path resolution and validation.
func (c *Config) Finalize(configDir string) error {
	c.applyEnvOverrides()
	if c.Environment == "" {
		c.Environment = defaultEnvironment
	}
	if c.Transaction.MaxAttempts <= 0 {
		c.Transaction.MaxAttempts = defaultMaxAttempts
	}
	if err := ApplySections(configDir, &c.Driver, &c.Changefeed, &c.Logging); err != nil {
		return err
	}
	return c.validate()
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvEnvironment); v != "" {
		c.Environment = v
	}
	if v := os.Getenv(EnvTxMaxAttempts); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Transaction.MaxAttempts = n
		} else {
			slog.Warn("Ignoring invalid environment override", "name", EnvTxMaxAttempts, "value", v)
		}
	}
}

func (c *Config) validate() error {
	switch c.Environment {
	case "server", "client":
	default:
		return fmt.Errorf("invalid environment: %s (must be server or client)", c.Environment)
	}
	if c.Transaction.MaxAttempts > 100 {
		return fmt.Errorf("transaction.max_attempts too large: %d", c.Transaction.MaxAttempts)
	}
	return nil
}

func loadFile(filename string, cfg *Config) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return // File doesn't exist, skip
		}
		slog.Warn("Error reading config file", "file", filename, "error", err)
		return
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("Error parsing config file", "file", filename, "error", err)
	}
}
