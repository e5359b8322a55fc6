package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string         `yaml:"level"`  // debug, info, warn, error
	Format   string         `yaml:"format"` // text, json
	Dir      string         `yaml:"dir"`    // where file output goes
	Rotation RotationConfig `yaml:"rotation"`
	Console  OutputConfig   `yaml:"console"`
	File     OutputConfig   `yaml:"file"`
}

// RotationConfig is handed to lumberjack for both log files.
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // MB
	MaxBackups int  `yaml:"max_backups"` // files kept
	MaxAge     int  `yaml:"max_age"`     // days
	Compress   bool `yaml:"compress"`
}

// OutputConfig configures one log destination. Empty level and format
// inherit the top-level values.
type OutputConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"text", "json"}
)

// DefaultLoggingConfig logs info and above as text to the console only.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:    "info",
		Format:   "text",
		Dir:      "logs",
		Rotation: RotationConfig{MaxSize: 100, MaxBackups: 10, MaxAge: 30, Compress: true},
		Console:  OutputConfig{Enabled: true, Level: "info", Format: "text"},
		File:     OutputConfig{Level: "info", Format: "text"},
	}
}

// ApplyDefaults fills zero values. Compress stays as configured since an
// explicit false cannot be told apart from a missing key.
func (c *LoggingConfig) ApplyDefaults() {
	d := DefaultLoggingConfig()
	orString(&c.Level, d.Level)
	orString(&c.Format, d.Format)
	orString(&c.Dir, d.Dir)
	orInt(&c.Rotation.MaxSize, d.Rotation.MaxSize)
	orInt(&c.Rotation.MaxBackups, d.Rotation.MaxBackups)
	orInt(&c.Rotation.MaxAge, d.Rotation.MaxAge)

	// An absent console section means console output.
	if c.Console == (OutputConfig{}) {
		c.Console.Enabled = true
	}
	for _, o := range []*OutputConfig{&c.Console, &c.File} {
		orString(&o.Level, c.Level)
		orString(&o.Format, c.Format)
	}
}

func (c *LoggingConfig) ApplyEnvOverrides() {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Level, c.Console.Level, c.File.Level = v, v, v
	}
}

// ResolvePaths anchors a relative Dir next to the config directory, or
// inside it when Dir climbs with "..".
func (c *LoggingConfig) ResolvePaths(configDir string) {
	if c.Dir == "" || filepath.IsAbs(c.Dir) {
		return
	}
	base := filepath.Dir(configDir)
	if strings.HasPrefix(c.Dir, "..") {
		base = configDir
	}
	c.Dir = filepath.Clean(filepath.Join(base, c.Dir))
}

func (c *LoggingConfig) Validate() error {
	if !slices.Contains(logLevels, c.Level) {
		return fmt.Errorf("invalid log level: %s (must be %s)", c.Level, strings.Join(logLevels, ", "))
	}
	if !slices.Contains(logFormats, c.Format) {
		return fmt.Errorf("invalid log format: %s (must be %s)", c.Format, strings.Join(logFormats, " or "))
	}
	if c.File.Enabled && c.Dir == "" {
		return fmt.Errorf("log directory cannot be empty")
	}
	if err := c.Console.validate("console"); err != nil {
		return err
	}
	return c.File.validate("file")
}

func (o OutputConfig) validate(name string) error {
	if !o.Enabled {
		return nil
	}
	if o.Level != "" && !slices.Contains(logLevels, o.Level) {
		return fmt.Errorf("invalid %s log level: %s", name, o.Level)
	}
	if o.Format != "" && !slices.Contains(logFormats, o.Format) {
		return fmt.Errorf("invalid %s log format: %s", name, o.Format)
	}
	return nil
}

func orString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func orInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}
