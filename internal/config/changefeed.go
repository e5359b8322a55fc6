package config

import (
	"fmt"
	"os"
)

// ChangefeedConfig selects the change notification transport
type ChangefeedConfig struct {
	Type string     `yaml:"type"` // memory, nats
	Nats NatsConfig `yaml:"nats"`
}

// NatsConfig configures the NATS change feed
type NatsConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// DefaultChangefeedConfig returns the default change feed configuration
func DefaultChangefeedConfig() ChangefeedConfig {
	return ChangefeedConfig{
		Type: "memory",
		Nats: NatsConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: "typestore.changes",
		},
	}
}

func (c *ChangefeedConfig) ApplyDefaults() {
	defaults := DefaultChangefeedConfig()
	if c.Type == "" {
		c.Type = defaults.Type
	}
	if c.Nats.URL == "" {
		c.Nats.URL = defaults.Nats.URL
	}
	if c.Nats.SubjectPrefix == "" {
		c.Nats.SubjectPrefix = defaults.Nats.SubjectPrefix
	}
}

func (c *ChangefeedConfig) ApplyEnvOverrides() {
	if v := os.Getenv(EnvChangefeed); v != "" {
		c.Type = v
	}
	if v := os.Getenv(EnvNatsURL); v != "" {
		c.Nats.URL = v
	}
}

func (c *ChangefeedConfig) ResolvePaths(configDir string) {}

func (c *ChangefeedConfig) Validate() error {
	switch c.Type {
	case "memory":
	case "nats":
		if c.Nats.URL == "" {
			return fmt.Errorf("changefeed.nats.url is required")
		}
	default:
		return fmt.Errorf("unsupported changefeed type: %s (must be memory or nats)", c.Type)
	}
	return nil
}
