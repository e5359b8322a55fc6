package config

import (
	"fmt"
	"os"
	"time"
)

// DriverConfig selects and configures the database driver
type DriverConfig struct {
	Type   string       `yaml:"type"` // memory, mongo, remote
	Mongo  MongoConfig  `yaml:"mongo"`
	Remote RemoteConfig `yaml:"remote"`
}

// MongoConfig configures the mongo driver
type MongoConfig struct {
	URI                 string        `yaml:"uri"`
	DatabaseName        string        `yaml:"database_name"`
	DataCollection      string        `yaml:"data_collection"`
	SoftDeleteRetention time.Duration `yaml:"soft_delete_retention"`
	// Watch serves subscriptions from mongo change streams instead of the change feed
	Watch bool `yaml:"watch"`
}

// RemoteConfig configures the remote driver
type RemoteConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultDriverConfig returns the default driver configuration
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		Type: "memory",
		Mongo: MongoConfig{
			URI:                 "mongodb://localhost:27017",
			DatabaseName:        "typestore",
			DataCollection:      "documents",
			SoftDeleteRetention: 5 * time.Minute,
		},
		Remote: RemoteConfig{
			URL:     "http://localhost:8080",
			Timeout: 10 * time.Second,
		},
	}
}

func (c *DriverConfig) ApplyDefaults() {
	defaults := DefaultDriverConfig()
	if c.Type == "" {
		c.Type = defaults.Type
	}
	if c.Mongo.URI == "" {
		c.Mongo.URI = defaults.Mongo.URI
	}
	if c.Mongo.DatabaseName == "" {
		c.Mongo.DatabaseName = defaults.Mongo.DatabaseName
	}
	if c.Mongo.DataCollection == "" {
		c.Mongo.DataCollection = defaults.Mongo.DataCollection
	}
	if c.Mongo.SoftDeleteRetention == 0 {
		c.Mongo.SoftDeleteRetention = defaults.Mongo.SoftDeleteRetention
	}
	if c.Remote.URL == "" {
		c.Remote.URL = defaults.Remote.URL
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = defaults.Remote.Timeout
	}
}

func (c *DriverConfig) ApplyEnvOverrides() {
	if v := os.Getenv(EnvDriver); v != "" {
		c.Type = v
	}
	if v := os.Getenv(EnvMongoURI); v != "" {
		c.Mongo.URI = v
	}
	if v := os.Getenv(EnvMongoDatabase); v != "" {
		c.Mongo.DatabaseName = v
	}
	if v := os.Getenv(EnvRemoteURL); v != "" {
		c.Remote.URL = v
	}
	if v := os.Getenv(EnvRemoteToken); v != "" {
		c.Remote.Token = v
	}
}

func (c *DriverConfig) ResolvePaths(configDir string) {}

func (c *DriverConfig) Validate() error {
	switch c.Type {
	case "memory":
	case "mongo":
		if c.Mongo.URI == "" || c.Mongo.DatabaseName == "" {
			return fmt.Errorf("driver.mongo.uri and driver.mongo.database_name are required")
		}
		if c.Mongo.SoftDeleteRetention < 0 {
			return fmt.Errorf("driver.mongo.soft_delete_retention must not be negative")
		}
	case "remote":
		if c.Remote.URL == "" {
			return fmt.Errorf("driver.remote.url is required")
		}
		if c.Remote.Timeout < 0 {
			return fmt.Errorf("driver.remote.timeout must not be negative")
		}
	default:
		return fmt.Errorf("unsupported driver type: %s (must be memory, mongo or remote)", c.Type)
	}
	return nil
}
