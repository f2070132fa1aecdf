// Package config provides configuration structures and loading for gorecipe.
package config

import (
	"fmt"
	"slices"
	"time"
)

// Config represents the complete application configuration.
type Config struct {
	Logging     LoggingConfig             `yaml:"logging" mapstructure:"logging"`
	Engine      EngineConfig              `yaml:"engine" mapstructure:"engine"`
	Jobs        JobsConfig                `yaml:"jobs" mapstructure:"jobs"`
	Staging     StagingConfig             `yaml:"staging" mapstructure:"staging"`
	Connections map[string]DatabaseConfig `yaml:"connections" mapstructure:"connections"`
	Datasets    map[string]DatasetConfig  `yaml:"datasets" mapstructure:"datasets"`
}

// DatabaseConfig is a named connection the sql loader can refer to.
// DSN wins over the individual fields when set.
type DatabaseConfig struct {
	Driver             string `yaml:"driver" mapstructure:"driver"` // mysql, postgres, sqlserver, sqlite
	DSN                string `yaml:"dsn" mapstructure:"dsn"`
	Host               string `yaml:"host" mapstructure:"host"`
	Port               int    `yaml:"port" mapstructure:"port"`
	User               string `yaml:"user" mapstructure:"user"`
	Password           string `yaml:"password" mapstructure:"password"`
	Database           string `yaml:"database" mapstructure:"database"`
	TLS                string `yaml:"tls" mapstructure:"tls"` // disable, preferred, required
	MaxConnections     int    `yaml:"max_connections" mapstructure:"max_connections"`
	MaxIdleConnections int    `yaml:"max_idle_connections" mapstructure:"max_idle_connections"`
}

// EngineConfig holds view preparation limits.
type EngineConfig struct {
	PreviewLimit     int    `yaml:"preview_limit" mapstructure:"preview_limit"`
	ExploreHardLimit int    `yaml:"explore_hard_limit" mapstructure:"explore_hard_limit"`
	SampleSeed       uint64 `yaml:"sample_seed" mapstructure:"sample_seed"`
}

// JobsConfig sizes the export worker pool and points at the optional history store.
type JobsConfig struct {
	MaxWorkers    int    `yaml:"max_workers" mapstructure:"max_workers"`
	HistoryDriver string `yaml:"history_driver" mapstructure:"history_driver"`
	HistoryDSN    string `yaml:"history_dsn" mapstructure:"history_dsn"` // empty disables history
}

// StagingConfig controls where materialized datasets are written.
type StagingConfig struct {
	Dir         string `yaml:"dir" mapstructure:"dir"`
	MaxAgeHours int    `yaml:"max_age_hours" mapstructure:"max_age_hours"`
	Verify      string `yaml:"verify" mapstructure:"verify"` // count, sha256 or skip
}

// DatasetConfig declares a dataset loaded at startup.
type DatasetConfig struct {
	Loader string         `yaml:"loader" mapstructure:"loader"`
	Params map[string]any `yaml:"params" mapstructure:"params"`
	Recipe string         `yaml:"recipe" mapstructure:"recipe"` // path to a recipe JSON file
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json or text
	Output string `yaml:"output" mapstructure:"output"` // stdout, stderr, or file path
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Engine: EngineConfig{
			PreviewLimit:     100,
			ExploreHardLimit: 100000,
			SampleSeed:       42,
		},
		Jobs: JobsConfig{
			MaxWorkers:    4,
			HistoryDriver: "sqlite",
		},
		Staging: StagingConfig{
			MaxAgeHours: 24,
			Verify:      "count",
		},
	}
}

// MaxAge returns the staging retention as a duration.
func (s StagingConfig) MaxAge() time.Duration {
	return time.Duration(s.MaxAgeHours) * time.Hour
}

// GetDataset retrieves a dataset declaration by name.
func (c *Config) GetDataset(name string) (*DatasetConfig, error) {
	ds, exists := c.Datasets[name]
	if !exists {
		return nil, fmt.Errorf("dataset %q not found in configuration", name)
	}
	return &ds, nil
}

// ListDatasets returns all dataset names in sorted order.
func (c *Config) ListDatasets() []string {
	names := make([]string, 0, len(c.Datasets))
	for name := range c.Datasets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// GetConnection retrieves a named connection.
func (c *Config) GetConnection(name string) (*DatabaseConfig, error) {
	conn, exists := c.Connections[name]
	if !exists {
		return nil, fmt.Errorf("connection %q not found in configuration", name)
	}
	return &conn, nil
}

// ApplyOverrides applies CLI flag overrides to the configuration.
// Only non-zero/non-empty values are applied.
func (c *Config) ApplyOverrides(logLevel, logFormat string, maxWorkers int) {
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFormat != "" {
		c.Logging.Format = logFormat
	}
	if maxWorkers > 0 {
		c.Jobs.MaxWorkers = maxWorkers
	}
}
