package config

import (
	"errors"
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Connections = map[string]DatabaseConfig{
		"wh": {Driver: "mysql", Host: "localhost", Port: 3306, User: "root"},
		"pg": {Driver: "postgres", DSN: "postgres://localhost/db"},
	}
	cfg.Datasets = map[string]DatasetConfig{
		"sales":  {Loader: "file", Params: map[string]any{"path": "sales.csv"}},
		"orders": {Loader: "sql", Params: map[string]any{"connection": "wh", "query": "SELECT 1"}},
	}
	return cfg
}

func TestValidConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("expected no validation errors, got: %v", err)
	}
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"zero preview limit", func(c *Config) { c.Engine.PreviewLimit = 0 }, "engine.preview_limit"},
		{"zero hard limit", func(c *Config) { c.Engine.ExploreHardLimit = 0 }, "engine.explore_hard_limit"},
		{"zero workers", func(c *Config) { c.Jobs.MaxWorkers = 0 }, "jobs.max_workers"},
		{"bad history driver", func(c *Config) {
			c.Jobs.HistoryDSN = "x"
			c.Jobs.HistoryDriver = "oracle"
		}, "jobs.history_driver"},
		{"negative staging age", func(c *Config) { c.Staging.MaxAgeHours = -1 }, "staging.max_age_hours"},
		{"bad verify method", func(c *Config) { c.Staging.Verify = "md5" }, "staging.verify"},
		{"unknown driver", func(c *Config) {
			c.Connections["x"] = DatabaseConfig{Driver: "oracle", DSN: "x"}
		}, "connections.x.driver"},
		{"dsn required", func(c *Config) {
			c.Connections["x"] = DatabaseConfig{Driver: "sqlite"}
		}, "connections.x.dsn"},
		{"mysql host required", func(c *Config) {
			c.Connections["x"] = DatabaseConfig{Driver: "mysql", Port: 3306, User: "u"}
		}, "connections.x.host"},
		{"invalid port", func(c *Config) {
			c.Connections["x"] = DatabaseConfig{Driver: "mysql", Host: "h", Port: 99999, User: "u"}
		}, "connections.x.port"},
		{"invalid tls", func(c *Config) {
			c.Connections["x"] = DatabaseConfig{Driver: "pgx", DSN: "x", TLS: "always"}
		}, "connections.x.tls"},
		{"missing loader", func(c *Config) {
			c.Datasets["x"] = DatasetConfig{}
		}, "datasets.x.loader"},
		{"undefined connection", func(c *Config) {
			c.Datasets["x"] = DatasetConfig{Loader: "sql", Params: map[string]any{"connection": "nope"}}
		}, "datasets.x.params.connection"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error for %s", tt.field)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("expected error to mention %q, got: %v", tt.field, err)
			}
		})
	}
}

func TestMultipleErrors(t *testing.T) {
	cfg := &Config{
		Datasets: map[string]DatasetConfig{"a": {}},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected multiple validation errors")
	}

	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verrs) < 4 {
		t.Errorf("expected at least 4 errors, got %d: %v", len(verrs), verrs)
	}

	errStr := err.Error()
	for _, field := range []string{"engine.preview_limit", "jobs.max_workers", "datasets.a.loader"} {
		if !strings.Contains(errStr, field) {
			t.Errorf("expected error about %s", field)
		}
	}
}
