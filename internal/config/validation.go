package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

var validDrivers = map[string]bool{
	"mysql": true, "postgres": true, "postgresql": true, "pgx": true,
	"sqlserver": true, "mssql": true, "sqlite": true, "sqlite3": true,
}

// Validate checks the configuration for required fields and valid values.
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateEngine()...)
	errors = append(errors, c.validateJobs()...)

	if c.Staging.MaxAgeHours < 0 {
		errors = append(errors, ValidationError{
			Field:   "staging.max_age_hours",
			Message: "max_age_hours cannot be negative",
		})
	}
	if !slices.Contains([]string{"", "count", "sha256", "skip"}, c.Staging.Verify) {
		errors = append(errors, ValidationError{
			Field:   "staging.verify",
			Message: "verify must be one of count, sha256 or skip",
		})
	}

	for _, name := range sortedKeys(c.Connections) {
		conn := c.Connections[name]
		errors = append(errors, c.validateConnection("connections."+name, &conn)...)
	}

	for _, name := range c.ListDatasets() {
		ds := c.Datasets[name]
		errors = append(errors, c.validateDataset(name, &ds)...)
	}

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func (c *Config) validateConnection(prefix string, db *DatabaseConfig) ValidationErrors {
	var errors ValidationErrors

	if !validDrivers[db.Driver] {
		errors = append(errors, ValidationError{
			Field:   prefix + ".driver",
			Message: "driver must be one of mysql, postgres, sqlserver or sqlite",
		})
	}

	// Without a DSN only the mysql driver can build one from fields.
	if db.DSN == "" {
		if db.Driver != "mysql" {
			errors = append(errors, ValidationError{
				Field:   prefix + ".dsn",
				Message: "dsn is required for driver " + db.Driver,
			})
		} else {
			if db.Host == "" {
				errors = append(errors, ValidationError{
					Field:   prefix + ".host",
					Message: "host is required",
				})
			}
			if db.Port <= 0 || db.Port > 65535 {
				errors = append(errors, ValidationError{
					Field:   prefix + ".port",
					Message: "port must be between 1 and 65535",
				})
			}
			if db.User == "" {
				errors = append(errors, ValidationError{
					Field:   prefix + ".user",
					Message: "user is required",
				})
			}
		}
	}

	validTLS := map[string]bool{"disable": true, "preferred": true, "required": true, "": true}
	if !validTLS[db.TLS] {
		errors = append(errors, ValidationError{
			Field:   prefix + ".tls",
			Message: "tls must be 'disable', 'preferred', or 'required'",
		})
	}

	if db.MaxConnections < 0 {
		errors = append(errors, ValidationError{
			Field:   prefix + ".max_connections",
			Message: "max_connections cannot be negative",
		})
	}

	if db.MaxIdleConnections < 0 {
		errors = append(errors, ValidationError{
			Field:   prefix + ".max_idle_connections",
			Message: "max_idle_connections cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateDataset(name string, ds *DatasetConfig) ValidationErrors {
	var errors ValidationErrors
	prefix := fmt.Sprintf("datasets.%s", name)

	if ds.Loader == "" {
		errors = append(errors, ValidationError{
			Field:   prefix + ".loader",
			Message: "loader is required",
		})
	}

	if ref, ok := ds.Params["connection"].(string); ok {
		if _, exists := c.Connections[ref]; !exists {
			errors = append(errors, ValidationError{
				Field:   prefix + ".params.connection",
				Message: fmt.Sprintf("connection %q is not defined", ref),
			})
		}
	}

	return errors
}

func (c *Config) validateEngine() ValidationErrors {
	var errors ValidationErrors

	if c.Engine.PreviewLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "engine.preview_limit",
			Message: "preview_limit must be positive",
		})
	}

	if c.Engine.ExploreHardLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "engine.explore_hard_limit",
			Message: "explore_hard_limit must be positive",
		})
	}

	return errors
}

func (c *Config) validateJobs() ValidationErrors {
	var errors ValidationErrors

	if c.Jobs.MaxWorkers <= 0 {
		errors = append(errors, ValidationError{
			Field:   "jobs.max_workers",
			Message: "max_workers must be positive",
		})
	}

	if c.Jobs.HistoryDSN != "" && !validDrivers[c.Jobs.HistoryDriver] {
		errors = append(errors, ValidationError{
			Field:   "jobs.history_driver",
			Message: "history_driver must be one of mysql, postgres, sqlserver or sqlite",
		})
	}

	return errors
}

func (c *Config) validateLogging() ValidationErrors {
	var errors ValidationErrors

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "": true}
	if !validLevels[c.Logging.Level] {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Message: "level must be 'debug', 'info', 'warn', or 'error'",
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "": true}
	if !validFormats[c.Logging.Format] {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Message: "format must be 'json' or 'text'",
		})
	}

	return errors
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
