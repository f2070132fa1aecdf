package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from the specified file path.
// It supports YAML files and performs environment variable substitution.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper creates a Config from an existing Viper instance.
// Useful for testing or when Viper is configured externally.
func LoadFromViper(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	substituteEnvVars(cfg)
	return cfg, nil
}

// envVarPattern matches ${VAR_NAME} or $VAR_NAME patterns
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func substituteEnvVars(cfg *Config) {
	cfg.Logging.Output = expandEnvVar(cfg.Logging.Output)
	cfg.Staging.Dir = expandEnvVar(cfg.Staging.Dir)
	cfg.Jobs.HistoryDSN = expandEnvVar(cfg.Jobs.HistoryDSN)

	for name, conn := range cfg.Connections {
		conn.DSN = expandEnvVar(conn.DSN)
		conn.Host = expandEnvVar(conn.Host)
		conn.User = expandEnvVar(conn.User)
		conn.Password = expandEnvVar(conn.Password)
		conn.Database = expandEnvVar(conn.Database)
		cfg.Connections[name] = conn
	}

	for name, ds := range cfg.Datasets {
		ds.Recipe = expandEnvVar(ds.Recipe)
		for k, v := range ds.Params {
			ds.Params[k] = expandAny(v)
		}
		cfg.Datasets[name] = ds
	}
}

// expandAny expands strings nested in lists and maps.
func expandAny(v any) any {
	switch t := v.(type) {
	case string:
		return expandEnvVar(t)
	case []any:
		for i := range t {
			t[i] = expandAny(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = expandAny(t[k])
		}
		return t
	default:
		return v
	}
}

// expandEnvVar expands environment variables in the format ${VAR} or $VAR.
func expandEnvVar(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Return original if env var not found
		return match
	})
}
