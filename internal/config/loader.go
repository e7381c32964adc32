package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// EnvWorkerExec overrides workers.exec when set.
const EnvWorkerExec = "QUARRY_WORKER_EXEC"

// Load reads, interpolates, defaults and validates configuration from a
// YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", path)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// applyDefaults merges default values into cfg where not explicitly set.
func applyDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.Network == "" {
		cfg.Service.Network = defaults.Service.Network
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}

	if cfg.Workers.Size == 0 {
		cfg.Workers.Size = defaults.Workers.Size
	}
	if cfg.Workers.Timeout == 0 {
		cfg.Workers.Timeout = defaults.Workers.Timeout
	}
	if cfg.Workers.Enabled == nil {
		cfg.Workers.Enabled = defaults.Workers.Enabled
	}
	if cfg.Workers.Exec == "" {
		cfg.Workers.Exec = defaults.Workers.Exec
	}
	if exec := os.Getenv(EnvWorkerExec); exec != "" {
		cfg.Workers.Exec = exec
	}

	if cfg.JobLog.Retention == 0 {
		cfg.JobLog.Retention = defaults.JobLog.Retention
	}

	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API = defaults.API
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.Service.Network == "" {
		return fmt.Errorf("service.network is required")
	}

	if err := cfg.Workers.Validate(); err != nil {
		return err
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api.enabled is true")
		}
		if envVarPattern.MatchString(cfg.API.Auth.APIKey) {
			matches := envVarPattern.FindStringSubmatch(cfg.API.Auth.APIKey)
			return fmt.Errorf("api.auth.api_key: environment variable ${%s} is not set", matches[1])
		}
	}

	return nil
}
