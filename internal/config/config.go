package config

import (
	"fmt"
	"runtime"
	"time"
)

// Config is the complete quarryd configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Workers WorkersConfig `yaml:"workers"`
	JobLog  JobLogConfig  `yaml:"joblog,omitempty"`
	API     APIConfig     `yaml:"api,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	Network  string `yaml:"network"`
	LogLevel string `yaml:"log_level"`
}

// WorkersConfig configures the worker pool.
type WorkersConfig struct {
	// Size is the number of worker slots (round-robin modulus).
	Size int `yaml:"size"`

	// Timeout is the default per-call timeout for validation-style calls.
	// Any negative value disables the default timeout entirely; zero means
	// unset and is resolved to the default by Load.
	Timeout time.Duration `yaml:"timeout"`

	// Enabled false forces the synchronous in-process fallback path.
	// Nil means unset; Load resolves it to the default (true).
	Enabled *bool `yaml:"enabled"`

	// Exec is the worker entry point binary, resolved via PATH unless
	// absolute. Overridable with QUARRY_WORKER_EXEC.
	Exec string `yaml:"exec"`
}

// IsEnabled reports the resolved enabled flag.
func (w *WorkersConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// Validate rejects a bad pool configuration before any worker is spawned.
func (w *WorkersConfig) Validate() error {
	if w.Size <= 0 {
		return fmt.Errorf("workers.size must be positive (got %d)", w.Size)
	}
	if w.Exec == "" {
		return fmt.Errorf("workers.exec is required")
	}
	return nil
}

// JobLogConfig configures the SQLite call journal. An empty path disables it.
type JobLogConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// APIConfig defines the HTTP status API settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// DefaultPoolSize is max(2, detected core count).
func DefaultPoolSize() int {
	n := runtime.NumCPU()
	if n < 2 {
		return 2
	}
	return n
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	enabled := true
	return &Config{
		Service: ServiceConfig{
			Name:     "quarryd",
			Network:  "main",
			LogLevel: "info",
		},
		Workers: WorkersConfig{
			Size:    DefaultPoolSize(),
			Timeout: 5 * time.Minute,
			Enabled: &enabled,
			Exec:    "quarry-worker",
		},
		JobLog: JobLogConfig{
			Path:      "",
			Retention: 30 * 24 * time.Hour,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8339",
		},
	}
}
