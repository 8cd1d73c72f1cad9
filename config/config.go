// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Fitting    FittingConfig    `yaml:"fitting"`
	Simulation SimulationConfig `yaml:"simulation"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// CatalogConfig configures the plan catalog source.
type CatalogConfig struct {
	Path      string `yaml:"path"`
	HotReload bool   `yaml:"hot_reload"`
}

// FittingConfig configures the parameter fitter. The iteration and
// evaluation budgets bound the optimizer; there is no unbounded mode.
type FittingConfig struct {
	InitPhi        float64 `yaml:"init_phi"`
	InitAlpha      float64 `yaml:"init_alpha"`
	MaxIterations  int     `yaml:"max_iterations"`
	MaxEvaluations int     `yaml:"max_evaluations"`
}

// SimulationConfig configures Monte-Carlo resampling and ranking.
type SimulationConfig struct {
	Paths   int    `yaml:"paths"`
	Workers int    `yaml:"workers"` // 0 = one per CPU
	Seed    uint64 `yaml:"seed"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration defaults used when a field is absent.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// Load reads configuration from a YAML file, applies PLANWISE_* environment
// overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables referenced in the file itself.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// LoadWithFallback tries to load from file; when the file does not exist
// it builds configuration from defaults plus environment variables. This
// is the recommended method for container deployments.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	var cfg Config
	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Environment variables:
//
//	PLANWISE_SERVER_HOST    - Server host (default: 0.0.0.0)
//	PLANWISE_SERVER_PORT    - Server port (default: 8080)
//	PLANWISE_CATALOG_PATH   - Plan catalog CSV path (default: plans.csv)
//	PLANWISE_SIM_PATHS      - Monte-Carlo path count (default: 1000)
//	PLANWISE_SIM_WORKERS    - Worker pool size (default: one per CPU)
//	PLANWISE_SIM_SEED       - Base RNG seed (default: 1)
//	PLANWISE_LOG_LEVEL      - Log level: debug, info, warn, error
//	PLANWISE_LOG_FORMAT     - Log format: json or console
//	PLANWISE_METRICS_ENABLED - Enable /metrics endpoint
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PLANWISE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PLANWISE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PLANWISE_CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}
	if v := os.Getenv("PLANWISE_SIM_PATHS"); v != "" {
		if paths, err := strconv.Atoi(v); err == nil {
			cfg.Simulation.Paths = paths
		}
	}
	if v := os.Getenv("PLANWISE_SIM_WORKERS"); v != "" {
		if workers, err := strconv.Atoi(v); err == nil {
			cfg.Simulation.Workers = workers
		}
	}
	if v := os.Getenv("PLANWISE_SIM_SEED"); v != "" {
		if seed, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Simulation.Seed = seed
		}
	}
	if v := os.Getenv("PLANWISE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PLANWISE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("PLANWISE_METRICS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = enabled
		}
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = "plans.csv"
	}
	if cfg.Fitting.InitPhi == 0 {
		cfg.Fitting.InitPhi = 0.01
	}
	if cfg.Fitting.InitAlpha == 0 {
		cfg.Fitting.InitAlpha = 0.38
	}
	if cfg.Fitting.MaxIterations == 0 {
		cfg.Fitting.MaxIterations = 1000
	}
	if cfg.Fitting.MaxEvaluations == 0 {
		cfg.Fitting.MaxEvaluations = 10000
	}
	if cfg.Simulation.Paths == 0 {
		cfg.Simulation.Paths = 1000
	}
	if cfg.Simulation.Seed == 0 {
		cfg.Simulation.Seed = 1
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", cfg.Server.Port)
	}
	if cfg.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required")
	}
	if cfg.Fitting.InitPhi <= 0 {
		return fmt.Errorf("fitting.init_phi must be positive, got %g", cfg.Fitting.InitPhi)
	}
	if cfg.Fitting.InitAlpha <= 0 || cfg.Fitting.InitAlpha >= 1 {
		return fmt.Errorf("fitting.init_alpha must be in (0,1), got %g", cfg.Fitting.InitAlpha)
	}
	if cfg.Fitting.MaxIterations < 1 {
		return fmt.Errorf("fitting.max_iterations must be positive, got %d", cfg.Fitting.MaxIterations)
	}
	if cfg.Fitting.MaxEvaluations < 1 {
		return fmt.Errorf("fitting.max_evaluations must be positive, got %d", cfg.Fitting.MaxEvaluations)
	}
	if cfg.Simulation.Paths < 2 {
		return fmt.Errorf("simulation.paths must be at least 2, got %d", cfg.Simulation.Paths)
	}
	if cfg.Simulation.Workers < 0 {
		return fmt.Errorf("simulation.workers must be nonnegative, got %d", cfg.Simulation.Workers)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", cfg.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be json or console, got %q", cfg.Logging.Format)
	}
	return nil
}
