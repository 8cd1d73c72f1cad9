package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "planwise.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("default read timeout = %v", cfg.Server.ReadTimeout)
	}
	if cfg.Catalog.Path != "plans.csv" {
		t.Errorf("default catalog path = %q", cfg.Catalog.Path)
	}
	if cfg.Fitting.InitPhi != 0.01 || cfg.Fitting.InitAlpha != 0.38 {
		t.Errorf("default fitting guess = %g, %g", cfg.Fitting.InitPhi, cfg.Fitting.InitAlpha)
	}
	if cfg.Simulation.Paths != 1000 || cfg.Simulation.Seed != 1 {
		t.Errorf("default simulation = %+v", cfg.Simulation)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("default logging = %+v", cfg.Logging)
	}
	if err := validate(cfg); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
catalog:
  path: /etc/planwise/plans.csv
  hot_reload: true
fitting:
  init_alpha: 0.5
simulation:
  paths: 250
  seed: 42
logging:
  level: debug
  format: console
metrics:
  enabled: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("absent host should default, got %q", cfg.Server.Host)
	}
	if !cfg.Catalog.HotReload || cfg.Catalog.Path != "/etc/planwise/plans.csv" {
		t.Errorf("catalog = %+v", cfg.Catalog)
	}
	if cfg.Fitting.InitAlpha != 0.5 || cfg.Fitting.InitPhi != 0.01 {
		t.Errorf("fitting = %+v", cfg.Fitting)
	}
	if cfg.Simulation.Paths != 250 || cfg.Simulation.Seed != 42 {
		t.Errorf("simulation = %+v", cfg.Simulation)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("metrics = %+v", cfg.Metrics)
	}
}

func TestLoad_ExpandsEnvInFile(t *testing.T) {
	t.Setenv("PLANS_DIR", "/data")
	path := writeConfig(t, "catalog:\n  path: ${PLANS_DIR}/plans.csv\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Catalog.Path != "/data/plans.csv" {
		t.Errorf("catalog path = %q", cfg.Catalog.Path)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PLANWISE_SERVER_PORT", "7070")
	t.Setenv("PLANWISE_CATALOG_PATH", "/srv/plans.csv")
	t.Setenv("PLANWISE_SIM_PATHS", "64")
	t.Setenv("PLANWISE_SIM_SEED", "99")
	t.Setenv("PLANWISE_LOG_LEVEL", "warn")
	t.Setenv("PLANWISE_METRICS_ENABLED", "true")

	cfg, err := LoadWithFallback(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadWithFallback: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Catalog.Path != "/srv/plans.csv" {
		t.Errorf("catalog path = %q", cfg.Catalog.Path)
	}
	if cfg.Simulation.Paths != 64 || cfg.Simulation.Seed != 99 {
		t.Errorf("simulation = %+v", cfg.Simulation)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
	if !cfg.Metrics.Enabled {
		t.Error("metrics should be enabled")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port too low", func(c *Config) { c.Server.Port = -1 }},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"negative init phi", func(c *Config) { c.Fitting.InitPhi = -0.01 }},
		{"alpha at one", func(c *Config) { c.Fitting.InitAlpha = 1 }},
		{"zero iterations", func(c *Config) { c.Fitting.MaxIterations = -1 }},
		{"single path", func(c *Config) { c.Simulation.Paths = 1 }},
		{"negative workers", func(c *Config) { c.Simulation.Workers = -1 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := validate(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_MissingFileIsAnError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load of a missing file must fail; use LoadWithFallback for optional files")
	}
}
