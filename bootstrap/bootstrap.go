// Package bootstrap wires configuration, logging, the plan catalog and the
// app services into a runnable HTTP application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/planwise/planwise/adapters/catalog"
	"github.com/planwise/planwise/adapters/metrics"
	"github.com/planwise/planwise/app"
	"github.com/planwise/planwise/config"
	"github.com/planwise/planwise/domain/fitting"
	"github.com/planwise/planwise/web"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// App is the assembled application.
type App struct {
	Config      *config.Config
	Logger      zerolog.Logger
	Catalog     *catalog.Store
	Calibration *app.CalibrationService
	Recommend   *app.RecommendService

	server *http.Server
}

// New assembles the application from configuration.
func New(cfg *config.Config) (*App, error) {
	logger := SetupLogger(cfg.Logging)

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New()
	}

	store, err := catalog.NewStore(cfg.Catalog.Path, logger, collector)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	if cfg.Catalog.HotReload {
		if err := store.Watch(); err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
	}

	fitCfg := fitting.Config{
		InitPhi:        cfg.Fitting.InitPhi,
		InitAlpha:      cfg.Fitting.InitAlpha,
		MaxIterations:  cfg.Fitting.MaxIterations,
		MaxEvaluations: cfg.Fitting.MaxEvaluations,
	}
	calibration := app.NewCalibrationService(app.CalibrationConfig{
		Fitting: fitCfg,
		Paths:   cfg.Simulation.Paths,
		Workers: cfg.Simulation.Workers,
		Seed:    cfg.Simulation.Seed,
	}, logger, collector)
	recommend := app.NewRecommendService(app.RecommendConfig{
		Paths:   cfg.Simulation.Paths,
		Workers: cfg.Simulation.Workers,
		Seed:    cfg.Simulation.Seed,
	}, logger, collector)

	handler := web.New(web.Deps{
		Calibration: calibration,
		Recommend:   recommend,
		Catalog:     store,
		Logger:      logger,
		Metrics:     collector,
		Version:     Version,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler.Router(cfg.Metrics.Enabled, cfg.Metrics.Path),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &App{
		Config:      cfg,
		Logger:      logger,
		Catalog:     store,
		Calibration: calibration,
		Recommend:   recommend,
		server:      server,
	}, nil
}

// Handler exposes the assembled HTTP handler, mainly so tests can drive
// the full stack without binding a port.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run starts the HTTP server and blocks until SIGINT/SIGTERM, then shuts
// down gracefully.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", a.server.Addr).Str("version", Version).Msg("server listening")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case sig := <-sigCh:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	a.Catalog.Stop()
	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	a.Logger.Info().Msg("server stopped")
	return nil
}

// SetupLogger builds the zerolog root logger from configuration.
func SetupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}
