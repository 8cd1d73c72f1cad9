package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/planwise/planwise/bootstrap"
	"github.com/planwise/planwise/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the recommendation API server",
	Long: `Start the planwise HTTP API.

The server will:
  - Load configuration from planwise.yaml (or --config)
  - Load the plan catalog CSV and optionally watch it for changes
  - Serve calibration, utility and recommendation endpoints

Environment variables (for container deployments):
  PLANWISE_SERVER_PORT     - Server port (default: 8080)
  PLANWISE_CATALOG_PATH    - Plan catalog CSV (default: plans.csv)
  PLANWISE_SIM_PATHS       - Monte-Carlo path count (default: 1000)
  PLANWISE_SIM_SEED        - Base RNG seed (default: 1)
  PLANWISE_LOG_LEVEL       - Log level: debug, info, warn, error

Examples:
  planwise serve
  planwise serve --config /etc/planwise/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	app, err := bootstrap.New(cfg)
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
