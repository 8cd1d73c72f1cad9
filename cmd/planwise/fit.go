package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/planwise/planwise/app"
	"github.com/planwise/planwise/bootstrap"
	"github.com/planwise/planwise/config"
	"github.com/planwise/planwise/domain/fitting"
	"github.com/planwise/planwise/domain/usage"
)

var (
	fitOverage float64
	fitPaths   int
	fitScale   float64
	fitStart   string
)

var fitCmd = &cobra.Command{
	Use:   "fit <file>",
	Short: "Calibrate usage histories from a CSV file offline",
	Long: `Calibrate behavioral parameters for each row of a usage CSV.

Each row is one subscriber: an identifier followed by daily usage values,
one column per day. Days are assigned consecutive dates beginning at
--start (default: today minus the row length), so a full week of coverage
is preserved.

Examples:
  planwise fit daily.csv
  planwise fit daily.csv --overage 0.01 --paths 200
  planwise fit daily.csv --scale 1e-6   # raw bytes to GB-scale units`,
	Args: cobra.ExactArgs(1),
	RunE: runFit,
}

func init() {
	rootCmd.AddCommand(fitCmd)

	fitCmd.Flags().Float64Var(&fitOverage, "overage", 0, "overage rate used to pick the fitting regime")
	fitCmd.Flags().IntVar(&fitPaths, "paths", 0, "resampling paths for uncertainty (0 = skip)")
	fitCmd.Flags().Float64Var(&fitScale, "scale", 1, "multiplier applied to every usage value")
	fitCmd.Flags().StringVar(&fitStart, "start", "", "date of each row's first sample (YYYY-MM-DD)")
}

func runFit(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	logger := bootstrap.SetupLogger(cfg.Logging)

	svc := app.NewCalibrationService(app.CalibrationConfig{
		Fitting: fitting.Config{
			InitPhi:        cfg.Fitting.InitPhi,
			InitAlpha:      cfg.Fitting.InitAlpha,
			MaxIterations:  cfg.Fitting.MaxIterations,
			MaxEvaluations: cfg.Fitting.MaxEvaluations,
		},
		Paths:   cfg.Simulation.Paths,
		Workers: cfg.Simulation.Workers,
		Seed:    cfg.Simulation.Seed,
	}, logger, nil)

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	for _, row := range rows {
		if len(row) < 2 {
			return fmt.Errorf("row %q: need an id and at least one usage value", row)
		}
		userID := row[0]

		start, err := rowStart(len(row) - 1)
		if err != nil {
			return err
		}
		history := make(usage.History, len(row)-1)
		for i, field := range row[1:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return fmt.Errorf("user %s column %d: %w", userID, i+2, err)
			}
			history[i] = usage.Sample{Date: start.AddDate(0, 0, i), Amount: v * fitScale}
		}

		res, err := svc.Fit(history, fitOverage)
		if err != nil {
			fmt.Printf("%s: %v\n", userID, err)
			continue
		}
		fmt.Printf("%s: converged=%v residual=%.6g\n", userID, res.Converged, res.ResidualNorm)
		weights := res.Params.AllWeights()
		for i, w := range weights {
			fmt.Printf("  w%d=%.6g", i+1, w)
			if i == len(weights)-1 {
				fmt.Println()
			}
		}
		fmt.Printf("  phi=%.6g alpha=%.6g\n", res.Params.Phi, res.Params.Alpha)

		if fitPaths > 0 {
			std, err := svc.EstimateUncertainty(history, fitOverage, fitPaths)
			if err != nil {
				fmt.Printf("  uncertainty: %v\n", err)
				continue
			}
			fmt.Printf("  stddev: phi=%.6g alpha=%.6g\n", std.Phi, std.Alpha)
		}
	}
	return nil
}

func rowStart(days int) (time.Time, error) {
	if fitStart != "" {
		return time.Parse("2006-01-02", fitStart)
	}
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return today.AddDate(0, 0, -days), nil
}
