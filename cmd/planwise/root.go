package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "planwise",
	Short: "Data-plan recommendation service",
	Long: `Planwise calibrates a subscriber's usage behavior from their daily
usage history and ranks candidate data plans by the satisfaction each
would deliver, with Monte-Carlo confidence bands.

Quick start:
  planwise serve              # Start the recommendation API
  planwise catalog plans.csv  # Validate a plan catalog file
  planwise fit daily.csv      # Calibrate usage histories offline`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "planwise.yaml", "config file path")
}
