package main

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/planwise/planwise/adapters/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog <file>",
	Short: "Validate a plan catalog CSV and print its contents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		plans, err := catalog.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Catalog valid: %d plans\n", len(plans))
		for _, p := range plans {
			quota := fmt.Sprintf("%g", p.Quota)
			if math.IsInf(p.Quota, 1) {
				quota = "unlimited"
			}
			fmt.Printf("  %-20s quota=%-10s overage=%-8g price=%g\n", p.Name, quota, p.OverageRate, p.Price)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
}
