package main

import (
	"github.com/spf13/cobra"

	"github.com/mwquant/trendscan/internal/scancache"
)

var trendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Run the strict trend-start scan",
	Long: `Scan for trend-start setups. The gates are strict on purpose; most
days produce a handful of signals or none at all, and zero signals on a
drained run still counts as a completed scan.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(scancache.ScanTrendStart)
	},
}

func init() {
	rootCmd.AddCommand(trendCmd)
	trendCmd.Flags().StringVar(&scanScope, "scope", string(scancache.ScopeAllStocks), "Universe scope (all_stocks|strong_sectors)")
	trendCmd.Flags().StringVar(&scanPeriod, "period", "", "History window (defaults to config)")
	trendCmd.Flags().BoolVar(&scanSerial, "serial", false, "Scan one symbol at a time instead of batched workers")
	trendCmd.Flags().IntVar(&scanTop, "top", 20, "How many signals to print")
}
