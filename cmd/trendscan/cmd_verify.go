package main

import (
	"context"
	"fmt"
	"math"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mwquant/trendscan/internal/backtest"
	"github.com/mwquant/trendscan/internal/scancache"
)

var (
	verifyScanType string
	verifyDate     string
	verifyDates    string
	verifyCSV      string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify past scan results",
}

var verifyForwardCmd = &cobra.Command{
	Use:   "forward",
	Short: "Forward returns (T+1..T+5) for a scan day's buy signals",
	RunE:  runVerifyForward,
}

var verifyCompareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare signal breadth across scan days",
	RunE:  runVerifyCompare,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.AddCommand(verifyForwardCmd, verifyCompareCmd)

	verifyCmd.PersistentFlags().StringVar(&verifyScanType, "scan-type", string(scancache.ScanSignalAnalysis), "Scan type (signal_analysis|trend_start_signal)")
	verifyForwardCmd.Flags().StringVar(&verifyDate, "date", "", "Scan date, YYYYMMDD (defaults to newest with results)")
	verifyForwardCmd.Flags().StringVar(&verifyCSV, "csv", "", "Also write rows to this CSV file")
	verifyCompareCmd.Flags().StringVar(&verifyDates, "dates", "", "Comma separated scan dates (defaults to all available)")
}

func verifyScanTypeValue() scancache.ScanType {
	if verifyScanType == string(scancache.ScanTrendStart) {
		return scancache.ScanTrendStart
	}
	return scancache.ScanSignalAnalysis
}

func runVerifyForward(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scanType := verifyScanTypeValue()
	date := verifyDate
	if date == "" {
		dates := a.store.AvailableDates(scanType)
		if len(dates) == 0 {
			return fmt.Errorf("no saved results for %s", scanType)
		}
		date = dates[0]
	}

	v := backtest.NewVerifier(a.store, a.manager, log)
	rows, err := v.ForwardReturns(ctx, scanType, date)
	if err != nil {
		return err
	}

	fmt.Printf("forward returns for %s (%d signals)\n\n", date, len(rows))
	fmt.Printf("%-10s %-8s %8s  %7s %7s %7s %7s %7s\n", "symbol", "name", "price", "T+1", "T+2", "T+3", "T+4", "T+5")
	for _, row := range rows {
		cells := make([]string, len(row.Returns))
		for i, r := range row.Returns {
			if math.IsNaN(r) {
				cells[i] = "      -"
			} else {
				cells[i] = fmt.Sprintf("%6.2f%%", r)
			}
		}
		fmt.Printf("%-10s %-8s %8.2f  %s\n", row.Symbol, row.Name, row.ScanPrice, strings.Join(cells, " "))
	}

	if verifyCSV != "" {
		if err := backtest.ExportForwardCSV(verifyCSV, rows); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		fmt.Printf("\nwrote %s\n", verifyCSV)
	}
	return nil
}

func runVerifyCompare(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	scanType := verifyScanTypeValue()
	var dates []string
	if verifyDates != "" {
		dates = strings.Split(verifyDates, ",")
	} else {
		dates = a.store.AvailableDates(scanType)
	}
	if len(dates) == 0 {
		return fmt.Errorf("no saved results for %s", scanType)
	}

	v := backtest.NewVerifier(a.store, a.manager, log)
	rows, err := v.CompareDates(scanType, dates)
	if err != nil {
		return err
	}

	fmt.Printf("%-10s %8s %8s %8s\n", "date", "scanned", "buys", "rate")
	for _, row := range rows {
		fmt.Printf("%-10s %8d %8d %7.1f%%\n", row.Date, row.TotalScanned, row.BuySignals, row.SignalRate)
	}
	return nil
}
