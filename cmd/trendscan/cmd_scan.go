package main

import (
	"context"
	"fmt"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mwquant/trendscan/internal/archive"
	"github.com/mwquant/trendscan/internal/scancache"
	"github.com/mwquant/trendscan/internal/scanner"
	"github.com/mwquant/trendscan/internal/types"
)

var (
	scanScope  string
	scanPeriod string
	scanSerial bool
	scanTop    int
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run the weighted signal scan",
	Long: `Scan the universe with the weighted evidence scorer. Progress is
cached per day; re-running the same day resumes where the last run
stopped.

Examples:
  trendscan scan
  trendscan scan --scope strong_sectors
  trendscan scan --period 6mo --serial`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(scancache.ScanSignalAnalysis)
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringVar(&scanScope, "scope", string(scancache.ScopeAllStocks), "Universe scope (all_stocks|strong_sectors)")
	scanCmd.Flags().StringVar(&scanPeriod, "period", "", "History window (defaults to config)")
	scanCmd.Flags().BoolVar(&scanSerial, "serial", false, "Scan one symbol at a time instead of batched workers")
	scanCmd.Flags().IntVar(&scanTop, "top", 20, "How many signals to print")
}

func runScan(scanType scancache.ScanType) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scope := scancache.Scope(scanScope)
	if scope != scancache.ScopeAllStocks && scope != scancache.ScopeStrongSectors {
		return fmt.Errorf("unknown scope %q", scanScope)
	}

	period := scanPeriod
	if period == "" {
		period = cfg.Scanner.Period
	}

	symbols, err := scanUniverse(ctx, a, scope)
	if err != nil {
		return err
	}

	runCfg := scanner.DefaultConfig(scanType, scope, period)
	runCfg.BatchSize = cfg.Scanner.BatchSize
	runCfg.Workers = cfg.Scanner.Workers
	runCfg.SymbolTimeout = cfg.Scanner.SymbolTimeout.Std()
	runCfg.BatchDelay = cfg.Scanner.BatchDelay.Std()
	if excl, err := scanner.LoadExclusions(cfg.Scanner.Exclusions); err == nil {
		runCfg.Exclusions = excl
	}

	var analyzer scanner.Analyzer
	if scanType == scancache.ScanTrendStart {
		analyzer = scanner.NewTrendPipeline(a.manager, cfg.Trend)
	} else {
		analyzer = scanner.NewSignalPipeline(a.manager, cfg.Scorer)
	}

	runner := scanner.NewRunner(a.store, analyzer, runCfg, log)
	runner.Prepare(symbols)

	if scanSerial {
		err = runner.Run(ctx)
	} else {
		err = runner.RunConcurrent(ctx)
	}
	if err != nil {
		return err
	}

	state := runner.State()
	results := runner.Results()
	date := runner.Key().Date

	if err := a.store.SaveDailyResults(scanType, date, results); err != nil {
		log.Warn().Err(err).Msg("daily results not saved")
	}
	archiveRun(ctx, a, scanType, date, scope, period, state, results)

	printScanSummary(scanType, state, results)
	return nil
}

// scanUniverse resolves the symbol list for a scope. The strong-sectors
// scope derives membership from today's market environment.
func scanUniverse(ctx context.Context, a *app, scope scancache.Scope) ([]types.ListedSymbol, error) {
	if scope == scancache.ScopeAllStocks {
		symbols, cached, err := a.universe.Symbols(ctx)
		if err != nil {
			return nil, err
		}
		log.Info().Int("count", len(symbols)).Bool("cached", cached).Msg("universe loaded")
		return symbols, nil
	}

	env := a.analyzer.Environment(ctx, a.store)
	if env == nil || len(env.StrongSectors) == 0 {
		return nil, fmt.Errorf("no strong sectors available today")
	}
	symbols, err := a.universe.StocksBySectors(ctx, env.StrongSectorNames())
	if err != nil {
		return nil, err
	}
	log.Info().Int("count", len(symbols)).Int("sectors", len(env.StrongSectors)).Msg("strong sector universe loaded")
	return symbols, nil
}

func archiveRun(ctx context.Context, a *app, scanType scancache.ScanType, date string, scope scancache.Scope, period string, state scanner.RunState, results []*types.SignalResult) {
	if a.archive == nil {
		return
	}
	rec := archiveRecord(scanType, date, scope, period, state)
	if err := a.archive.SaveRun(ctx, rec); err != nil {
		log.Warn().Err(err).Msg("run record not archived")
	}
	if err := a.archive.SaveResults(ctx, string(scanType), date, results); err != nil {
		log.Warn().Err(err).Msg("results not archived")
	}
}

func archiveRecord(scanType scancache.ScanType, date string, scope scancache.Scope, period string, state scanner.RunState) archive.RunRecord {
	return archive.RunRecord{
		ScanType:  string(scanType),
		Date:      date,
		Scope:     string(scope),
		Period:    period,
		Processed: state.Processed,
		Signals:   state.Signals,
		Nulls:     state.Nulls,
		Failed:    state.Failed,
		Completed: state.Completed,
	}
}

func printScanSummary(scanType scancache.ScanType, state scanner.RunState, results []*types.SignalResult) {
	fmt.Printf("\n%s %s\n", scanType, map[bool]string{true: "completed", false: "interrupted"}[state.Completed])
	fmt.Printf("processed %d  skipped %d  reused %d  signals %d  failed %d\n\n",
		state.Processed, state.Skipped, state.Reused, state.Signals, state.Failed)

	sorted := make([]*types.SignalResult, 0, len(results))
	for _, r := range results {
		if r != nil && r.SignalType == types.TypeBuy {
			sorted = append(sorted, r)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Strength > sorted[j].Strength })
	if len(sorted) > scanTop {
		sorted = sorted[:scanTop]
	}
	for _, r := range sorted {
		fmt.Printf("%-10s %-8s %-12s strength %3d  %.2f  %s\n",
			r.Symbol, r.Name, r.Signal, r.Strength, r.Price, r.Reason)
	}
}
