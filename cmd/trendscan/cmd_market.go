package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var marketRefresh bool

var marketCmd = &cobra.Command{
	Use:   "market",
	Short: "Show the market environment",
	Long: `Compute (or reuse today's cached) market sentiment, strong sectors
and the resulting scan recommendation.`,
	RunE: runMarket,
}

func init() {
	rootCmd.AddCommand(marketCmd)
	marketCmd.Flags().BoolVar(&marketRefresh, "refresh", false, "Discard today's cached environment first")
}

func runMarket(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if marketRefresh {
		a.store.ClearMarketEnvironment()
	}

	env := a.analyzer.Environment(ctx, a.store)
	if env == nil {
		return fmt.Errorf("market data unavailable")
	}

	fmt.Printf("market status:   %s (sentiment %.1f)\n", env.MarketStatus, env.SentimentScore)
	fmt.Printf("recommendation:  %s\n", env.Recommendation)
	fmt.Printf("strong sectors:  %d\n\n", len(env.StrongSectors))
	for _, s := range env.StrongSectors {
		fmt.Printf("  %-14s %6.2f\n", s.Name, s.Score)
	}
	return nil
}
