package scanner

import (
	"context"
	"time"

	"github.com/mwquant/trendscan/internal/indicators"
	"github.com/mwquant/trendscan/internal/signals"
	"github.com/mwquant/trendscan/internal/types"
)

// Fetcher supplies daily history for one symbol. The datasource
// manager satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, symbol, period string, endDate time.Time) ([]types.PriceBar, error)
}

// Analyzer runs the per-symbol pipeline for one scan mode. A nil
// result with nil error means the symbol produced no signal; both
// outcomes still mark the symbol scanned.
type Analyzer interface {
	Analyze(ctx context.Context, sym types.ListedSymbol, period string, endDate time.Time) (*types.SignalResult, error)
}

// SignalPipeline scores every symbol with the weighted-evidence
// scorer. Every analyzed symbol yields a result, HOLD included.
type SignalPipeline struct {
	fetcher Fetcher
	cfg     signals.ScorerConfig
}

func NewSignalPipeline(fetcher Fetcher, cfg signals.ScorerConfig) *SignalPipeline {
	return &SignalPipeline{fetcher: fetcher, cfg: cfg}
}

func (p *SignalPipeline) Analyze(ctx context.Context, sym types.ListedSymbol, period string, endDate time.Time) (*types.SignalResult, error) {
	bars, err := p.fetcher.Fetch(ctx, sym.Symbol, period, endDate)
	if err != nil {
		return nil, err
	}
	snaps := indicators.Compute(bars)
	res := signals.Score(sym.Symbol, bars, snaps, p.cfg)
	res.Name = sym.Name
	return &res, nil
}

// TrendPipeline applies the strict trend-start gates. Symbols that
// fail any gate produce no result.
type TrendPipeline struct {
	fetcher Fetcher
	cfg     signals.TrendConfig
}

func NewTrendPipeline(fetcher Fetcher, cfg signals.TrendConfig) *TrendPipeline {
	return &TrendPipeline{fetcher: fetcher, cfg: cfg}
}

func (p *TrendPipeline) Analyze(ctx context.Context, sym types.ListedSymbol, period string, endDate time.Time) (*types.SignalResult, error) {
	bars, err := p.fetcher.Fetch(ctx, sym.Symbol, period, endDate)
	if err != nil {
		return nil, err
	}
	snaps := indicators.Compute(bars)
	check := signals.CheckTrendStart(bars, snaps, p.cfg)
	if !check.Passed {
		return nil, nil
	}
	res := signals.TrendStartSignal(sym.Symbol, sym.Name, bars, check)
	return &res, nil
}
