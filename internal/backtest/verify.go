// Package backtest checks finished scan days against what the market
// did next: realized returns on buy signals, win rates, and forward
// returns over the following week.
package backtest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/mwquant/trendscan/internal/scancache"
	"github.com/mwquant/trendscan/internal/types"
)

// ErrNoResults means the requested scan day has no saved results.
var ErrNoResults = errors.New("no results for date")

const forwardHorizon = 5

// Fetcher supplies history for forward-return computation.
type Fetcher interface {
	Fetch(ctx context.Context, symbol, period string, endDate time.Time) ([]types.PriceBar, error)
}

// Verifier reads historical results from the scan cache store.
type Verifier struct {
	cache   *scancache.Store
	fetcher Fetcher
	log     zerolog.Logger
}

func NewVerifier(cache *scancache.Store, fetcher Fetcher, log zerolog.Logger) *Verifier {
	return &Verifier{cache: cache, fetcher: fetcher, log: log.With().Str("component", "backtest").Logger()}
}

// SignalReturn is one verified buy signal.
type SignalReturn struct {
	Symbol      string  `json:"symbol"`
	Name        string  `json:"name"`
	ScanPrice   float64 `json:"scan_price"`
	ActualPrice float64 `json:"actual_price"`
	ReturnRate  float64 `json:"return_rate"`
	Strength    int     `json:"strength"`
}

// AccuracyReport summarizes one scan day's buy signals against later
// observed prices.
type AccuracyReport struct {
	Date            string         `json:"date"`
	TotalSignals    int            `json:"total_signals"`
	VerifiedCount   int            `json:"verified_count"`
	PositiveReturns int            `json:"positive_returns"`
	WinRate         float64        `json:"win_rate"`
	AvgReturn       float64        `json:"avg_return"`
	MaxReturn       float64        `json:"max_return"`
	MinReturn       float64        `json:"min_return"`
	Details         []SignalReturn `json:"details"`
}

func isBuy(r *types.SignalResult) bool {
	return r.SignalType == types.TypeBuy
}

// VerifyAccuracy measures the buy signals of one scan day against a
// map of later actual prices. Symbols without a price are counted as
// unverified, not as losses.
func (v *Verifier) VerifyAccuracy(scanType scancache.ScanType, date string, actualPrices map[string]float64) (*AccuracyReport, error) {
	doc, err := v.cache.HistoricalResults(scanType, date)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrNoResults, scanType, date)
	}

	report := &AccuracyReport{Date: date}
	for _, r := range doc.Results {
		if r == nil || !isBuy(r) {
			continue
		}
		report.TotalSignals++

		actual, ok := actualPrices[r.Symbol]
		if !ok || r.Price <= 0 {
			continue
		}
		ret := (actual - r.Price) / r.Price * 100
		report.Details = append(report.Details, SignalReturn{
			Symbol:      r.Symbol,
			Name:        r.Name,
			ScanPrice:   r.Price,
			ActualPrice: actual,
			ReturnRate:  ret,
			Strength:    r.Strength,
		})
	}

	report.VerifiedCount = len(report.Details)
	if report.VerifiedCount == 0 {
		return report, nil
	}

	var sum float64
	report.MaxReturn = math.Inf(-1)
	report.MinReturn = math.Inf(1)
	for _, d := range report.Details {
		sum += d.ReturnRate
		if d.ReturnRate > 0 {
			report.PositiveReturns++
		}
		report.MaxReturn = math.Max(report.MaxReturn, d.ReturnRate)
		report.MinReturn = math.Min(report.MinReturn, d.ReturnRate)
	}
	report.AvgReturn = sum / float64(report.VerifiedCount)
	report.WinRate = float64(report.PositiveReturns) / float64(report.VerifiedCount) * 100
	return report, nil
}

// ForwardReturnRow carries a signal's returns at T+1 through T+5.
// Horizons with no bar yet are NaN.
type ForwardReturnRow struct {
	Symbol    string                  `json:"symbol"`
	Name      string                  `json:"name"`
	ScanPrice float64                 `json:"scan_price"`
	Returns   [forwardHorizon]float64 `json:"returns"`
}

// ForwardReturns computes post-signal returns for every buy signal of
// a scan day by fetching each symbol's subsequent bars. Symbols whose
// history cannot be fetched are skipped with a log line.
func (v *Verifier) ForwardReturns(ctx context.Context, scanType scancache.ScanType, date string) ([]ForwardReturnRow, error) {
	doc, err := v.cache.HistoricalResults(scanType, date)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrNoResults, scanType, date)
	}
	scanDay, err := time.Parse("20060102", date)
	if err != nil {
		return nil, fmt.Errorf("bad date %q: %w", date, err)
	}

	var rows []ForwardReturnRow
	for _, r := range doc.Results {
		if r == nil || !isBuy(r) || r.Price <= 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Two extra weeks of calendar days covers 5 trading days.
		bars, err := v.fetcher.Fetch(ctx, r.Symbol, "1mo", scanDay.AddDate(0, 0, 14))
		if err != nil {
			v.log.Debug().Err(err).Str("symbol", r.Symbol).Msg("forward history unavailable")
			continue
		}
		rows = append(rows, forwardRow(r, scanDay, bars))
	}
	return rows, nil
}

func forwardRow(r *types.SignalResult, scanDay time.Time, bars []types.PriceBar) ForwardReturnRow {
	row := ForwardReturnRow{Symbol: r.Symbol, Name: r.Name, ScanPrice: r.Price}
	for i := range row.Returns {
		row.Returns[i] = math.NaN()
	}
	var after []types.PriceBar
	for _, b := range bars {
		if b.Date.After(scanDay) {
			after = append(after, b)
		}
	}
	for i := 0; i < forwardHorizon && i < len(after); i++ {
		row.Returns[i] = (after[i].Close - r.Price) / r.Price * 100
	}
	return row
}

// DateComparison is one row of a multi-day summary.
type DateComparison struct {
	Date         string  `json:"date"`
	TotalScanned int     `json:"total_scanned"`
	BuySignals   int     `json:"buy_signals"`
	SignalRate   float64 `json:"signal_rate"`
}

// CompareDates summarizes signal breadth across several scan days.
// Days with no saved results are omitted.
func (v *Verifier) CompareDates(scanType scancache.ScanType, dates []string) ([]DateComparison, error) {
	var out []DateComparison
	for _, date := range dates {
		doc, err := v.cache.HistoricalResults(scanType, date)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			continue
		}
		row := DateComparison{Date: date, TotalScanned: len(doc.Results)}
		for _, r := range doc.Results {
			if r != nil && isBuy(r) {
				row.BuySignals++
			}
		}
		if row.TotalScanned > 0 {
			row.SignalRate = float64(row.BuySignals) / float64(row.TotalScanned) * 100
		}
		out = append(out, row)
	}
	return out, nil
}

// ExportForwardCSV writes forward-return rows as a flat table.
func ExportForwardCSV(path string, rows []ForwardReturnRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create forward returns file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"symbol", "name", "scan_price", "t1", "t2", "t3", "t4", "t5"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{row.Symbol, row.Name, strconv.FormatFloat(row.ScanPrice, 'f', 2, 64)}
		for _, ret := range row.Returns {
			if math.IsNaN(ret) {
				record = append(record, "")
			} else {
				record = append(record, strconv.FormatFloat(ret, 'f', 2, 64))
			}
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
