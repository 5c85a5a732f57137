package backtest

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwquant/trendscan/internal/scancache"
	"github.com/mwquant/trendscan/internal/types"
)

type fakeFetcher struct {
	bars map[string][]types.PriceBar
}

func (f *fakeFetcher) Fetch(_ context.Context, symbol, _ string, _ time.Time) ([]types.PriceBar, error) {
	if bars, ok := f.bars[symbol]; ok {
		return bars, nil
	}
	return nil, os.ErrNotExist
}

func buyResult(symbol string, price float64) *types.SignalResult {
	return &types.SignalResult{
		Symbol:     symbol,
		Name:       "公司" + symbol,
		Price:      price,
		Signal:     types.SignalBuy,
		SignalType: types.TypeBuy,
		Strength:   65,
	}
}

func holdResult(symbol string) *types.SignalResult {
	return &types.SignalResult{
		Symbol:     symbol,
		Signal:     types.SignalHold,
		SignalType: types.TypeHold,
	}
}

func setupVerifier(t *testing.T, fetcher Fetcher, results []*types.SignalResult) *Verifier {
	t.Helper()
	base := t.TempDir()
	store, err := scancache.NewStore(filepath.Join(base, "cache"), filepath.Join(base, "results"), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.SaveDailyResults(scancache.ScanSignalAnalysis, "20260825", results))
	return NewVerifier(store, fetcher, zerolog.Nop())
}

func TestVerifyAccuracy(t *testing.T) {
	v := setupVerifier(t, &fakeFetcher{}, []*types.SignalResult{
		buyResult("600519.SS", 100),
		buyResult("000001.SZ", 10),
		buyResult("000002.SZ", 20), // no actual price supplied
		holdResult("000003.SZ"),
	})

	report, err := v.VerifyAccuracy(scancache.ScanSignalAnalysis, "20260825", map[string]float64{
		"600519.SS": 105, // +5%
		"000001.SZ": 9.5, // -5%
	})
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalSignals, "hold results are not buy signals")
	assert.Equal(t, 2, report.VerifiedCount)
	assert.Equal(t, 1, report.PositiveReturns)
	assert.InDelta(t, 50.0, report.WinRate, 1e-9)
	assert.InDelta(t, 0.0, report.AvgReturn, 1e-9)
	assert.InDelta(t, 5.0, report.MaxReturn, 1e-9)
	assert.InDelta(t, -5.0, report.MinReturn, 1e-9)
}

func TestVerifyAccuracyMissingDate(t *testing.T) {
	v := setupVerifier(t, &fakeFetcher{}, []*types.SignalResult{buyResult("600519.SS", 100)})
	_, err := v.VerifyAccuracy(scancache.ScanSignalAnalysis, "19990101", nil)
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestForwardReturns(t *testing.T) {
	scanDay := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	bars := []types.PriceBar{
		{Date: scanDay, Close: 100},
		{Date: scanDay.AddDate(0, 0, 1), Close: 102},
		{Date: scanDay.AddDate(0, 0, 2), Close: 104},
		{Date: scanDay.AddDate(0, 0, 3), Close: 101},
	}
	fetcher := &fakeFetcher{bars: map[string][]types.PriceBar{"600519.SS": bars}}
	v := setupVerifier(t, fetcher, []*types.SignalResult{
		buyResult("600519.SS", 100),
		buyResult("999999.SZ", 50), // fetch fails, row skipped
	})

	rows, err := v.ForwardReturns(context.Background(), scancache.ScanSignalAnalysis, "20260825")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.InDelta(t, 2.0, row.Returns[0], 1e-9)
	assert.InDelta(t, 4.0, row.Returns[1], 1e-9)
	assert.InDelta(t, 1.0, row.Returns[2], 1e-9)
	assert.True(t, math.IsNaN(row.Returns[3]), "no T+4 bar yet")
	assert.True(t, math.IsNaN(row.Returns[4]))
}

func TestCompareDates(t *testing.T) {
	v := setupVerifier(t, &fakeFetcher{}, []*types.SignalResult{
		buyResult("600519.SS", 100),
		holdResult("000003.SZ"),
	})

	rows, err := v.CompareDates(scancache.ScanSignalAnalysis, []string{"20260825", "20260820"})
	require.NoError(t, err)
	require.Len(t, rows, 1, "days without results are omitted")
	assert.Equal(t, 2, rows[0].TotalScanned)
	assert.Equal(t, 1, rows[0].BuySignals)
	assert.InDelta(t, 50.0, rows[0].SignalRate, 1e-9)
}

func TestExportForwardCSV(t *testing.T) {
	rows := []ForwardReturnRow{{
		Symbol:    "600519.SS",
		Name:      "贵州茅台",
		ScanPrice: 100,
		Returns:   [5]float64{2, 4, 1, math.NaN(), math.NaN()},
	}}
	path := filepath.Join(t.TempDir(), "forward.csv")
	require.NoError(t, ExportForwardCSV(path, rows))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "600519.SS")
	assert.Contains(t, content, "2.00,4.00,1.00,,")
}
