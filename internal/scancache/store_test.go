package scancache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwquant/trendscan/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	base := t.TempDir()
	s, err := NewStore(filepath.Join(base, "cache"), filepath.Join(base, "results"), zerolog.Nop())
	require.NoError(t, err)
	return s
}

func sampleResult(symbol string) *types.SignalResult {
	return &types.SignalResult{
		Symbol:        symbol,
		Name:          "Test Co",
		Price:         10.5,
		Signal:        types.SignalBuy,
		SignalType:    types.TypeBuy,
		Strength:      62,
		StrengthLevel: types.LevelModerate,
		BuyScore:      6,
		SellScore:     1,
		NetScore:      5,
		Reason:        "bullish alignment",
	}
}

func TestKeyFilename(t *testing.T) {
	cases := []struct {
		key  Key
		want string
	}{
		{NewKey(ScanSignalAnalysis, "20260830", ScopeNone, "1y"), "signal_analysis_1y_20260830.json"},
		{NewKey(ScanSignalAnalysis, "20260830", ScopeAllStocks, "6mo"), "signal_analysis_all_stocks_6mo_20260830.json"},
		{NewKey(ScanTrendStart, "20260830", ScopeStrongSectors, ""), "trend_start_signal_strong_sectors_20260830.json"},
		{NewKey(ScanTrendStart, "20260830", ScopeNone, ""), "trend_start_signal_20260830.json"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.key.Filename())
	}
}

func TestKeyPeriodOnlyForSignalAnalysis(t *testing.T) {
	k := NewKey(ScanTrendStart, "20260830", ScopeAllStocks, "1y")
	assert.Empty(t, k.Period, "period must not partition trend scans")
	assert.Equal(t, "trend_start_signal_all_stocks_20260830.json", k.Filename())
}

func TestAddScannedIdempotent(t *testing.T) {
	s := newTestStore(t)
	key := NewKey(ScanSignalAnalysis, "", ScopeAllStocks, "1y")

	require.NoError(t, s.AddScanned(key, "600519.SS", sampleResult("600519.SS")))
	require.NoError(t, s.AddScanned(key, "600519.SS", sampleResult("600519.SS")))

	scanned := s.ScannedSymbols(key)
	assert.Len(t, scanned, 1)
	assert.Contains(t, scanned, "600519.SS")

	stats := s.KeyStats(key)
	assert.Equal(t, 1, stats.ScannedCount)
	assert.Equal(t, 1, stats.ResultCount)
}

func TestNullResultStillMarksScanned(t *testing.T) {
	s := newTestStore(t)
	key := NewKey(ScanTrendStart, "", ScopeAllStocks, "")

	require.NoError(t, s.AddScanned(key, "000001.SZ", nil))

	scanned := s.ScannedSymbols(key)
	assert.Contains(t, scanned, "000001.SZ", "a no-signal symbol must not be rescanned")

	_, ok := s.Result(key, "000001.SZ")
	assert.False(t, ok)
	assert.Empty(t, s.CachedResults(key))

	stats := s.KeyStats(key)
	assert.Equal(t, 1, stats.ScannedCount)
	assert.Equal(t, 0, stats.ResultCount)
}

func TestStaleDateResetsDocument(t *testing.T) {
	s := newTestStore(t)
	today := NewKey(ScanSignalAnalysis, "", ScopeAllStocks, "1y")

	// Write a document for the same file name but an older date.
	stale := newDocument(today)
	stale.Date = "20200101"
	stale.ScannedStocks = []string{"600000.SS"}
	require.NoError(t, s.write(today, stale))

	assert.Empty(t, s.ScannedSymbols(today), "yesterday's progress must not leak into today")

	require.NoError(t, s.AddScanned(today, "600519.SS", sampleResult("600519.SS")))
	scanned := s.ScannedSymbols(today)
	assert.Len(t, scanned, 1)
	assert.NotContains(t, scanned, "600000.SS")
}

func TestPeriodMismatchResetsDocument(t *testing.T) {
	s := newTestStore(t)
	key := NewKey(ScanSignalAnalysis, "", ScopeNone, "1y")

	stale := newDocument(key)
	stale.Period = "6mo"
	stale.ScannedStocks = []string{"600000.SS"}
	require.NoError(t, s.write(key, stale))

	assert.Empty(t, s.ScannedSymbols(key))
}

func TestCorruptFileDiscarded(t *testing.T) {
	s := newTestStore(t)
	key := NewKey(ScanSignalAnalysis, "", ScopeNone, "1y")

	require.NoError(t, os.WriteFile(s.path(key), []byte("{not json"), 0o644))
	assert.Empty(t, s.ScannedSymbols(key))
	_, err := os.Stat(s.path(key))
	assert.True(t, os.IsNotExist(err), "corrupt cache file should be removed")
}

func TestCachedResultsOrderAndFiltering(t *testing.T) {
	s := newTestStore(t)
	key := NewKey(ScanSignalAnalysis, "", ScopeAllStocks, "1y")

	require.NoError(t, s.AddScanned(key, "600519.SS", sampleResult("600519.SS")))
	require.NoError(t, s.AddScanned(key, "000001.SZ", nil))
	require.NoError(t, s.AddScanned(key, "000858.SZ", sampleResult("000858.SZ")))

	results := s.CachedResults(key)
	require.Len(t, results, 2)
	assert.Equal(t, "600519.SS", results[0].Symbol)
	assert.Equal(t, "000858.SZ", results[1].Symbol)
}

func TestResultFromOtherScope(t *testing.T) {
	s := newTestStore(t)
	allKey := NewKey(ScanSignalAnalysis, "", ScopeAllStocks, "1y")
	sectorKey := allKey.WithScope(ScopeStrongSectors)

	require.NoError(t, s.AddScanned(allKey, "600519.SS", sampleResult("600519.SS")))

	got, ok := s.ResultFromOtherScope(sectorKey, "600519.SS", ScopeAllStocks)
	require.True(t, ok)
	assert.Equal(t, "600519.SS", got.Symbol)

	// Same scope or empty scope is not a cross-scope lookup.
	_, ok = s.ResultFromOtherScope(sectorKey, "600519.SS", ScopeStrongSectors)
	assert.False(t, ok)
	_, ok = s.ResultFromOtherScope(sectorKey, "600519.SS", ScopeNone)
	assert.False(t, ok)
}

func TestClearToday(t *testing.T) {
	s := newTestStore(t)
	key := NewKey(ScanSignalAnalysis, "", ScopeAllStocks, "1y")

	require.NoError(t, s.AddScanned(key, "600519.SS", sampleResult("600519.SS")))
	require.NoError(t, s.ClearToday(key))
	assert.Empty(t, s.ScannedSymbols(key))
}

func TestConcurrentAddScanned(t *testing.T) {
	s := newTestStore(t)
	key := NewKey(ScanTrendStart, "", ScopeAllStocks, "")

	symbols := []string{"600519.SS", "000001.SZ", "000858.SZ", "601318.SS", "300750.SZ"}
	var wg sync.WaitGroup
	for _, sym := range symbols {
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func(sym string) {
				defer wg.Done()
				_ = s.AddScanned(key, sym, sampleResult(sym))
			}(sym)
		}
	}
	wg.Wait()

	assert.Len(t, s.ScannedSymbols(key), len(symbols))
}

func TestSaveAndLoadDailyResults(t *testing.T) {
	s := newTestStore(t)
	results := []*types.SignalResult{sampleResult("600519.SS"), sampleResult("000858.SZ")}

	require.NoError(t, s.SaveDailyResults(ScanSignalAnalysis, "20260830", results))

	doc, err := s.HistoricalResults(ScanSignalAnalysis, "20260830")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "20260830", doc.Date)
	assert.Equal(t, 2, doc.TotalCount)
	require.Len(t, doc.Results, 2)
	assert.Equal(t, "600519.SS", doc.Results[0].Symbol)

	csvPath, _ := s.resultsPaths(ScanSignalAnalysis, "20260830")
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "600519.SS")

	missing, err := s.HistoricalResults(ScanSignalAnalysis, "19990101")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAvailableDates(t *testing.T) {
	s := newTestStore(t)
	results := []*types.SignalResult{sampleResult("600519.SS")}
	require.NoError(t, s.SaveDailyResults(ScanSignalAnalysis, "20260828", results))
	require.NoError(t, s.SaveDailyResults(ScanSignalAnalysis, "20260830", results))
	require.NoError(t, s.SaveDailyResults(ScanTrendStart, "20260829", results))

	dates := s.AvailableDates(ScanSignalAnalysis)
	assert.Equal(t, []string{"20260830", "20260828"}, dates)
}

func TestMarketEnvironmentRoundTrip(t *testing.T) {
	s := newTestStore(t)

	assert.Nil(t, s.MarketEnvironment())

	env := &types.MarketEnvironment{
		MarketStatus:   types.MarketPositive,
		SentimentScore: 71.4,
		StrongSectors:  []types.SectorScore{{Name: "半导体", Score: 4.2}},
		Recommendation: types.RecommendActAggressively,
	}
	require.NoError(t, s.SaveMarketEnvironment(env))

	got := s.MarketEnvironment()
	require.NotNil(t, got)
	assert.Equal(t, types.MarketPositive, got.MarketStatus)
	assert.InDelta(t, 71.4, got.SentimentScore, 1e-9)
	assert.Equal(t, []string{"半导体"}, got.StrongSectorNames())

	s.ClearMarketEnvironment()
	assert.Nil(t, s.MarketEnvironment())
}

func TestMarketEnvironmentStaleDateRemoved(t *testing.T) {
	s := newTestStore(t)

	stale := marketEnvDoc{Date: "20200101", Environment: &types.MarketEnvironment{MarketStatus: types.MarketNeutral}}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	path := s.marketEnvPath("20200101")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	assert.Nil(t, s.MarketEnvironment())
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
