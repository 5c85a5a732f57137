package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwquant/trendscan/internal/scancache"
	"github.com/mwquant/trendscan/internal/types"
)

type fakeAnalyzer struct {
	mu    sync.Mutex
	fail  map[string]error
	calls map[string]int
	// hold makes every call pass through Analyze slowly enough to
	// observe cancellation behavior when set.
	hold time.Duration
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{fail: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, sym types.ListedSymbol, _ string, _ time.Time) (*types.SignalResult, error) {
	f.mu.Lock()
	f.calls[sym.Symbol]++
	err := f.fail[sym.Symbol]
	f.mu.Unlock()

	if f.hold > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.hold):
		}
	}
	if err != nil {
		return nil, err
	}
	return &types.SignalResult{
		Symbol:     sym.Symbol,
		Name:       sym.Name,
		Signal:     types.SignalBuy,
		SignalType: types.TypeBuy,
		Strength:   60,
	}, nil
}

func (f *fakeAnalyzer) callCount(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

func newTestCache(t *testing.T) *scancache.Store {
	t.Helper()
	base := t.TempDir()
	s, err := scancache.NewStore(filepath.Join(base, "cache"), filepath.Join(base, "results"), zerolog.Nop())
	require.NoError(t, err)
	return s
}

func listed(symbols ...string) []types.ListedSymbol {
	out := make([]types.ListedSymbol, len(symbols))
	for i, s := range symbols {
		out[i] = types.ListedSymbol{Symbol: s, Name: "公司" + s}
	}
	return out
}

func TestSerialRunMarksEverySymbol(t *testing.T) {
	cache := newTestCache(t)
	analyzer := newFakeAnalyzer()
	analyzer.fail["000002.SZ"] = errors.New("fetch always fails")

	r := NewRunner(cache, analyzer, DefaultConfig(scancache.ScanSignalAnalysis, scancache.ScopeAllStocks, "1y"), zerolog.Nop())
	syms := listed("000001.SZ", "000002.SZ", "000003.SZ")
	r.Prepare(syms)
	require.NoError(t, r.Run(context.Background()))

	scanned := cache.ScannedSymbols(r.Key())
	assert.Len(t, scanned, 3, "failures must still mark the symbol scanned")

	_, ok := cache.Result(r.Key(), "000002.SZ")
	assert.False(t, ok, "the failing symbol stores a null result")
	_, ok = cache.Result(r.Key(), "000001.SZ")
	assert.True(t, ok)
	_, ok = cache.Result(r.Key(), "000003.SZ")
	assert.True(t, ok)

	state := r.State()
	assert.True(t, state.Completed)
	assert.Equal(t, 3, state.Processed)
	assert.Equal(t, 1, state.Failed)
	assert.Equal(t, 2, state.Signals)
}

func TestSerialResumeSkipsScanned(t *testing.T) {
	cache := newTestCache(t)
	analyzer := newFakeAnalyzer()
	cfg := DefaultConfig(scancache.ScanSignalAnalysis, scancache.ScopeAllStocks, "1y")
	syms := listed("000001.SZ", "000002.SZ", "000003.SZ")

	first := NewRunner(cache, analyzer, cfg, zerolog.Nop())
	first.Prepare(syms)
	done, err := first.Step(context.Background())
	require.NoError(t, err)
	require.False(t, done)

	// A fresh runner resumes from the cache, not the old one's memory.
	second := NewRunner(cache, analyzer, cfg, zerolog.Nop())
	second.Prepare(syms)
	assert.Equal(t, 2, second.State().Total)
	require.NoError(t, second.Run(context.Background()))

	assert.Len(t, cache.ScannedSymbols(second.Key()), 3)
	assert.Equal(t, 1, analyzer.callCount("000001.SZ"), "resumed run must not recompute")
}

func TestSkipRules(t *testing.T) {
	cache := newTestCache(t)
	analyzer := newFakeAnalyzer()
	cfg := DefaultConfig(scancache.ScanSignalAnalysis, scancache.ScopeAllStocks, "1y")
	cfg.Exclusions = map[string]struct{}{"000100.SZ": {}}

	r := NewRunner(cache, analyzer, cfg, zerolog.Nop())
	r.Prepare([]types.ListedSymbol{
		{Symbol: "000001.SZ", Name: "平安银行"},
		{Symbol: "000002.SZ", Name: "ST某某"},
		{Symbol: "000003.SZ", Name: "退市整理"},
		{Symbol: "920001.SZ", Name: "某公司"},
		{Symbol: "000100.SZ", Name: "手工排除"},
	})
	require.NoError(t, r.Run(context.Background()))

	state := r.State()
	assert.Equal(t, 1, state.Processed)
	assert.Equal(t, 4, state.Skipped)
	assert.Equal(t, 0, analyzer.callCount("000002.SZ"))
	assert.Equal(t, 0, analyzer.callCount("000100.SZ"))
}

func TestCrossScopeReuseAvoidsRecompute(t *testing.T) {
	cache := newTestCache(t)
	analyzer := newFakeAnalyzer()
	syms := listed("000001.SZ", "000002.SZ")

	// Full-universe scan first.
	wide := NewRunner(cache, analyzer, DefaultConfig(scancache.ScanSignalAnalysis, scancache.ScopeAllStocks, "1y"), zerolog.Nop())
	wide.Prepare(syms)
	require.NoError(t, wide.Run(context.Background()))
	require.Equal(t, 1, analyzer.callCount("000001.SZ"))

	// The sector-scoped scan reuses both results without recomputing.
	narrow := NewRunner(cache, analyzer, DefaultConfig(scancache.ScanSignalAnalysis, scancache.ScopeStrongSectors, "1y"), zerolog.Nop())
	narrow.Prepare(syms)
	require.NoError(t, narrow.Run(context.Background()))

	assert.Equal(t, 1, analyzer.callCount("000001.SZ"))
	assert.Equal(t, 1, analyzer.callCount("000002.SZ"))
	assert.Equal(t, 2, narrow.State().Reused)

	// The reused results live under the narrow key now.
	assert.Len(t, cache.ScannedSymbols(narrow.Key()), 2)
	results := narrow.Results()
	assert.Len(t, results, 2)
}

func TestConcurrentRunMarksEverySymbol(t *testing.T) {
	cache := newTestCache(t)
	analyzer := newFakeAnalyzer()
	analyzer.fail["000005.SZ"] = errors.New("boom")

	cfg := DefaultConfig(scancache.ScanTrendStart, scancache.ScopeAllStocks, "")
	cfg.BatchSize = 4
	cfg.Workers = 3
	cfg.BatchDelay = time.Millisecond

	r := NewRunner(cache, analyzer, cfg, zerolog.Nop())
	symbols := listed("000001.SZ", "000002.SZ", "000003.SZ", "000004.SZ",
		"000005.SZ", "000006.SZ", "000007.SZ", "000008.SZ", "000009.SZ")
	r.Prepare(symbols)
	require.NoError(t, r.RunConcurrent(context.Background()))

	assert.Len(t, cache.ScannedSymbols(r.Key()), 9)
	state := r.State()
	assert.True(t, state.Completed)
	assert.Equal(t, 9, state.Processed)
	assert.Equal(t, 1, state.Failed)
}

func TestConcurrentCancellationStopsNewBatches(t *testing.T) {
	cache := newTestCache(t)
	analyzer := newFakeAnalyzer()
	analyzer.hold = 20 * time.Millisecond

	cfg := DefaultConfig(scancache.ScanSignalAnalysis, scancache.ScopeAllStocks, "1y")
	cfg.BatchSize = 2
	cfg.Workers = 2
	cfg.BatchDelay = 50 * time.Millisecond

	r := NewRunner(cache, analyzer, cfg, zerolog.Nop())
	r.Prepare(listed("000001.SZ", "000002.SZ", "000003.SZ", "000004.SZ"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := r.RunConcurrent(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	state := r.State()
	assert.False(t, state.Completed, "a canceled run must not report completion")
	assert.Less(t, state.Processed, 4, "the second batch must not dispatch")
	assert.GreaterOrEqual(t, state.Processed, 2, "the in-flight batch finishes")
}

func TestConcurrentCancellationKeepsUndispatchedUnscanned(t *testing.T) {
	cache := newTestCache(t)
	analyzer := newFakeAnalyzer()
	analyzer.hold = 100 * time.Millisecond

	cfg := DefaultConfig(scancache.ScanSignalAnalysis, scancache.ScopeAllStocks, "1y")
	cfg.BatchSize = 8
	cfg.Workers = 1

	syms := listed("000001.SZ", "000002.SZ", "000003.SZ", "000004.SZ",
		"000005.SZ", "000006.SZ", "000007.SZ", "000008.SZ")
	r := NewRunner(cache, analyzer, cfg, zerolog.Nop())
	r.Prepare(syms)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := r.RunConcurrent(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// The one dispatched symbol drains and is marked; the rest of the
	// batch must stay unscanned so a resumed run can retry them.
	scanned := cache.ScannedSymbols(r.Key())
	require.Len(t, scanned, 1)
	_, ok := scanned["000001.SZ"]
	assert.True(t, ok, "the in-flight symbol completes its attempt")
	assert.Equal(t, 1, r.State().Processed)

	second := NewRunner(cache, analyzer, cfg, zerolog.Nop())
	second.Prepare(syms)
	assert.Equal(t, 7, second.State().Total, "cancellation must not consume undispatched symbols")

	analyzer.hold = 0
	require.NoError(t, second.RunConcurrent(context.Background()))
	assert.Len(t, cache.ScannedSymbols(second.Key()), 8)
	assert.Equal(t, 1, analyzer.callCount("000001.SZ"), "the drained symbol is not rescored")
}

func TestPerSymbolTimeoutCountsAsFailure(t *testing.T) {
	cache := newTestCache(t)
	analyzer := newFakeAnalyzer()
	analyzer.hold = 100 * time.Millisecond

	cfg := DefaultConfig(scancache.ScanSignalAnalysis, scancache.ScopeAllStocks, "1y")
	cfg.SymbolTimeout = 10 * time.Millisecond

	r := NewRunner(cache, analyzer, cfg, zerolog.Nop())
	r.Prepare(listed("000001.SZ"))
	require.NoError(t, r.Run(context.Background()))

	state := r.State()
	assert.Equal(t, 1, state.Failed)
	assert.Len(t, cache.ScannedSymbols(r.Key()), 1, "a timed-out symbol is still marked scanned")
}

func TestZeroSignalCompletionIsNotAbort(t *testing.T) {
	cache := newTestCache(t)
	analyzer := newFakeAnalyzer()
	analyzer.fail["000001.SZ"] = errors.New("down")
	analyzer.fail["000002.SZ"] = errors.New("down")

	r := NewRunner(cache, analyzer, DefaultConfig(scancache.ScanSignalAnalysis, scancache.ScopeAllStocks, "1y"), zerolog.Nop())
	r.Prepare(listed("000001.SZ", "000002.SZ"))
	require.NoError(t, r.Run(context.Background()))

	state := r.State()
	assert.True(t, state.Completed)
	assert.Equal(t, 0, state.Signals)
	assert.Equal(t, 2, state.Failed)
	assert.Empty(t, r.Results())
}

func TestLoadExclusions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exclusions.txt")
	content := "# manually delisted\n600001.SS\n\n000099.SZ\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got, err := LoadExclusions(path)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, got, "600001.SS")
	assert.Contains(t, got, "000099.SZ")

	empty, err := LoadExclusions(filepath.Join(t.TempDir(), "missing.txt"))
	require.NoError(t, err)
	assert.Empty(t, empty)
}
