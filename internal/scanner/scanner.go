// Package scanner drives a scan over the symbol universe, applying
// skip rules, writing every outcome into the scan cache, and exposing
// both a resumable serial mode and a batched concurrent mode.
package scanner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mwquant/trendscan/internal/scancache"
	"github.com/mwquant/trendscan/internal/types"
	"github.com/mwquant/trendscan/internal/universe"
)

// Config describes one scan run.
type Config struct {
	ScanType scancache.ScanType
	Scope    scancache.Scope
	Period   string
	// EndDate anchors historical scans; zero means today.
	EndDate time.Time
	// Date is the cache partition, YYYYMMDD; empty means today.
	Date string

	BatchSize     int
	Workers       int
	SymbolTimeout time.Duration
	BatchDelay    time.Duration

	// Exclusions are symbols never analyzed, loaded at startup.
	Exclusions map[string]struct{}
}

// DefaultConfig mirrors the production scan parameters.
func DefaultConfig(scanType scancache.ScanType, scope scancache.Scope, period string) Config {
	return Config{
		ScanType:      scanType,
		Scope:         scope,
		Period:        period,
		BatchSize:     50,
		Workers:       10,
		SymbolTimeout: 30 * time.Second,
		BatchDelay:    time.Second,
	}
}

// RunState is the transient progress snapshot. It is informational
// only; resumability is always rebuilt from the cache's scanned set.
type RunState struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Reused    int `json:"reused"`
	Signals   int `json:"signals"`
	Nulls     int `json:"nulls"`
	Failed    int `json:"failed"`
	// Completed distinguishes a drained run from an interrupted one,
	// including runs that drained with zero signals.
	Completed bool `json:"completed"`
}

// Runner executes one scan run against one cache key.
type Runner struct {
	cache    *scancache.Store
	analyzer Analyzer
	cfg      Config
	key      scancache.Key
	log      zerolog.Logger

	mu      sync.Mutex
	pending []types.ListedSymbol
	state   RunState
}

func NewRunner(cache *scancache.Store, analyzer Analyzer, cfg Config, log zerolog.Logger) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.SymbolTimeout <= 0 {
		cfg.SymbolTimeout = 30 * time.Second
	}
	key := scancache.NewKey(cfg.ScanType, cfg.Date, cfg.Scope, cfg.Period)
	return &Runner{
		cache:    cache,
		analyzer: analyzer,
		cfg:      cfg,
		key:      key,
		log: log.With().
			Str("component", "scanner").
			Str("scan_type", string(cfg.ScanType)).
			Str("scope", string(cfg.Scope)).
			Logger(),
	}
}

// Key returns the cache key this run writes to.
func (r *Runner) Key() scancache.Key { return r.key }

// otherScope is the opposite scan scope to consult for reuse.
func otherScope(s scancache.Scope) scancache.Scope {
	switch s {
	case scancache.ScopeAllStocks:
		return scancache.ScopeStrongSectors
	case scancache.ScopeStrongSectors:
		return scancache.ScopeAllStocks
	default:
		return scancache.ScopeNone
	}
}

// Prepare filters the universe down to the symbols this run still has
// to analyze. Skip rules run cheapest first: already scanned, flagged
// name or code, manual exclusion, then a cross-scope cache hit whose
// result is copied into this run's key. Progress already persisted for
// this key is honored, which is what makes an interrupted run resume.
func (r *Runner) Prepare(symbols []types.ListedSymbol) {
	scanned := r.cache.ScannedSymbols(r.key)
	other := otherScope(r.key.Scope)
	var otherScanned map[string]struct{}
	if other != scancache.ScopeNone {
		otherScanned = r.cache.ScannedSymbols(r.key.WithScope(other))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = r.pending[:0]
	r.state = RunState{}

	for _, sym := range symbols {
		if _, ok := scanned[sym.Symbol]; ok {
			r.state.Skipped++
			continue
		}
		if universe.ShouldSkip(sym.Symbol, sym.Name) {
			r.state.Skipped++
			continue
		}
		if _, ok := r.cfg.Exclusions[sym.Symbol]; ok {
			r.state.Skipped++
			continue
		}
		if _, ok := otherScanned[sym.Symbol]; ok {
			r.reuseFromScope(sym.Symbol, other)
			continue
		}
		r.pending = append(r.pending, sym)
	}
	r.state.Total = len(r.pending)
	r.log.Info().
		Int("pending", len(r.pending)).
		Int("skipped", r.state.Skipped).
		Int("reused", r.state.Reused).
		Msg("scan prepared")
}

// reuseFromScope copies the other scope's outcome into this run's key
// so this scope becomes self-contained. Caller holds r.mu.
func (r *Runner) reuseFromScope(symbol string, other scancache.Scope) {
	result, _ := r.cache.ResultFromOtherScope(r.key, symbol, other)
	if err := r.cache.AddScanned(r.key, symbol, result); err != nil {
		r.log.Warn().Err(err).Str("symbol", symbol).Msg("cache write failed during cross-scope reuse")
	}
	r.state.Reused++
	if result != nil {
		r.state.Signals++
	}
}

// Step analyzes the next pending symbol. It returns done=true once
// nothing is left. One symbol per call keeps interruption loss to a
// single symbol.
func (r *Runner) Step(ctx context.Context) (done bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.state.Completed = true
		r.mu.Unlock()
		return true, nil
	}
	sym := r.pending[0]
	r.pending = r.pending[1:]
	r.mu.Unlock()

	r.processSymbol(ctx, sym)

	r.mu.Lock()
	done = len(r.pending) == 0
	if done {
		r.state.Completed = true
	}
	r.mu.Unlock()
	return done, nil
}

// Run drains the pending set serially.
func (r *Runner) Run(ctx context.Context) error {
	for {
		done, err := r.Step(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// RunConcurrent drains the pending set with a bounded worker pool in
// fixed-size batches. Cancellation stops dispatching new batches;
// workers already running finish their symbol, bounded by the
// per-symbol timeout.
func (r *Runner) RunConcurrent(ctx context.Context) error {
	r.mu.Lock()
	batchAll := make([]types.ListedSymbol, len(r.pending))
	copy(batchAll, r.pending)
	r.pending = r.pending[:0]
	r.mu.Unlock()

	for start := 0; start < len(batchAll); start += r.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+r.cfg.BatchSize, len(batchAll))
		r.runBatch(ctx, batchAll[start:end])

		if end < len(batchAll) && r.cfg.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.BatchDelay):
			}
		}
	}

	r.mu.Lock()
	if ctx.Err() == nil {
		r.state.Completed = true
	}
	r.mu.Unlock()
	return ctx.Err()
}

func (r *Runner) runBatch(ctx context.Context, batch []types.ListedSymbol) {
	jobs := make(chan types.ListedSymbol)
	var wg sync.WaitGroup

	workers := min(r.cfg.Workers, len(batch))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range jobs {
				r.processSymbol(ctx, sym)
			}
		}()
	}
	// Cancellation stops dispatch; symbols already handed to a worker
	// drain on their own timeout so they are genuinely attempted.
feed:
	for _, sym := range batch {
		select {
		case jobs <- sym:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
}

// processSymbol is the per-symbol failure boundary: every genuine
// attempt ends with the symbol marked scanned, so it is never retried
// within this key. Run-level cancellation is not an attempt.
func (r *Runner) processSymbol(ctx context.Context, sym types.ListedSymbol) {
	// The timeout is detached from the run context so a canceled run
	// lets in-flight symbols finish instead of failing them instantly.
	symCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.SymbolTimeout)
	defer cancel()

	result, err := func() (res *types.SignalResult, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("analyze panicked: %v", p)
			}
		}()
		return r.analyzer.Analyze(symCtx, sym, r.cfg.Period, r.cfg.EndDate)
	}()

	// A failure caused by the run being canceled is not an attempt;
	// leave the symbol unscanned so a resumed run retries it.
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return
	}

	r.mu.Lock()
	r.state.Processed++
	switch {
	case err != nil:
		r.state.Failed++
		r.log.Debug().Err(err).Str("symbol", sym.Symbol).Msg("symbol analysis failed")
	case result == nil:
		r.state.Nulls++
	default:
		r.state.Signals++
	}
	r.mu.Unlock()

	if werr := r.cache.AddScanned(r.key, sym.Symbol, result); werr != nil {
		r.log.Warn().Err(werr).Str("symbol", sym.Symbol).Msg("cache write failed, resumability degraded")
	}
}

// State snapshots run progress.
func (r *Runner) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Results reads back today's accumulated results for this run's key.
func (r *Runner) Results() []*types.SignalResult {
	return r.cache.CachedResults(r.key)
}

// LoadExclusions reads one symbol per line, ignoring blanks and #
// comments. A missing file is an empty list.
func LoadExclusions(path string) (map[string]struct{}, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]struct{}{}, nil
		}
		return nil, fmt.Errorf("open exclusion list: %w", err)
	}
	defer f.Close()

	out := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out[line] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read exclusion list: %w", err)
	}
	return out, nil
}
