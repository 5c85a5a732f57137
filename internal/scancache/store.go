package scancache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mwquant/trendscan/internal/types"
)

// ErrWriteFailed wraps cache persistence failures. These must surface to
// the operator: a swallowed write error silently breaks resumability.
var ErrWriteFailed = errors.New("scan cache write failed")

// document is the on-disk shape of one cache entry. Results may hold
// explicit nulls: a null records "scanned, nothing to keep" for symbols
// that produced no signal or failed, which is what makes progress
// monotonic.
type document struct {
	Date          string                         `json:"date"`
	Period        string                         `json:"period,omitempty"`
	ScannedStocks []string                       `json:"scanned_stocks"`
	Results       map[string]*types.SignalResult `json:"results"`
}

func newDocument(key Key) *document {
	return &document{
		Date:          key.Date,
		Period:        key.Period,
		ScannedStocks: []string{},
		Results:       map[string]*types.SignalResult{},
	}
}

// matches reports whether the stored entry belongs to the requested key.
// A mismatch means the entry is stale and must be discarded, not merged.
func (d *document) matches(key Key) bool {
	if d.Date != key.Date {
		return false
	}
	if key.Period != "" && d.Period != key.Period {
		return false
	}
	return true
}

// Store manages the cache documents under a directory. Writes to the
// same document are serialized through a per-document mutex, not one
// global lock, so unrelated scan keys never contend.
type Store struct {
	cacheDir   string
	resultsDir string
	log        zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates the cache and results directories if needed.
func NewStore(cacheDir, resultsDir string, log zerolog.Logger) (*Store, error) {
	for _, dir := range []string{cacheDir, resultsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
		}
	}
	return &Store{
		cacheDir:   cacheDir,
		resultsDir: resultsDir,
		log:        log,
		locks:      map[string]*sync.Mutex{},
	}, nil
}

func (s *Store) docLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

func (s *Store) path(key Key) string {
	return filepath.Join(s.cacheDir, key.Filename())
}

// load reads the document for key, discarding stale entries. Returns nil
// when no usable entry exists. Caller must hold the document lock.
func (s *Store) load(key Key) *document {
	path := s.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.log.Warn().Err(err).Str("file", key.Filename()).Msg("unreadable scan cache entry, discarding")
		os.Remove(path)
		return nil
	}
	if !doc.matches(key) {
		os.Remove(path)
		return nil
	}
	if doc.Results == nil {
		doc.Results = map[string]*types.SignalResult{}
	}
	return &doc
}

// write persists the document atomically (temp file + rename), so a
// crash mid-write never corrupts the resumability state.
func (s *Store) write(key Key, doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	path := s.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.log.Warn().Err(err).Str("file", key.Filename()).Msg("scan cache write failed")
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		s.log.Warn().Err(err).Str("file", key.Filename()).Msg("scan cache rename failed")
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// ScannedSymbols returns the persisted membership set for the key. A
// missing or stale entry yields an empty set; stale files are removed.
func (s *Store) ScannedSymbols(key Key) map[string]struct{} {
	lock := s.docLock(key.Filename())
	lock.Lock()
	defer lock.Unlock()

	set := map[string]struct{}{}
	doc := s.load(key)
	if doc == nil {
		return set
	}
	for _, sym := range doc.ScannedStocks {
		set[sym] = struct{}{}
	}
	return set
}

// AddScanned marks a symbol scanned and stores its result (possibly nil)
// under the key. Idempotent: repeat calls leave a single membership
// entry. A stored entry whose date or period mismatches the key is reset
// wholesale before inserting, never merged.
func (s *Store) AddScanned(key Key, symbol string, result *types.SignalResult) error {
	lock := s.docLock(key.Filename())
	lock.Lock()
	defer lock.Unlock()

	doc := s.load(key)
	if doc == nil {
		doc = newDocument(key)
	}

	found := false
	for _, sym := range doc.ScannedStocks {
		if sym == symbol {
			found = true
			break
		}
	}
	if !found {
		doc.ScannedStocks = append(doc.ScannedStocks, symbol)
	}
	doc.Results[symbol] = result

	return s.write(key, doc)
}

// CachedResults returns the non-null results stored for today under the
// key, in scan order. Stale entries yield nothing.
func (s *Store) CachedResults(key Key) []*types.SignalResult {
	key.Date = Today()
	lock := s.docLock(key.Filename())
	lock.Lock()
	defer lock.Unlock()

	doc := s.load(key)
	if doc == nil {
		return nil
	}
	var out []*types.SignalResult
	for _, sym := range doc.ScannedStocks {
		if r := doc.Results[sym]; r != nil {
			out = append(out, r)
		}
	}
	return out
}

// ResultsForDate is CachedResults for an explicit date, used by
// historical scans and the verifier.
func (s *Store) ResultsForDate(key Key) []*types.SignalResult {
	lock := s.docLock(key.Filename())
	lock.Lock()
	defer lock.Unlock()

	doc := s.load(key)
	if doc == nil {
		return nil
	}
	var out []*types.SignalResult
	for _, sym := range doc.ScannedStocks {
		if r := doc.Results[sym]; r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Result returns the stored result for one symbol under the key, with a
// found flag distinguishing "stored null" from "never scanned".
func (s *Store) Result(key Key, symbol string) (*types.SignalResult, bool) {
	lock := s.docLock(key.Filename())
	lock.Lock()
	defer lock.Unlock()

	doc := s.load(key)
	if doc == nil {
		return nil, false
	}
	r, ok := doc.Results[symbol]
	return r, ok
}

// ResultFromOtherScope reads an already-computed result for symbol from
// a sibling scope's cache under the same date and period, so overlapping
// scopes reuse each other's work instead of recomputing.
func (s *Store) ResultFromOtherScope(key Key, symbol string, otherScope Scope) (*types.SignalResult, bool) {
	if otherScope == ScopeNone || otherScope == key.Scope {
		return nil, false
	}
	return s.Result(key.WithScope(otherScope), symbol)
}

// ClearToday removes the entry document for the exact key, forcing a
// fresh scan.
func (s *Store) ClearToday(key Key) error {
	key.Date = Today()
	lock := s.docLock(key.Filename())
	lock.Lock()
	defer lock.Unlock()

	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear cache %s: %w", key.Filename(), err)
	}
	return nil
}

// Stats summarizes one key's progress.
type Stats struct {
	ScannedCount int    `json:"scanned_count"`
	ResultCount  int    `json:"result_count"`
	Date         string `json:"date"`
}

// KeyStats reports how far a key's scan has progressed.
func (s *Store) KeyStats(key Key) Stats {
	lock := s.docLock(key.Filename())
	lock.Lock()
	defer lock.Unlock()

	st := Stats{Date: key.Date}
	doc := s.load(key)
	if doc == nil {
		return st
	}
	st.ScannedCount = len(doc.ScannedStocks)
	for _, r := range doc.Results {
		if r != nil {
			st.ResultCount++
		}
	}
	return st
}
