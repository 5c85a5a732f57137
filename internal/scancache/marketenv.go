package scancache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mwquant/trendscan/internal/types"
)

// Market environment analysis is cached once per day alongside the scan
// documents. A file whose date is not today is treated as absent and
// removed on the next load.

type marketEnvDoc struct {
	Date        string                   `json:"date"`
	Environment *types.MarketEnvironment `json:"environment"`
}

func (s *Store) marketEnvPath(date string) string {
	return filepath.Join(s.cacheDir, fmt.Sprintf("market_env_%s.json", date))
}

// SaveMarketEnvironment persists today's environment analysis.
func (s *Store) SaveMarketEnvironment(env *types.MarketEnvironment) error {
	date := Today()
	doc := marketEnvDoc{Date: date, Environment: env}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal market environment: %w", err)
	}
	path := s.marketEnvPath(date)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("market environment write failed")
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		s.log.Warn().Err(err).Str("path", path).Msg("market environment write failed")
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// MarketEnvironment returns today's cached environment, or nil when no
// valid cache exists. Stale files from earlier dates are removed.
func (s *Store) MarketEnvironment() *types.MarketEnvironment {
	date := Today()
	path := s.marketEnvPath(date)
	data, err := os.ReadFile(path)
	if err != nil {
		s.removeStaleMarketEnv(date)
		return nil
	}
	var doc marketEnvDoc
	if err := json.Unmarshal(data, &doc); err != nil || doc.Date != date {
		os.Remove(path)
		return nil
	}
	return doc.Environment
}

// ClearMarketEnvironment drops today's cached environment so the next
// request recomputes it.
func (s *Store) ClearMarketEnvironment() {
	os.Remove(s.marketEnvPath(Today()))
}

func (s *Store) removeStaleMarketEnv(today string) {
	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if len(name) == len("market_env_20060102.json") &&
			name != fmt.Sprintf("market_env_%s.json", today) &&
			name[:11] == "market_env_" {
			os.Remove(filepath.Join(s.cacheDir, name))
		}
	}
}
