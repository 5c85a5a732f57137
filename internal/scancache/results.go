package scancache

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mwquant/trendscan/internal/types"
)

// ResultsDocument is the daily results export: the complete outcome of
// one scan day, kept separately from the incremental cache so the
// verifier can work on finished days.
type ResultsDocument struct {
	Date       string                `json:"date"`
	ScanType   ScanType              `json:"scan_type"`
	TotalCount int                   `json:"total_count"`
	ScanTime   string                `json:"scan_time"`
	Results    []*types.SignalResult `json:"results"`
}

func (s *Store) resultsPaths(scanType ScanType, date string) (csvPath, jsonPath string) {
	csvPath = filepath.Join(s.resultsDir, fmt.Sprintf("%s_results_%s.csv", scanType, date))
	jsonPath = filepath.Join(s.resultsDir, fmt.Sprintf("%s_results_%s.json", scanType, date))
	return csvPath, jsonPath
}

// SaveDailyResults writes the day's results as JSON (full fidelity) and
// CSV (flat tabular form for spreadsheets and the verifier).
func (s *Store) SaveDailyResults(scanType ScanType, date string, results []*types.SignalResult) error {
	if len(results) == 0 {
		return nil
	}
	if date == "" {
		date = Today()
	}
	csvPath, jsonPath := s.resultsPaths(scanType, date)

	doc := ResultsDocument{
		Date:       date,
		ScanType:   scanType,
		TotalCount: len(results),
		ScanTime:   time.Now().Format("2006-01-02 15:04:05"),
		Results:    results,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	f, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	header := []string{
		"symbol", "name", "price", "change_percent", "signal", "signal_type",
		"strength", "strength_level", "buy_score", "sell_score", "net_score",
		"stop_loss", "reason",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	for _, r := range results {
		row := []string{
			r.Symbol, r.Name,
			strconv.FormatFloat(r.Price, 'f', 2, 64),
			strconv.FormatFloat(r.ChangePercent, 'f', 2, 64),
			string(r.Signal), string(r.SignalType),
			strconv.Itoa(r.Strength), string(r.StrengthLevel),
			strconv.Itoa(r.BuyScore), strconv.Itoa(r.SellScore), strconv.Itoa(r.NetScore),
			strconv.FormatFloat(r.StopLoss, 'f', 2, 64),
			r.Reason,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
	}
	w.Flush()
	return w.Error()
}

// HistoricalResults loads the results document for a finished day, or
// nil when none exists.
func (s *Store) HistoricalResults(scanType ScanType, date string) (*ResultsDocument, error) {
	_, jsonPath := s.resultsPaths(scanType, date)
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read historical results: %w", err)
	}
	var doc ResultsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse historical results: %w", err)
	}
	return &doc, nil
}

// AvailableDates lists the dates with saved results for a scan type,
// newest first.
func (s *Store) AvailableDates(scanType ScanType) []string {
	entries, err := os.ReadDir(s.resultsDir)
	if err != nil {
		return nil
	}
	prefix := fmt.Sprintf("%s_results_", scanType)
	var dates []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		date := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json")
		if len(date) == 8 && isDigits(date) {
			dates = append(dates, date)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}
