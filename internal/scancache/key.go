// Package scancache is the system of record for incremental scan
// progress. One JSON document per scan key tracks which symbols have
// been scored and what came out, so an interrupted run resumes exactly
// where it stopped and never rescans a symbol within the same key.
package scancache

import (
	"fmt"
	"time"
)

// ScanType discriminates the two scan pipelines.
type ScanType string

const (
	ScanSignalAnalysis ScanType = "signal_analysis"
	ScanTrendStart     ScanType = "trend_start_signal"
)

// Scope names the subset-selection policy of a scan run.
type Scope string

const (
	ScopeNone          Scope = ""
	ScopeAllStocks     Scope = "all_stocks"
	ScopeStrongSectors Scope = "strong_sectors"
)

// Key identifies one cache document. Period participates in the key only
// for signal_analysis, where result semantics depend on the lookback
// window; trend_start_signal keys ignore it.
type Key struct {
	ScanType ScanType
	Date     string // YYYYMMDD
	Scope    Scope
	Period   string
}

// Today returns the YYYYMMDD form of the current date.
func Today() string {
	return time.Now().Format("20060102")
}

// NewKey builds a key, defaulting the date to today and dropping the
// period for scan types that do not discriminate on it.
func NewKey(scanType ScanType, date string, scope Scope, period string) Key {
	if date == "" {
		date = Today()
	}
	if scanType != ScanSignalAnalysis {
		period = ""
	}
	return Key{ScanType: scanType, Date: date, Scope: scope, Period: period}
}

// WithScope returns the same key pointed at another scope, for
// cross-scope lookups.
func (k Key) WithScope(scope Scope) Key {
	k.Scope = scope
	return k
}

// Filename maps the key onto its document name. The naming convention is
// isolated here; nothing else reasons about file names.
func (k Key) Filename() string {
	switch {
	case k.Scope != ScopeNone && k.Period != "":
		return fmt.Sprintf("%s_%s_%s_%s.json", k.ScanType, k.Scope, k.Period, k.Date)
	case k.Scope != ScopeNone:
		return fmt.Sprintf("%s_%s_%s.json", k.ScanType, k.Scope, k.Date)
	case k.Period != "":
		return fmt.Sprintf("%s_%s_%s.json", k.ScanType, k.Period, k.Date)
	default:
		return fmt.Sprintf("%s_%s.json", k.ScanType, k.Date)
	}
}
