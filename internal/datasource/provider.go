// Package datasource selects among upstream market-data providers by
// priority, tracks per-provider health, and backs off providers that
// signal rate limiting.
package datasource

import (
	"context"
	"errors"
	"time"

	"github.com/mwquant/trendscan/internal/types"
)

var (
	// ErrDataUnavailable means the provider had no data for the symbol.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrRateLimited means the upstream rejected the request for rate
	// reasons. The manager treats this differently from a plain failure.
	ErrRateLimited = errors.New("rate limited")
)

// Provider fetches daily OHLCV history for one symbol. Bars must be
// returned in ascending date order.
type Provider interface {
	Name() string
	// Priority orders providers; lower tries first.
	Priority() int
	// Weight breaks ties within a priority band. Zero is deprioritized.
	Weight() int
	Fetch(ctx context.Context, symbol, period string, endDate time.Time) ([]types.PriceBar, error)
}

var periodDays = map[string]int{
	"1d": 1, "5d": 5, "1mo": 30, "3mo": 90,
	"6mo": 180, "1y": 365, "2y": 730, "5y": 1825,
}

// PeriodDays maps a period token to calendar days, defaulting to 180.
func PeriodDays(period string) int {
	if d, ok := periodDays[period]; ok {
		return d
	}
	return 180
}

// AdjustToTradingDay shifts weekend dates back to the preceding Friday.
func AdjustToTradingDay(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, -1)
	case time.Sunday:
		return t.AddDate(0, 0, -2)
	default:
		return t
	}
}
