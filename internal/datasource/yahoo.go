package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mwquant/trendscan/internal/types"
)

const yahooChartURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// YahooProvider is the tertiary fallback. Suffixed symbols map
// directly to Yahoo tickers.
type YahooProvider struct {
	client  *http.Client
	baseURL string
}

type YahooOption func(*YahooProvider)

func WithYahooBaseURL(base string) YahooOption {
	return func(p *YahooProvider) { p.baseURL = base }
}

func WithYahooClient(c *http.Client) YahooOption {
	return func(p *YahooProvider) { p.client = c }
}

func NewYahooProvider(opts ...YahooOption) *YahooProvider {
	p := &YahooProvider{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: yahooChartURL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *YahooProvider) Name() string  { return "yahoo" }
func (p *YahooProvider) Priority() int { return 3 }
func (p *YahooProvider) Weight() int   { return 1 }

type yahooQuote struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*int64   `json:"volume"`
}

type yahooResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []yahooQuote `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code string `json:"code"`
		} `json:"error"`
	} `json:"chart"`
}

func (p *YahooProvider) Fetch(ctx context.Context, symbol, period string, endDate time.Time) ([]types.PriceBar, error) {
	end := AdjustToTradingDay(endDate)
	begin := end.AddDate(0, 0, -PeriodDays(period))

	q := url.Values{}
	q.Set("period1", strconv.FormatInt(begin.Unix(), 10))
	q.Set("period2", strconv.FormatInt(end.AddDate(0, 0, 1).Unix(), 10))
	q.Set("interval", "1d")
	q.Set("events", "div,splits")

	reqURL := fmt.Sprintf("%s/%s?%s", p.baseURL, url.PathEscape(symbol), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yahoo request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo status %d", resp.StatusCode)
	}

	var parsed yahooResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("yahoo decode: %w", err)
	}
	if parsed.Chart.Error != nil || len(parsed.Chart.Result) == 0 {
		return nil, ErrDataUnavailable
	}
	result := parsed.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, ErrDataUnavailable
	}
	quote := result.Indicators.Quote[0]

	bars := make([]types.PriceBar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] == nil ||
			quote.Open[i] == nil || quote.High[i] == nil || quote.Low[i] == nil {
			continue
		}
		var vol float64
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			vol = float64(*quote.Volume[i])
		}
		bars = append(bars, types.PriceBar{
			Date:   time.Unix(ts, 0).UTC().Truncate(24 * time.Hour),
			Open:   *quote.Open[i],
			High:   *quote.High[i],
			Low:    *quote.Low[i],
			Close:  *quote.Close[i],
			Volume: vol,
		})
	}
	if len(bars) == 0 {
		return nil, ErrDataUnavailable
	}
	return bars, nil
}
