package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mwquant/trendscan/internal/types"
)

const eastmoneyKlineURL = "https://push2his.eastmoney.com/api/qt/stock/kline/get"

// EastmoneyProvider pulls forward-adjusted daily klines from the
// Eastmoney quote API. It is the primary A-share source.
type EastmoneyProvider struct {
	client  *http.Client
	baseURL string
}

// EastmoneyOption configures the provider.
type EastmoneyOption func(*EastmoneyProvider)

// WithEastmoneyBaseURL overrides the API endpoint, for tests.
func WithEastmoneyBaseURL(u string) EastmoneyOption {
	return func(p *EastmoneyProvider) { p.baseURL = u }
}

// WithEastmoneyClient overrides the HTTP client.
func WithEastmoneyClient(c *http.Client) EastmoneyOption {
	return func(p *EastmoneyProvider) { p.client = c }
}

func NewEastmoneyProvider(opts ...EastmoneyOption) *EastmoneyProvider {
	p := &EastmoneyProvider{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: eastmoneyKlineURL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *EastmoneyProvider) Name() string  { return "eastmoney" }
func (p *EastmoneyProvider) Priority() int { return 1 }
func (p *EastmoneyProvider) Weight() int   { return 10 }

// secID maps a suffixed symbol to Eastmoney's market-prefixed id:
// 1.<code> for Shanghai, 0.<code> for Shenzhen.
func secID(symbol string) string {
	code := strings.TrimSuffix(strings.TrimSuffix(symbol, ".SS"), ".SZ")
	if strings.HasSuffix(symbol, ".SS") {
		return "1." + code
	}
	return "0." + code
}

type eastmoneyResponse struct {
	Data *struct {
		Klines []string `json:"klines"`
	} `json:"data"`
}

func (p *EastmoneyProvider) Fetch(ctx context.Context, symbol, period string, endDate time.Time) ([]types.PriceBar, error) {
	if endDate.IsZero() {
		endDate = time.Now()
	}
	endDate = AdjustToTradingDay(endDate)
	start := endDate.AddDate(0, 0, -PeriodDays(period))

	q := url.Values{}
	q.Set("secid", secID(symbol))
	q.Set("fields1", "f1,f2,f3,f4,f5,f6")
	q.Set("fields2", "f51,f52,f53,f54,f55,f56")
	q.Set("klt", "101")
	q.Set("fqt", "1")
	q.Set("beg", start.Format("20060102"))
	q.Set("end", endDate.Format("20060102"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("eastmoney: unexpected status %d", resp.StatusCode)
	}

	var body eastmoneyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("eastmoney: decode response: %w", err)
	}
	if body.Data == nil || len(body.Data.Klines) == 0 {
		return nil, ErrDataUnavailable
	}

	bars := make([]types.PriceBar, 0, len(body.Data.Klines))
	for _, line := range body.Data.Klines {
		bar, err := parseKline(line)
		if err != nil {
			return nil, fmt.Errorf("eastmoney: %w", err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// parseKline decodes one "date,open,close,high,low,volume" row.
func parseKline(line string) (types.PriceBar, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 6 {
		return types.PriceBar{}, fmt.Errorf("malformed kline %q", line)
	}
	date, err := time.Parse("2006-01-02", fields[0])
	if err != nil {
		return types.PriceBar{}, fmt.Errorf("malformed kline date %q", fields[0])
	}
	vals := make([]float64, 5)
	for i, f := range fields[1:6] {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return types.PriceBar{}, fmt.Errorf("malformed kline value %q", f)
		}
		vals[i] = v
	}
	return types.PriceBar{
		Date:   date,
		Open:   vals[0],
		Close:  vals[1],
		High:   vals[2],
		Low:    vals[3],
		Volume: vals[4],
	}, nil
}
