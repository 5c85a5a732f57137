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

const tencentKlineURL = "https://web.ifzq.gtimg.cn/appstock/app/fqkline/get"

// TencentProvider is the secondary daily-kline source.
type TencentProvider struct {
	client  *http.Client
	baseURL string
}

type TencentOption func(*TencentProvider)

func WithTencentBaseURL(base string) TencentOption {
	return func(p *TencentProvider) { p.baseURL = base }
}

func WithTencentClient(c *http.Client) TencentOption {
	return func(p *TencentProvider) { p.client = c }
}

func NewTencentProvider(opts ...TencentOption) *TencentProvider {
	p := &TencentProvider{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: tencentKlineURL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *TencentProvider) Name() string  { return "tencent" }
func (p *TencentProvider) Priority() int { return 2 }
func (p *TencentProvider) Weight() int   { return 5 }

// tencentID maps "600519.SS" to "sh600519" and "000001.SZ" to "sz000001".
func tencentID(symbol string) string {
	code := strings.SplitN(symbol, ".", 2)[0]
	if strings.HasSuffix(symbol, ".SS") {
		return "sh" + code
	}
	return "sz" + code
}

// Kline cells arrive as JSON strings, with occasional trailing
// non-string metadata elements.
type tencentSeries struct {
	QfqDay [][]json.RawMessage `json:"qfqday"`
	Day    [][]json.RawMessage `json:"day"`
}

type tencentResponse struct {
	Code int                        `json:"code"`
	Data map[string]json.RawMessage `json:"data"`
}

func cellString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

func cellFloat(raw json.RawMessage) (float64, error) {
	s, err := cellString(raw)
	if err != nil {
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return 0, err
		}
		return f, nil
	}
	return strconv.ParseFloat(s, 64)
}

func (p *TencentProvider) Fetch(ctx context.Context, symbol, period string, endDate time.Time) ([]types.PriceBar, error) {
	id := tencentID(symbol)
	end := AdjustToTradingDay(endDate)
	begin := end.AddDate(0, 0, -PeriodDays(period))

	q := url.Values{}
	q.Set("param", strings.Join([]string{
		id, "day",
		begin.Format("2006-01-02"),
		end.Format("2006-01-02"),
		strconv.Itoa(PeriodDays(period)),
		"qfq",
	}, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tencent request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tencent status %d", resp.StatusCode)
	}

	var parsed tencentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("tencent decode: %w", err)
	}
	raw, ok := parsed.Data[id]
	if !ok {
		return nil, ErrDataUnavailable
	}
	var series tencentSeries
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("tencent series decode: %w", err)
	}
	rows := series.QfqDay
	if len(rows) == 0 {
		rows = series.Day
	}
	if len(rows) == 0 {
		return nil, ErrDataUnavailable
	}

	bars := make([]types.PriceBar, 0, len(rows))
	for _, row := range rows {
		// date, open, close, high, low, volume
		if len(row) < 6 {
			continue
		}
		dateStr, err := cellString(row[0])
		if err != nil {
			continue
		}
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		vals := make([]float64, 5)
		bad := false
		for i := range vals {
			v, err := cellFloat(row[i+1])
			if err != nil {
				bad = true
				break
			}
			vals[i] = v
		}
		if bad {
			continue
		}
		bars = append(bars, types.PriceBar{
			Date:   date,
			Open:   vals[0],
			High:   vals[2],
			Low:    vals[3],
			Close:  vals[1],
			Volume: vals[4],
		})
	}
	if len(bars) == 0 {
		return nil, ErrDataUnavailable
	}
	return bars, nil
}
