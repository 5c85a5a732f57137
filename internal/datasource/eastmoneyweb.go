package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mwquant/trendscan/internal/market"
	"github.com/mwquant/trendscan/internal/types"
)

const (
	spotFields = "f2,f3,f12,f14"
	spotPage   = 5000

	// fs selectors for the clist endpoint.
	fsAllAShares     = "m:0+t:6,m:0+t:80,m:1+t:2,m:1+t:23"
	fsIndustryBoards = "m:90+t:2"
)

// EastmoneyWeb wraps the quote-list endpoints that back spot snapshots,
// the exchange listing and sector boards. Kline history for individual
// symbols lives in EastmoneyProvider.
type EastmoneyWeb struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger

	mu          sync.Mutex
	sectorCodes map[string]string
}

type EastmoneyWebOption func(*EastmoneyWeb)

func WithWebBaseURL(base string) EastmoneyWebOption {
	return func(w *EastmoneyWeb) { w.baseURL = base }
}

func WithWebClient(c *http.Client) EastmoneyWebOption {
	return func(w *EastmoneyWeb) { w.client = c }
}

func NewEastmoneyWeb(log zerolog.Logger, opts ...EastmoneyWebOption) *EastmoneyWeb {
	w := &EastmoneyWeb{
		baseURL:     "https://push2.eastmoney.com",
		client:      &http.Client{Timeout: 20 * time.Second},
		log:         log,
		sectorCodes: make(map[string]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// numeric tolerates the "-" placeholder the quote endpoints return for
// suspended symbols.
type numeric float64

func (n *numeric) UnmarshalJSON(data []byte) error {
	if string(data) == `"-"` || string(data) == "null" {
		*n = 0
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = numeric(f)
	return nil
}

type clistRow struct {
	Price  numeric `json:"f2"`
	Change numeric `json:"f3"`
	Code   string  `json:"f12"`
	Name   string  `json:"f14"`
}

type clistResponse struct {
	Data *struct {
		Total int        `json:"total"`
		Diff  []clistRow `json:"diff"`
	} `json:"data"`
}

func (w *EastmoneyWeb) clist(ctx context.Context, fs string) ([]clistRow, error) {
	var rows []clistRow
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("pn", strconv.Itoa(page))
		q.Set("pz", strconv.Itoa(spotPage))
		q.Set("po", "1")
		q.Set("np", "1")
		q.Set("fltt", "2")
		q.Set("invt", "2")
		q.Set("fid", "f3")
		q.Set("fs", fs)
		q.Set("fields", spotFields)

		reqURL := w.baseURL + "/api/qt/clist/get?" + q.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}

		resp, err := w.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("quote list request: %w", err)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			return nil, ErrRateLimited
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("quote list status %d", resp.StatusCode)
		}

		var parsed clistResponse
		err = json.NewDecoder(resp.Body).Decode(&parsed)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("quote list decode: %w", err)
		}
		if parsed.Data == nil || len(parsed.Data.Diff) == 0 {
			break
		}

		rows = append(rows, parsed.Data.Diff...)
		if len(rows) >= parsed.Data.Total {
			break
		}
	}
	if len(rows) == 0 {
		return nil, ErrDataUnavailable
	}
	return rows, nil
}

func (w *EastmoneyWeb) SpotQuotes(ctx context.Context) ([]market.Quote, error) {
	rows, err := w.clist(ctx, fsAllAShares)
	if err != nil {
		return nil, err
	}
	quotes := make([]market.Quote, 0, len(rows))
	for _, r := range rows {
		quotes = append(quotes, market.Quote{
			Symbol:        r.Code,
			Name:          r.Name,
			Price:         float64(r.Price),
			ChangePercent: float64(r.Change),
		})
	}
	return quotes, nil
}

func (w *EastmoneyWeb) SectorNames(ctx context.Context) ([]string, error) {
	rows, err := w.clist(ctx, fsIndustryBoards)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		w.sectorCodes[r.Name] = r.Code
		names = append(names, r.Name)
	}
	w.mu.Unlock()
	return names, nil
}

func (w *EastmoneyWeb) sectorCode(ctx context.Context, sector string) (string, error) {
	w.mu.Lock()
	code, ok := w.sectorCodes[sector]
	w.mu.Unlock()
	if ok {
		return code, nil
	}
	if _, err := w.SectorNames(ctx); err != nil {
		return "", err
	}
	w.mu.Lock()
	code, ok = w.sectorCodes[sector]
	w.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("unknown sector %q", sector)
	}
	return code, nil
}

// SectorHistory returns roughly six months of daily bars for a board.
func (w *EastmoneyWeb) SectorHistory(ctx context.Context, sector string) ([]types.PriceBar, error) {
	code, err := w.sectorCode(ctx, sector)
	if err != nil {
		return nil, err
	}

	end := time.Now()
	begin := end.AddDate(0, -6, 0)

	q := url.Values{}
	q.Set("secid", "90."+code)
	q.Set("fields1", "f1,f2,f3,f4,f5,f6")
	q.Set("fields2", "f51,f52,f53,f54,f55,f56")
	q.Set("klt", "101")
	q.Set("fqt", "1")
	q.Set("beg", begin.Format("20060102"))
	q.Set("end", end.Format("20060102"))

	reqURL := w.baseURL + "/api/qt/stock/kline/get?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sector kline request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sector kline status %d", resp.StatusCode)
	}

	var parsed eastmoneyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("sector kline decode: %w", err)
	}
	if parsed.Data == nil || len(parsed.Data.Klines) == 0 {
		return nil, ErrDataUnavailable
	}

	bars := make([]types.PriceBar, 0, len(parsed.Data.Klines))
	for _, line := range parsed.Data.Klines {
		bar, err := parseKline(line)
		if err != nil {
			w.log.Debug().Err(err).Str("sector", sector).Msg("skipping malformed kline")
			continue
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func (w *EastmoneyWeb) ListAll(ctx context.Context) ([]types.ListedSymbol, error) {
	rows, err := w.clist(ctx, fsAllAShares)
	if err != nil {
		return nil, err
	}
	symbols := make([]types.ListedSymbol, 0, len(rows))
	for _, r := range rows {
		symbols = append(symbols, types.ListedSymbol{Code: r.Code, Name: r.Name})
	}
	return symbols, nil
}

func (w *EastmoneyWeb) SectorConstituents(ctx context.Context, sector string) ([]types.ListedSymbol, error) {
	code, err := w.sectorCode(ctx, sector)
	if err != nil {
		return nil, err
	}
	rows, err := w.clist(ctx, "b:"+code)
	if err != nil {
		return nil, err
	}
	symbols := make([]types.ListedSymbol, 0, len(rows))
	for _, r := range rows {
		symbols = append(symbols, types.ListedSymbol{Code: r.Code, Name: r.Name})
	}
	return symbols, nil
}
