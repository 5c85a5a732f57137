// Package universe resolves the set of symbols a scan run iterates:
// the full exchange listing, day-cached on disk, or the union of
// constituents of the current strong sectors.
package universe

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mwquant/trendscan/internal/types"
)

// codePattern admits A shares (0/3/6), funds and ETFs (15/16/51), and
// B shares (9), all six digits.
var codePattern = regexp.MustCompile(`^[036]\d{5}$|^1[56]\d{4}$|^51\d{4}$|^9\d{5}$`)

// ValidCode reports whether a bare exchange code belongs in the
// universe.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// SymbolFor attaches the market suffix: Shanghai for codes starting
// with 6, Shenzhen otherwise.
func SymbolFor(code string) string {
	if strings.HasPrefix(code, "6") {
		return code + ".SS"
	}
	return code + ".SZ"
}

// ShouldSkip filters symbols no scan mode analyzes: ST and delisting
// names, and the 920/900 code ranges.
func ShouldSkip(symbol, name string) bool {
	if strings.Contains(strings.ToUpper(name), "ST") {
		return true
	}
	if strings.Contains(name, "退市") {
		return true
	}
	code := strings.TrimSuffix(strings.TrimSuffix(symbol, ".SS"), ".SZ")
	if len(code) == 6 && (strings.HasPrefix(code, "920") || strings.HasPrefix(code, "900")) {
		return true
	}
	return false
}

// Lister supplies raw listings from upstream.
type Lister interface {
	ListAll(ctx context.Context) ([]types.ListedSymbol, error)
	SectorConstituents(ctx context.Context, sector string) ([]types.ListedSymbol, error)
}

// Universe serves the day-cached exchange listing.
type Universe struct {
	lister   Lister
	cacheDir string
	log      zerolog.Logger
}

func New(lister Lister, cacheDir string, log zerolog.Logger) (*Universe, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create universe cache dir: %w", err)
	}
	return &Universe{
		lister:   lister,
		cacheDir: cacheDir,
		log:      log.With().Str("component", "universe").Logger(),
	}, nil
}

func (u *Universe) listPath() string {
	date := time.Now().Format("20060102")
	return filepath.Join(u.cacheDir, fmt.Sprintf("a_stock_list_%s.csv", date))
}

// Symbols returns the filtered exchange listing for today. The first
// call of the day fetches upstream and caches to CSV; later calls read
// the file. The cached flag reports which path served the request.
func (u *Universe) Symbols(ctx context.Context) (symbols []types.ListedSymbol, cached bool, err error) {
	path := u.listPath()
	if symbols = u.readListCSV(path); len(symbols) > 0 {
		return symbols, true, nil
	}

	raw, err := u.lister.ListAll(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("fetch stock listing: %w", err)
	}
	symbols = filterListing(raw)
	if len(symbols) == 0 {
		return nil, false, fmt.Errorf("stock listing empty after filtering")
	}

	if err := u.writeListCSV(path, symbols); err != nil {
		u.log.Warn().Err(err).Str("path", path).Msg("stock list cache write failed")
	}
	return symbols, false, nil
}

// filterListing keeps rows with a valid code and fills in the suffixed
// symbol when the lister left it blank.
func filterListing(raw []types.ListedSymbol) []types.ListedSymbol {
	out := make([]types.ListedSymbol, 0, len(raw))
	for _, s := range raw {
		if !ValidCode(s.Code) {
			continue
		}
		if s.Symbol == "" {
			s.Symbol = SymbolFor(s.Code)
		}
		out = append(out, s)
	}
	return out
}

func (u *Universe) readListCSV(path string) []types.ListedSymbol {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil || len(rows) < 2 {
		return nil
	}
	symbols := make([]types.ListedSymbol, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) < 3 {
			continue
		}
		symbols = append(symbols, types.ListedSymbol{Symbol: row[0], Code: row[1], Name: row[2]})
	}
	return symbols
}

func (u *Universe) writeListCSV(path string, symbols []types.ListedSymbol) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"symbol", "code", "name"}); err != nil {
		f.Close()
		return err
	}
	for _, s := range symbols {
		if err := w.Write([]string{s.Symbol, s.Code, s.Name}); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// StocksBySectors returns the deduplicated union of the sectors'
// constituents. A sector that fails to resolve is logged and skipped
// rather than failing the set.
func (u *Universe) StocksBySectors(ctx context.Context, sectors []string) ([]types.ListedSymbol, error) {
	seen := make(map[string]types.ListedSymbol)
	for _, sector := range sectors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		members, err := u.lister.SectorConstituents(ctx, sector)
		if err != nil {
			u.log.Warn().Err(err).Str("sector", sector).Msg("sector constituents unavailable")
			continue
		}
		for _, s := range members {
			if !ValidCode(s.Code) {
				continue
			}
			if s.Symbol == "" {
				s.Symbol = SymbolFor(s.Code)
			}
			seen[s.Symbol] = s
		}
	}
	out := make([]types.ListedSymbol, 0, len(seen))
	for _, s := range seen {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}
