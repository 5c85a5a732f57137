// Package market builds the once-per-day view of the whole exchange:
// breadth-based sentiment, per-sector composite strength, and the
// trading-posture recommendation derived from both.
package market

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mwquant/trendscan/internal/types"
)

// Quote is one row of the exchange-wide spot snapshot.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	ChangePercent float64 `json:"change_percent"`
}

// Data supplies the market-wide inputs. Implementations sit on top of
// the provider manager; the analyzer never talks to upstreams directly.
type Data interface {
	SpotQuotes(ctx context.Context) ([]Quote, error)
	SectorNames(ctx context.Context) ([]string, error)
	SectorHistory(ctx context.Context, sector string) ([]types.PriceBar, error)
}

// NameAdjustment biases a sector's composite score when its name
// contains the given substring. The table encodes policy views that no
// price-derived factor captures.
type NameAdjustment struct {
	Contains   string  `yaml:"contains"`
	Adjustment float64 `yaml:"adjustment"`
}

// DefaultAdjustments downweights property-chain sectors and gives a
// small boost to the areas with durable policy support.
func DefaultAdjustments() []NameAdjustment {
	return []NameAdjustment{
		{Contains: "房地产开发", Adjustment: -3.0},
		{Contains: "房地产服务", Adjustment: -2.5},
		{Contains: "物业管理", Adjustment: -2.0},
		{Contains: "建筑装饰", Adjustment: -1.5},
		{Contains: "建筑材料", Adjustment: -1.0},
		{Contains: "人工智能", Adjustment: 1.0},
		{Contains: "新能源", Adjustment: 0.5},
		{Contains: "半导体", Adjustment: 0.5},
	}
}

// Config tunes the environment analysis.
type Config struct {
	// TopFraction of ranked sectors reported as strong.
	TopFraction float64
	// LimitUpThreshold is the % change counted as a near-limit-up bar.
	LimitUpThreshold float64
	// MaxSectors caps how many sectors are analyzed per day.
	MaxSectors int
	// Adjustments is the name-based score bias table.
	Adjustments []NameAdjustment
}

func DefaultConfig() Config {
	return Config{
		TopFraction:      0.30,
		LimitUpThreshold: 9.8,
		MaxSectors:       100,
		Adjustments:      DefaultAdjustments(),
	}
}

// Analyzer computes the MarketEnvironment document.
type Analyzer struct {
	data Data
	cfg  Config
	log  zerolog.Logger
}

func NewAnalyzer(data Data, cfg Config, log zerolog.Logger) *Analyzer {
	if cfg.TopFraction <= 0 {
		cfg.TopFraction = 0.30
	}
	if cfg.LimitUpThreshold <= 0 {
		cfg.LimitUpThreshold = 9.8
	}
	if cfg.MaxSectors <= 0 {
		cfg.MaxSectors = 100
	}
	return &Analyzer{data: data, cfg: cfg, log: log.With().Str("component", "market").Logger()}
}

// Sentiment scores overall market mood 0-100 from the spot snapshot.
// With no data it reports a neutral 50 rather than failing the scan.
//
// Weights: advance/decline ratio 30%, mean change 30%, near-limit-up
// count 20%, volume 20%. The volume leg is a fixed neutral constant
// until a historical-turnover baseline exists to compare against.
func (a *Analyzer) Sentiment(ctx context.Context) (float64, types.MarketStatus) {
	quotes, err := a.data.SpotQuotes(ctx)
	if err != nil || len(quotes) == 0 {
		if err != nil {
			a.log.Warn().Err(err).Msg("spot snapshot unavailable, sentiment defaults to neutral")
		}
		return 50, types.MarketNeutral
	}

	var up, moving, limitUp int
	var sumChange float64
	for _, q := range quotes {
		if q.ChangePercent > 0 {
			up++
		}
		if q.ChangePercent != 0 {
			moving++
		}
		if q.ChangePercent >= a.cfg.LimitUpThreshold {
			limitUp++
		}
		sumChange += q.ChangePercent
	}

	var score float64

	if moving > 0 {
		adr := float64(up) / float64(moving)
		adrScore := math.Min(adr*100*2, 100)
		score += adrScore * 0.3
	}

	avgChange := sumChange / float64(len(quotes))
	changeScore := clamp(50+(avgChange/2.0)*50, 0, 100)
	score += changeScore * 0.3

	limitUpScore := math.Min(float64(limitUp)*2, 100)
	score += limitUpScore * 0.2

	score += 50 * 0.2

	return score, statusFor(score)
}

func statusFor(score float64) types.MarketStatus {
	switch {
	case score >= 60:
		return types.MarketPositive
	case score >= 40:
		return types.MarketNeutral
	default:
		return types.MarketCautious
	}
}

// baseAdjustment returns the first matching name bias, or zero.
func (a *Analyzer) baseAdjustment(sector string) float64 {
	for _, adj := range a.cfg.Adjustments {
		if strings.Contains(sector, adj.Contains) {
			return adj.Adjustment
		}
	}
	return 0
}

// longTermTrend reports whether the sector survives the bearish-
// alignment filter, plus a 0-100 health score. Fewer than 60 bars is
// treated as insufficient evidence to filter on.
func longTermTrend(bars []types.PriceBar) (pass bool, health float64) {
	if len(bars) < 60 {
		return true, 0
	}
	ma60 := meanClose(bars, 60)
	ma120 := meanClose(bars, 120)
	price := bars[len(bars)-1].Close

	bearish := ma60 < ma120 && price < ma60

	switch {
	case price > ma60 && ma60 > ma120:
		health = 100
	case price > ma60 && ma60 > ma120*0.95:
		health = 70
	case price > ma60:
		health = 50
	case !bearish:
		health = 30
	default:
		health = 0
	}
	return !bearish, health
}

func meanClose(bars []types.PriceBar, n int) float64 {
	if len(bars) < n {
		n = len(bars)
	}
	var sum float64
	for _, b := range bars[len(bars)-n:] {
		sum += b.Close
	}
	return sum / float64(n)
}

func meanVolume(bars []types.PriceBar, n int) float64 {
	if len(bars) < n {
		n = len(bars)
	}
	var sum float64
	for _, b := range bars[len(bars)-n:] {
		sum += b.Volume
	}
	return sum / float64(n)
}

func changeOver(bars []types.PriceBar, n int) float64 {
	if len(bars) < n {
		return 0
	}
	base := bars[len(bars)-n].Close
	if base == 0 {
		return 0
	}
	return (bars[len(bars)-1].Close/base - 1) * 100
}

// scoreSector computes one composite record from a sector's history.
// It returns ok=false when the sector is filtered out or has too
// little data.
func (a *Analyzer) scoreSector(name string, bars []types.PriceBar) (types.SectorStrengthRecord, bool) {
	if len(bars) < 20 {
		return types.SectorStrengthRecord{}, false
	}
	pass, health := longTermTrend(bars)
	if !pass {
		return types.SectorStrengthRecord{}, false
	}

	change5d := changeOver(bars, 5)
	change10d := changeOver(bars, 10)
	change20d := changeOver(bars, 20)

	var volumeFactor, moneyFlow float64
	avg20 := meanVolume(bars, 20)
	if avg20 > 0 {
		ratio := meanVolume(bars, 5) / avg20
		volumeFactor = clamp((ratio-1.0)*50, -10, 10)
		moneyFlow = clamp((ratio-1.0)*100/2, -10, 10)
	}

	rec := types.SectorStrengthRecord{
		Name:            name,
		Change5D:        change5d,
		Change10D:       change10d,
		Change20D:       change20d,
		Contribution5D:  change5d * 0.20,
		Contribution10D: change10d * 0.15,
		Contribution20D: change20d * 0.25,
		MoneyFlowScore:  moneyFlow,
		MoneyFlowContr:  moneyFlow * 0.30,
		VolumeFactor:    volumeFactor,
		VolumeContr:     volumeFactor * 0.10,
		TrendHealth:     health,
		TrendContr:      (health / 100.0) * 5.0,
		BaseAdjustment:  a.baseAdjustment(name),
	}
	rec.CompositeScore = rec.Contribution5D + rec.Contribution10D + rec.Contribution20D +
		rec.MoneyFlowContr + rec.VolumeContr + rec.TrendContr + rec.BaseAdjustment
	return rec, true
}

// SectorStrength ranks all sectors and returns the strong slice (top
// fraction by composite score) plus the full per-factor records.
func (a *Analyzer) SectorStrength(ctx context.Context) ([]types.SectorScore, []types.SectorStrengthRecord) {
	names, err := a.data.SectorNames(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("sector listing unavailable")
		return nil, nil
	}
	if len(names) > a.cfg.MaxSectors {
		names = names[:a.cfg.MaxSectors]
	}

	var records []types.SectorStrengthRecord
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		bars, err := a.data.SectorHistory(ctx, name)
		if err != nil {
			a.log.Debug().Err(err).Str("sector", name).Msg("sector history unavailable")
			continue
		}
		rec, ok := a.scoreSector(name, bars)
		if !ok {
			continue
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CompositeScore > records[j].CompositeScore
	})

	count := int(float64(len(records)) * a.cfg.TopFraction)
	strong := make([]types.SectorScore, 0, count)
	for _, rec := range records[:count] {
		strong = append(strong, types.SectorScore{Name: rec.Name, Score: rec.CompositeScore})
	}
	return strong, records
}

// AnalyzeEnvironment computes the full environment document. Callers
// wanting the once-per-day behavior go through Environment instead.
func (a *Analyzer) AnalyzeEnvironment(ctx context.Context) *types.MarketEnvironment {
	score, status := a.Sentiment(ctx)
	strong, details := a.SectorStrength(ctx)

	rec := recommendationFor(status, len(strong))

	env := &types.MarketEnvironment{
		MarketStatus:   status,
		SentimentScore: score,
		StrongSectors:  strong,
		SectorDetails:  details,
		Recommendation: rec,
		Timestamp:      time.Now().Format("2006-01-02 15:04:05"),
	}
	a.log.Info().
		Str("status", string(status)).
		Float64("sentiment", score).
		Int("strong_sectors", len(strong)).
		Str("recommendation", string(rec)).
		Msg("market environment analyzed")
	return env
}

// recommendationFor maps market status and strong-sector breadth to a
// trading posture.
func recommendationFor(status types.MarketStatus, strongCount int) types.Recommendation {
	switch {
	case status == types.MarketCautious && strongCount < 5:
		return types.RecommendStandAside
	case status == types.MarketPositive && strongCount >= 5:
		return types.RecommendActAggressively
	default:
		return types.RecommendActCautiously
	}
}

// EnvironmentCache persists the daily environment document. The scan
// cache store satisfies it.
type EnvironmentCache interface {
	MarketEnvironment() *types.MarketEnvironment
	SaveMarketEnvironment(*types.MarketEnvironment) error
}

// Environment returns today's environment, computing and caching it on
// first call. A cache write failure is logged and the fresh analysis
// returned anyway.
func (a *Analyzer) Environment(ctx context.Context, cache EnvironmentCache) *types.MarketEnvironment {
	if env := cache.MarketEnvironment(); env != nil {
		return env
	}
	env := a.AnalyzeEnvironment(ctx)
	if err := cache.SaveMarketEnvironment(env); err != nil {
		a.log.Warn().Err(err).Msg("market environment cache write failed")
	}
	return env
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
