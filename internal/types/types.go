package types

import "time"

// PriceBar is one day of OHLCV history. Sequences are always ordered
// ascending by date; calendar holes are tolerated, never imputed.
type PriceBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Signal is the detailed 7-way classification produced by the scorer.
type Signal string

const (
	SignalStrongBuy    Signal = "STRONG_BUY"
	SignalBuy          Signal = "BUY"
	SignalCautiousBuy  Signal = "CAUTIOUS_BUY"
	SignalHold         Signal = "HOLD"
	SignalCautiousSell Signal = "CAUTIOUS_SELL"
	SignalSell         Signal = "SELL"
	SignalStrongSell   Signal = "STRONG_SELL"
	// SignalTrendStart is emitted by the gated trend-start detector,
	// not by the weighted scorer.
	SignalTrendStart Signal = "TREND_START"
)

// SignalType collapses the 7-way signal to a trade direction.
type SignalType string

const (
	TypeBuy  SignalType = "BUY"
	TypeSell SignalType = "SELL"
	TypeHold SignalType = "HOLD"
)

// StrengthLevel is the 6-tier label derived from the 0-100 strength.
type StrengthLevel string

const (
	LevelExtreme    StrengthLevel = "extreme"
	LevelStrong     StrengthLevel = "strong"
	LevelModerate   StrengthLevel = "moderate"
	LevelWeak       StrengthLevel = "weak"
	LevelVeryWeak   StrengthLevel = "very_weak"
	LevelNegligible StrengthLevel = "negligible"
	LevelNone       StrengthLevel = "none"
)

// LevelForStrength maps a 0-100 strength onto its tier.
func LevelForStrength(strength int) StrengthLevel {
	switch {
	case strength >= 80:
		return LevelExtreme
	case strength >= 70:
		return LevelStrong
	case strength >= 60:
		return LevelModerate
	case strength >= 50:
		return LevelWeak
	case strength >= 40:
		return LevelVeryWeak
	default:
		return LevelNegligible
	}
}

// SignalResult is the per-symbol outcome of one scan. It is created once
// per (symbol, scan key) and immutable afterwards; the scan cache owns
// the persisted copy.
type SignalResult struct {
	Symbol        string        `json:"symbol"`
	Name          string        `json:"name"`
	Price         float64       `json:"price"`
	ChangePercent float64       `json:"change_percent"`
	Signal        Signal        `json:"signal"`
	SignalType    SignalType    `json:"signal_type"`
	Strength      int           `json:"strength"`
	StrengthLevel StrengthLevel `json:"strength_level"`
	BuyScore      int           `json:"buy_score"`
	SellScore     int           `json:"sell_score"`
	NetScore      int           `json:"net_score"`
	Reason        string        `json:"reason"`
	// Evidence keeps every contributing phrase in accumulation order;
	// Reason is the joined head of this list.
	Evidence []string `json:"evidence,omitempty"`

	// Set by the trend-start detector only.
	StopLoss float64 `json:"stop_loss,omitempty"`

	// Optional predictive-model fields. The model itself is out of
	// scope; the fields survive round-trips through the cache.
	PredictiveScore          *float64 `json:"predictive_score,omitempty"`
	PredictiveRecommendation string   `json:"predictive_recommendation,omitempty"`
	SuggestedStopLoss        float64  `json:"suggested_stop_loss,omitempty"`
	PositionSuggestion       string   `json:"position_suggestion,omitempty"`
}

// MarketStatus is the 3-way market environment classification.
type MarketStatus string

const (
	MarketPositive MarketStatus = "positive"
	MarketNeutral  MarketStatus = "neutral"
	MarketCautious MarketStatus = "cautious"
)

// Recommendation is the operating policy derived from market status and
// the strong-sector count.
type Recommendation string

const (
	RecommendStandAside      Recommendation = "stand_aside"
	RecommendActCautiously   Recommendation = "act_cautiously"
	RecommendActAggressively Recommendation = "act_aggressively"
)

// SectorScore pairs a sector name with its composite strength score.
type SectorScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// SectorStrengthRecord carries the per-factor contributions behind a
// sector's composite score, for diagnostics.
type SectorStrengthRecord struct {
	Name            string  `json:"name"`
	CompositeScore  float64 `json:"composite_score"`
	Change5D        float64 `json:"change_5d"`
	Change10D       float64 `json:"change_10d"`
	Change20D       float64 `json:"change_20d"`
	Contribution5D  float64 `json:"contribution_5d"`
	Contribution10D float64 `json:"contribution_10d"`
	Contribution20D float64 `json:"contribution_20d"`
	MoneyFlowScore  float64 `json:"money_flow_score"`
	MoneyFlowContr  float64 `json:"money_flow_contribution"`
	VolumeFactor    float64 `json:"volume_factor"`
	VolumeContr     float64 `json:"volume_contribution"`
	TrendHealth     float64 `json:"trend_health"`
	TrendContr      float64 `json:"trend_contribution"`
	BaseAdjustment  float64 `json:"base_adjustment"`
}

// MarketEnvironment is the once-per-day market analysis document.
type MarketEnvironment struct {
	MarketStatus   MarketStatus           `json:"market_status"`
	SentimentScore float64                `json:"sentiment_score"`
	StrongSectors  []SectorScore          `json:"strong_sectors"`
	SectorDetails  []SectorStrengthRecord `json:"sector_details,omitempty"`
	Recommendation Recommendation         `json:"recommendation"`
	Timestamp      string                 `json:"timestamp"`
}

// StrongSectorNames returns just the names, for membership lookups.
func (m *MarketEnvironment) StrongSectorNames() []string {
	names := make([]string, len(m.StrongSectors))
	for i, s := range m.StrongSectors {
		names[i] = s.Name
	}
	return names
}

// ListedSymbol is one row of the exchange listing: suffixed symbol,
// bare 6-digit code, display name.
type ListedSymbol struct {
	Symbol string `json:"symbol"`
	Code   string `json:"code"`
	Name   string `json:"name"`
}
