// Package signals turns indicator series into trade signals: a weighted
// evidence scorer for the general scan, and a strict 4-gate trend-start
// detector for the stricter scan mode.
package signals

import (
	"fmt"
	"strings"

	"github.com/mwquant/trendscan/internal/indicators"
	"github.com/mwquant/trendscan/internal/types"
)

// MinBars is the history floor below which the scorer refuses to signal.
const MinBars = 50

// Classification thresholds on the net score - single source of truth.
const (
	StrongBuyThreshold = 8
	BuyThreshold       = 4
	CautiousThreshold  = 2
	MaxComponentScore  = 18
	ReasonPhraseLimit  = 3
)

// ScorerConfig carries the heuristic thresholds of the evidence rules.
// The divergence and squeeze numbers are calibration constants, not
// derived truths, so they stay configurable.
type ScorerConfig struct {
	DivergenceWindow   int     `yaml:"divergence_window"`
	DivergencePriceTol float64 `yaml:"divergence_price_tolerance"`
	DivergenceRSITol   float64 `yaml:"divergence_rsi_tolerance"`
	BandwidthExpansion float64 `yaml:"bandwidth_expansion"`
	HighVolumeRatio    float64 `yaml:"high_volume_ratio"`
	LowVolumeRatio     float64 `yaml:"low_volume_ratio"`
}

// DefaultScorerConfig returns the production thresholds.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		DivergenceWindow:   20,
		DivergencePriceTol: 0.02,
		DivergenceRSITol:   0.05,
		BandwidthExpansion: 0.10,
		HighVolumeRatio:    1.5,
		LowVolumeRatio:     0.8,
	}
}

// Score produces a SignalResult for the latest bar. Deterministic, no
// I/O: identical inputs yield identical outputs on every call.
//
// Evidence accumulates into buy and sell scores; the net score picks the
// 7-way class, and strength blends the winning side's share of the total
// with its distance to the maximum attainable score.
func Score(symbol string, bars []types.PriceBar, snaps []indicators.Snapshot, cfg ScorerConfig) types.SignalResult {
	result := types.SignalResult{
		Symbol:        symbol,
		Signal:        types.SignalHold,
		SignalType:    types.TypeHold,
		StrengthLevel: types.LevelNone,
	}

	if len(bars) < MinBars || len(snaps) != len(bars) {
		result.Reason = "insufficient history"
		return result
	}

	last := len(bars) - 1
	cur := snaps[last]
	prev := snaps[last-1]
	price := bars[last].Close
	prevClose := bars[last-1].Close

	result.Price = price
	if prevClose > 0 {
		result.ChangePercent = (price - prevClose) / prevClose * 100
	}

	var evidence []string
	buyScore, sellScore := 0, 0
	buy := func(points int, phrase string) {
		buyScore += points
		evidence = append(evidence, phrase)
	}
	sell := func(points int, phrase string) {
		sellScore += points
		evidence = append(evidence, phrase)
	}

	// Moving-average stack.
	if indicators.Defined(cur.MA5) && indicators.Defined(cur.MA10) && indicators.Defined(cur.MA20) {
		switch {
		case price > cur.MA5 && cur.MA5 > cur.MA10 && cur.MA10 > cur.MA20:
			buy(2, "price above full bullish MA stack")
		case price > cur.MA5 && cur.MA5 > cur.MA10:
			buy(1, "short-term bullish MA alignment")
		case price < cur.MA5 && cur.MA5 < cur.MA10 && cur.MA10 < cur.MA20:
			sell(2, "price below full bearish MA stack")
		case price < cur.MA5 && cur.MA5 < cur.MA10:
			sell(1, "short-term bearish MA alignment")
		}
	}

	// RSI bands plus 20-bar divergence.
	if indicators.Defined(cur.RSI) {
		rsi := cur.RSI
		switch {
		case rsi < 30:
			buy(3, fmt.Sprintf("RSI %.1f oversold", rsi))
		case rsi > 70:
			sell(3, fmt.Sprintf("RSI %.1f overbought", rsi))
		case rsi <= 50:
			buy(1, fmt.Sprintf("RSI %.1f in lower range", rsi))
		default:
			sell(1, fmt.Sprintf("RSI %.1f in upper range", rsi))
		}

		bullDiv, bearDiv := detectDivergence(bars, snaps, cfg)
		if bullDiv {
			buy(2, "bullish RSI divergence")
		}
		if bearDiv {
			sell(2, "bearish RSI divergence")
		}
	}

	// MACD crossover, histogram, zero-line.
	if indicators.Defined(cur.MACD) && indicators.Defined(cur.MACDSignal) {
		prevMACD := 0.0
		prevSignal := 0.0
		if indicators.Defined(prev.MACD) {
			prevMACD = prev.MACD
		}
		if indicators.Defined(prev.MACDSignal) {
			prevSignal = prev.MACDSignal
		}

		if cur.MACD > cur.MACDSignal && prevMACD <= prevSignal {
			buy(2, "MACD golden cross")
		} else if cur.MACD < cur.MACDSignal && prevMACD >= prevSignal {
			sell(2, "MACD dead cross")
		}

		if indicators.Defined(cur.MACDHist) {
			if cur.MACDHist > 0 {
				buyScore++
			} else {
				sellScore++
			}
		}

		if cur.MACD > 0 && prevMACD <= 0 {
			buy(1, "MACD crossed above zero")
		} else if cur.MACD < 0 && prevMACD >= 0 {
			sell(1, "MACD crossed below zero")
		}
	}

	// Bollinger touch and squeeze breakout.
	if indicators.Defined(cur.BBLower) && indicators.Defined(cur.BBUpper) && indicators.Defined(cur.BBMiddle) {
		if price <= cur.BBLower {
			buy(2, "price at lower Bollinger band")
		} else if price >= cur.BBUpper {
			sell(2, "price at upper Bollinger band")
		}

		if indicators.Defined(prev.BBUpper) && indicators.Defined(prev.BBLower) &&
			indicators.Defined(prev.BBMiddle) && prev.BBMiddle > 0 && cur.BBMiddle > 0 {
			curWidth := (cur.BBUpper - cur.BBLower) / cur.BBMiddle
			prevWidth := (prev.BBUpper - prev.BBLower) / prev.BBMiddle
			if prevWidth > 0 {
				expansion := (curWidth - prevWidth) / prevWidth
				if expansion > cfg.BandwidthExpansion {
					if price > prevClose {
						buy(1, "Bollinger band expansion with rising price")
					} else if price < prevClose {
						sell(1, "Bollinger band expansion with falling price")
					}
				}
			}
		}
	}

	// Volume confirmation and volume/price divergence.
	if indicators.Defined(cur.VolumeMA20) && cur.VolumeMA20 > 0 {
		ratio := bars[last].Volume / cur.VolumeMA20
		priceChange := price - prevClose

		if ratio > cfg.HighVolumeRatio {
			if priceChange > 0 {
				buy(1, fmt.Sprintf("rising on %.1fx volume", ratio))
			} else if priceChange < 0 {
				sell(1, fmt.Sprintf("falling on %.1fx volume", ratio))
			}
		}
		if ratio < cfg.LowVolumeRatio {
			if priceChange > 0 {
				sell(1, "rising on shrinking volume")
			} else if priceChange < 0 {
				buy(1, "falling on shrinking volume")
			}
		}
	}

	total := buyScore + sellScore
	net := buyScore - sellScore

	result.BuyScore = buyScore
	result.SellScore = sellScore
	result.NetScore = net
	result.Evidence = evidence

	if total == 0 {
		result.Reason = "no clear signal"
		return result
	}

	result.Signal, result.SignalType = classify(net)
	if result.SignalType == types.TypeHold {
		result.Reason = "buy and sell pressure balanced"
		return result
	}

	winning := buyScore
	if result.SignalType == types.TypeSell {
		winning = sellScore
	}
	result.Strength = strengthOf(winning, total)
	result.StrengthLevel = types.LevelForStrength(result.Strength)
	result.Reason = joinReason(evidence)
	return result
}

func classify(net int) (types.Signal, types.SignalType) {
	switch {
	case net >= StrongBuyThreshold:
		return types.SignalStrongBuy, types.TypeBuy
	case net >= BuyThreshold:
		return types.SignalBuy, types.TypeBuy
	case net >= CautiousThreshold:
		return types.SignalCautiousBuy, types.TypeBuy
	case net <= -StrongBuyThreshold:
		return types.SignalStrongSell, types.TypeSell
	case net <= -BuyThreshold:
		return types.SignalSell, types.TypeSell
	case net <= -CautiousThreshold:
		return types.SignalCautiousSell, types.TypeSell
	default:
		return types.SignalHold, types.TypeHold
	}
}

// strengthOf blends the winning side's share of the total evidence (60%)
// with how close it came to the maximum attainable score (40%), so a
// one-sided but thin signal never reads as full strength.
func strengthOf(winning, total int) int {
	base := float64(winning) / float64(total) * 100
	factor := float64(winning) / float64(MaxComponentScore) * 100
	if factor > 100 {
		factor = 100
	}
	s := int(base*0.6 + factor*0.4)
	if s > 100 {
		s = 100
	}
	return s
}

func joinReason(evidence []string) string {
	n := len(evidence)
	if n > ReasonPhraseLimit {
		n = ReasonPhraseLimit
	}
	return strings.Join(evidence[:n], " | ")
}

// detectDivergence checks the trailing window for price/RSI divergence:
// price revisiting its window low while RSI holds materially higher is
// bullish; the mirror case at the window high is bearish. The two checks
// are independent and can both fire.
func detectDivergence(bars []types.PriceBar, snaps []indicators.Snapshot, cfg ScorerConfig) (bullish, bearish bool) {
	w := cfg.DivergenceWindow
	if w <= 0 || len(bars) < w {
		return false, false
	}
	last := len(bars) - 1
	rsi := snaps[last].RSI
	if !indicators.Defined(rsi) {
		return false, false
	}

	lowIdx, highIdx := last, last
	for i := len(bars) - w; i <= last; i++ {
		if bars[i].Close < bars[lowIdx].Close {
			lowIdx = i
		}
		if bars[i].Close > bars[highIdx].Close {
			highIdx = i
		}
	}

	price := bars[last].Close
	lowRSI := snaps[lowIdx].RSI
	highRSI := snaps[highIdx].RSI
	if !indicators.Defined(lowRSI) {
		lowRSI = rsi
	}
	if !indicators.Defined(highRSI) {
		highRSI = rsi
	}

	bullish = price <= bars[lowIdx].Close*(1+cfg.DivergencePriceTol) && rsi > lowRSI*(1+cfg.DivergenceRSITol)
	bearish = price >= bars[highIdx].Close*(1-cfg.DivergencePriceTol) && rsi < highRSI*(1-cfg.DivergenceRSITol)
	return bullish, bearish
}
