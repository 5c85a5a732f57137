package signals

import (
	"fmt"
	"strings"

	"github.com/mwquant/trendscan/internal/indicators"
	"github.com/mwquant/trendscan/internal/types"
)

// TrendStartStrength is the fixed strength assigned to a confirmed
// trend-start signal; the detector gates, it does not grade.
const TrendStartStrength = 85

// TrendConfig carries the gate thresholds of the trend-start detector.
type TrendConfig struct {
	MinBars          int     `yaml:"min_bars"`
	VolumeRatio      float64 `yaml:"volume_ratio"`
	MinChangePercent float64 `yaml:"min_change_percent"`
	NewHighTolerance float64 `yaml:"new_high_tolerance"`
	NewHighWindow    int     `yaml:"new_high_window"`
	SlopeLookback    int     `yaml:"slope_lookback"`
	RSILow           float64 `yaml:"rsi_low"`
	RSIHigh          float64 `yaml:"rsi_high"`
}

// DefaultTrendConfig returns the production gate thresholds.
func DefaultTrendConfig() TrendConfig {
	return TrendConfig{
		MinBars:          20,
		VolumeRatio:      1.8,
		MinChangePercent: 2.5,
		NewHighTolerance: 0.005,
		NewHighWindow:    10,
		SlopeLookback:    3,
		RSILow:           50,
		RSIHigh:          70,
	}
}

// TrendStartResult reports the gate chain outcome. Reason names the
// failing gate when Passed is false, and the confirming evidence when it
// is true.
type TrendStartResult struct {
	Passed      bool
	Reason      string
	Evidence    []string
	StopLoss    float64
	Strength    int
	VolumeRatio float64
}

// CheckTrendStart runs the strict 4-gate AND chain on the latest bar:
// trend alignment, volume surge, breakout candle, indicator confluence.
// Any failing gate short-circuits with its reason.
func CheckTrendStart(bars []types.PriceBar, snaps []indicators.Snapshot, cfg TrendConfig) TrendStartResult {
	if len(bars) < cfg.MinBars || len(snaps) != len(bars) {
		return TrendStartResult{Reason: "insufficient history"}
	}

	last := len(bars) - 1
	cur := snaps[last]
	prev := snaps[last-1]
	price := bars[last].Close
	prevClose := bars[last-1].Close

	var evidence []string

	// Gate 1: price above MA10, MA5 above MA10, MA10 sloping up.
	if !indicators.Defined(cur.MA5) || !indicators.Defined(cur.MA10) {
		return TrendStartResult{Reason: "moving averages unavailable"}
	}
	// The slope window counts the current bar, so a 3-bar lookback
	// compares against MA10 two bars back.
	slope := 0.0
	if back := cfg.SlopeLookback - 1; back > 0 && last >= back {
		ref := snaps[last-back].MA10
		if indicators.Defined(ref) && ref > 0 {
			slope = (cur.MA10 - ref) / ref * 100
		}
	}
	if !(price > cur.MA10 && cur.MA5 > cur.MA10 && slope > 0) {
		return TrendStartResult{Reason: fmt.Sprintf(
			"trend gate failed: price=%.2f MA5=%.2f MA10=%.2f slope=%.2f%%",
			price, cur.MA5, cur.MA10, slope)}
	}
	evidence = append(evidence, "price above rising MA10 with MA5>MA10")

	// Gate 2: volume surge against the 20-bar average.
	if !indicators.Defined(cur.VolumeMA20) || cur.VolumeMA20 <= 0 {
		return TrendStartResult{Reason: "volume average unavailable"}
	}
	volumeRatio := bars[last].Volume / cur.VolumeMA20
	if volumeRatio < cfg.VolumeRatio {
		return TrendStartResult{Reason: fmt.Sprintf(
			"volume gate failed: %.2fx, need >=%.1fx", volumeRatio, cfg.VolumeRatio)}
	}
	evidence = append(evidence, fmt.Sprintf("volume surge %.2fx average", volumeRatio))

	// Gate 3: breakout candle at (or within tolerance of) the trailing high.
	changePercent := 0.0
	if prevClose > 0 {
		changePercent = (price - prevClose) / prevClose * 100
	}
	isNewHigh := false
	if len(bars) >= cfg.NewHighWindow {
		high := bars[last-cfg.NewHighWindow+1].Close
		for i := last - cfg.NewHighWindow + 1; i <= last; i++ {
			if bars[i].Close > high {
				high = bars[i].Close
			}
		}
		isNewHigh = price >= high*(1-cfg.NewHighTolerance)
	}
	if !(changePercent > cfg.MinChangePercent && isNewHigh) {
		return TrendStartResult{Reason: fmt.Sprintf(
			"candle gate failed: change=%.2f%% newHigh=%v", changePercent, isNewHigh)}
	}
	evidence = append(evidence, fmt.Sprintf("breakout candle %.2f%% at trailing high", changePercent))

	// Gate 4: at least one confluence indicator confirms.
	confluence := false
	if indicators.Defined(cur.RSI) && cur.RSI >= cfg.RSILow && cur.RSI <= cfg.RSIHigh {
		confluence = true
		evidence = append(evidence, fmt.Sprintf("RSI %.1f in momentum zone", cur.RSI))
	}
	if indicators.Defined(cur.MACD) && indicators.Defined(cur.MACDSignal) {
		prevMACD := 0.0
		prevSignal := 0.0
		if indicators.Defined(prev.MACD) {
			prevMACD = prev.MACD
		}
		if indicators.Defined(prev.MACDSignal) {
			prevSignal = prev.MACDSignal
		}
		if cur.MACD > 0 && cur.MACD > cur.MACDSignal && prevMACD <= prevSignal {
			confluence = true
			evidence = append(evidence, "MACD golden cross above zero")
		}
	}
	if !confluence {
		return TrendStartResult{Reason: "confluence gate failed: no confirming indicator"}
	}

	return TrendStartResult{
		Passed:      true,
		Reason:      strings.Join(evidence, " | "),
		Evidence:    evidence,
		StopLoss:    bars[last].Low,
		Strength:    TrendStartStrength,
		VolumeRatio: volumeRatio,
	}
}

// TrendStartSignal converts a passing detector result into the
// SignalResult shape shared with the weighted scorer.
func TrendStartSignal(symbol, name string, bars []types.PriceBar, res TrendStartResult) types.SignalResult {
	last := len(bars) - 1
	price := bars[last].Close
	changePercent := 0.0
	if last > 0 && bars[last-1].Close > 0 {
		changePercent = (price - bars[last-1].Close) / bars[last-1].Close * 100
	}
	return types.SignalResult{
		Symbol:        symbol,
		Name:          name,
		Price:         price,
		ChangePercent: changePercent,
		Signal:        types.SignalTrendStart,
		SignalType:    types.TypeBuy,
		Strength:      res.Strength,
		StrengthLevel: types.LevelForStrength(res.Strength),
		Reason:        res.Reason,
		Evidence:      res.Evidence,
		StopLoss:      res.StopLoss,
	}
}
