package indicators

import (
	"math"

	"github.com/mwquant/trendscan/internal/types"
)

// Snapshot holds the per-bar indicator values. Fields are NaN until the
// indicator's window is filled; callers must check Defined before use,
// since zero is a legitimate value for MACD and histogram.
type Snapshot struct {
	MA5        float64
	MA10       float64
	MA20       float64
	MA50       float64
	RSI        float64
	MACD       float64
	MACDSignal float64
	MACDHist   float64
	BBUpper    float64
	BBMiddle   float64
	BBLower    float64
	VolumeMA20 float64
}

// Defined reports whether an indicator value has enough history behind it.
func Defined(v float64) bool {
	return !math.IsNaN(v)
}

// Compute derives the full indicator series for an ascending bar
// sequence. The output has the same length as the input; the first
// window-1 entries of each indicator are NaN.
func Compute(bars []types.PriceBar) []Snapshot {
	n := len(bars)
	snaps := make([]Snapshot, n)

	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, b := range bars {
		closes[i] = b.Close
		volumes[i] = b.Volume
	}

	ma5 := rollingMean(closes, 5)
	ma10 := rollingMean(closes, 10)
	ma20 := rollingMean(closes, 20)
	ma50 := rollingMean(closes, 50)
	rsi := RSI(closes, 14)
	macd, signal, hist := MACD(closes, 12, 26, 9)
	upper, middle, lower := Bollinger(closes, 20, 2.0)
	volMA := rollingMean(volumes, 20)

	for i := 0; i < n; i++ {
		snaps[i] = Snapshot{
			MA5:        ma5[i],
			MA10:       ma10[i],
			MA20:       ma20[i],
			MA50:       ma50[i],
			RSI:        rsi[i],
			MACD:       macd[i],
			MACDSignal: signal[i],
			MACDHist:   hist[i],
			BBUpper:    upper[i],
			BBMiddle:   middle[i],
			BBLower:    lower[i],
			VolumeMA20: volMA[i],
		}
	}
	return snaps
}

// SMA returns the simple mean of the last period values, or NaN when
// there is not enough history.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return math.NaN()
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period)
}

func rollingMean(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

func rollingStddev(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 1 || len(values) < period {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		window := values[i-period+1 : i+1]
		mean := 0.0
		for _, v := range window {
			mean += v
		}
		mean /= float64(period)
		variance := 0.0
		for _, v := range window {
			d := v - mean
			variance += d * d
		}
		// Sample stddev, n-1 divisor.
		out[i] = math.Sqrt(variance / float64(period-1))
	}
	return out
}

// RSI computes the rolling-mean gain/loss RSI. When the average loss is
// zero the ratio saturates: all-gain windows read exactly 100, all-loss
// windows 0, and a flat window reads 50.
func RSI(closes []float64, period int) []float64 {
	out := nanSlice(len(closes))
	if len(closes) < period+1 {
		return out
	}
	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}
	for i := period; i < len(closes); i++ {
		avgGain := 0.0
		avgLoss := 0.0
		for j := i - period + 1; j <= i; j++ {
			avgGain += gains[j]
			avgLoss += losses[j]
		}
		avgGain /= float64(period)
		avgLoss /= float64(period)

		switch {
		case avgLoss == 0 && avgGain == 0:
			out[i] = 50
		case avgLoss == 0:
			out[i] = 100
		default:
			rs := avgGain / avgLoss
			out[i] = 100 - 100/(1+rs)
		}
	}
	return out
}

// EMA returns the exponential moving average series, seeded with the SMA
// of the first period values. Entries before the seed are NaN.
func EMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	seed := 0.0
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	out[period-1] = seed / float64(period)
	k := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		out[i] = (values[i]-out[i-1])*k + out[i-1]
	}
	return out
}

// MACD returns the MACD line (EMA fast − EMA slow), its signal line and
// the histogram.
func MACD(closes []float64, fast, slow, signalPeriod int) (macd, signal, hist []float64) {
	n := len(closes)
	macd = nanSlice(n)
	signal = nanSlice(n)
	hist = nanSlice(n)

	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)
	for i := 0; i < n; i++ {
		if Defined(emaFast[i]) && Defined(emaSlow[i]) {
			macd[i] = emaFast[i] - emaSlow[i]
		}
	}

	// Signal is the EMA of the defined portion of the MACD line.
	start := slow - 1
	if start >= n {
		return macd, signal, hist
	}
	sigPart := EMA(macd[start:], signalPeriod)
	for i, v := range sigPart {
		signal[start+i] = v
	}
	for i := 0; i < n; i++ {
		if Defined(macd[i]) && Defined(signal[i]) {
			hist[i] = macd[i] - signal[i]
		}
	}
	return macd, signal, hist
}

// Bollinger returns the SMA envelope at ±k rolling standard deviations.
func Bollinger(closes []float64, period int, k float64) (upper, middle, lower []float64) {
	n := len(closes)
	upper = nanSlice(n)
	lower = nanSlice(n)
	middle = rollingMean(closes, period)
	std := rollingStddev(closes, period)
	for i := 0; i < n; i++ {
		if Defined(middle[i]) && Defined(std[i]) {
			upper[i] = middle[i] + k*std[i]
			lower[i] = middle[i] - k*std[i]
		}
	}
	return upper, middle, lower
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
