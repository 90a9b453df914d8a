// Package indicators implements the price indicators used by screening and exit scoring.
// All functions take oldest-first slices and never divide by zero.
package indicators

import "math"

// Epsilon floors denominators in degenerate series (flat prices, zero ATR).
const Epsilon = 1e-9

// Clamp limits v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// SMA returns the simple average of the last n values
func SMA(values []float64, n int) float64 {
	if len(values) == 0 || n <= 0 {
		return 0
	}
	if n > len(values) {
		n = len(values)
	}
	var sum float64
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n)
}

// EMASeries returns the exponential moving average for every index from n-1 on,
// seeded with the SMA of the first n values and weighted by 2/(n+1).
// The returned slice is aligned with values; indexes before n-1 hold the running SMA.
func EMASeries(values []float64, n int) []float64 {
	if len(values) == 0 || n <= 0 {
		return nil
	}
	out := make([]float64, len(values))
	if n > len(values) {
		n = len(values)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += values[i]
		out[i] = sum / float64(i+1)
	}
	multiplier := 2.0 / float64(n+1)
	ema := out[n-1]
	for i := n; i < len(values); i++ {
		ema = (values[i]-ema)*multiplier + ema
		out[i] = ema
	}
	return out
}

// EMA returns the latest exponential moving average
func EMA(values []float64, n int) float64 {
	series := EMASeries(values, n)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// RSI returns Wilder's relative strength index over n periods.
// A flat series yields 50; a series without losses approaches 100.
func RSI(closes []float64, n int) float64 {
	if n <= 0 || len(closes) < n+1 {
		return 50
	}

	var gains, losses float64
	for i := 1; i <= n; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	avgGain := gains / float64(n)
	avgLoss := losses / float64(n)

	for i := n + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(n-1) + gain) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + loss) / float64(n)
	}

	if avgGain+avgLoss < Epsilon {
		return 50
	}
	rs := avgGain / math.Max(avgLoss, Epsilon)
	return Clamp(100-100/(1+rs), 0, 100)
}

// TrueRanges returns the true range of each bar; the first bar uses high-low
func TrueRanges(highs, lows, closes []float64) []float64 {
	size := minLen(highs, lows, closes)
	out := make([]float64, size)
	for i := 0; i < size; i++ {
		tr := highs[i] - lows[i]
		if i > 0 {
			tr = math.Max(tr, math.Abs(highs[i]-closes[i-1]))
			tr = math.Max(tr, math.Abs(lows[i]-closes[i-1]))
		}
		out[i] = tr
	}
	return out
}

// ATRSeries returns Wilder-smoothed average true range values.
// out[i] is defined for i >= n-1; earlier indexes hold the running mean.
func ATRSeries(highs, lows, closes []float64, n int) []float64 {
	trs := TrueRanges(highs, lows, closes)
	if len(trs) == 0 || n <= 0 {
		return nil
	}
	if n > len(trs) {
		n = len(trs)
	}
	out := make([]float64, len(trs))
	var sum float64
	for i := 0; i < n; i++ {
		sum += trs[i]
		out[i] = sum / float64(i+1)
	}
	atr := out[n-1]
	for i := n; i < len(trs); i++ {
		atr = (atr*float64(n-1) + trs[i]) / float64(n)
		out[i] = atr
	}
	return out
}

// ATR returns the latest Wilder average true range
func ATR(highs, lows, closes []float64, n int) float64 {
	series := ATRSeries(highs, lows, closes, n)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// MACD returns the MACD line, its signal line and the histogram
func MACD(closes []float64, fast, slow, signal int) (float64, float64, float64) {
	if len(closes) < slow+signal {
		return 0, 0, 0
	}
	fastSeries := EMASeries(closes, fast)
	slowSeries := EMASeries(closes, slow)
	line := make([]float64, 0, len(closes)-slow+1)
	for i := slow - 1; i < len(closes); i++ {
		line = append(line, fastSeries[i]-slowSeries[i])
	}
	macd := line[len(line)-1]
	sig := EMA(line, signal)
	return macd, sig, macd - sig
}

// ADX returns Wilder's average directional index in [0,100]
func ADX(highs, lows, closes []float64, n int) float64 {
	size := minLen(highs, lows, closes)
	if n <= 0 || size < 2*n+1 {
		return 0
	}
	trs := TrueRanges(highs, lows, closes)

	var trSum, plusSum, minusSum float64
	dxs := make([]float64, 0, size)
	for i := 1; i < size; i++ {
		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]
		plusDM, minusDM := 0.0, 0.0
		if up > down && up > 0 {
			plusDM = up
		}
		if down > up && down > 0 {
			minusDM = down
		}

		if i <= n {
			trSum += trs[i]
			plusSum += plusDM
			minusSum += minusDM
			if i < n {
				continue
			}
		} else {
			trSum = trSum - trSum/float64(n) + trs[i]
			plusSum = plusSum - plusSum/float64(n) + plusDM
			minusSum = minusSum - minusSum/float64(n) + minusDM
		}

		denom := math.Max(trSum, Epsilon)
		plusDI := 100 * plusSum / denom
		minusDI := 100 * minusSum / denom
		dxs = append(dxs, 100*math.Abs(plusDI-minusDI)/math.Max(plusDI+minusDI, Epsilon))
	}

	if len(dxs) < n {
		return 0
	}
	adx := SMA(dxs[:n], n)
	for _, dx := range dxs[n:] {
		adx = (adx*float64(n-1) + dx) / float64(n)
	}
	return Clamp(adx, 0, 100)
}

// Highest returns the maximum of the last n values
func Highest(values []float64, n int) float64 {
	window := tail(values, n)
	if len(window) == 0 {
		return 0
	}
	high := window[0]
	for _, v := range window[1:] {
		high = math.Max(high, v)
	}
	return high
}

// Lowest returns the minimum of the last n values
func Lowest(values []float64, n int) float64 {
	window := tail(values, n)
	if len(window) == 0 {
		return 0
	}
	low := window[0]
	for _, v := range window[1:] {
		low = math.Min(low, v)
	}
	return low
}

// PercentileRank returns the fraction of the last n series values that are <= value
func PercentileRank(series []float64, value float64, n int) float64 {
	window := tail(series, n)
	if len(window) == 0 {
		return 0
	}
	count := 0
	for _, v := range window {
		if v <= value {
			count++
		}
	}
	return float64(count) / float64(len(window))
}

// Slope returns the average per-bar change over the last n bars
func Slope(values []float64, n int) float64 {
	if n <= 0 || len(values) < n+1 {
		return 0
	}
	last := values[len(values)-1]
	first := values[len(values)-1-n]
	return (last - first) / float64(n)
}

// RateOfChange returns the fractional change over the last n bars
func RateOfChange(values []float64, n int) float64 {
	if n <= 0 || len(values) < n+1 {
		return 0
	}
	base := values[len(values)-1-n]
	return (values[len(values)-1] - base) / math.Max(math.Abs(base), Epsilon)
}

// AnnualizedVolatility returns the standard deviation of the last n daily returns scaled by sqrt(252)
func AnnualizedVolatility(closes []float64, n int) float64 {
	window := tail(closes, n+1)
	if len(window) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		returns = append(returns, (window[i]-window[i-1])/math.Max(window[i-1], Epsilon))
	}
	mean := SMA(returns, len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance) * math.Sqrt(252)
}

func tail(values []float64, n int) []float64 {
	if n <= 0 || n >= len(values) {
		return values
	}
	return values[len(values)-n:]
}

func minLen(a, b, c []float64) int {
	size := len(a)
	if len(b) < size {
		size = len(b)
	}
	if len(c) < size {
		size = len(c)
	}
	return size
}
