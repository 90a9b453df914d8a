package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func rising(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestSMA(t *testing.T) {
	t.Run("averages the last n values", func(t *testing.T) {
		assert.InDelta(t, 4.0, SMA([]float64{1, 2, 3, 4, 5}, 3), 1e-12)
	})

	t.Run("uses whole series when n exceeds length", func(t *testing.T) {
		assert.InDelta(t, 2.0, SMA([]float64{1, 2, 3}, 10), 1e-12)
	})

	t.Run("empty input is zero", func(t *testing.T) {
		assert.Equal(t, 0.0, SMA(nil, 5))
	})
}

func TestEMA(t *testing.T) {
	t.Run("seeded with SMA and weighted by 2/(n+1)", func(t *testing.T) {
		values := []float64{1, 2, 3, 4}
		// seed = (1+2+3)/3 = 2, multiplier = 0.5, ema = (4-2)*0.5+2 = 3
		assert.InDelta(t, 3.0, EMA(values, 3), 1e-12)
	})

	t.Run("flat series equals the constant", func(t *testing.T) {
		assert.InDelta(t, 42.0, EMA(flat(30, 42), 9), 1e-12)
	})

	t.Run("series is aligned with input", func(t *testing.T) {
		series := EMASeries(rising(10, 1, 1), 3)
		assert.Len(t, series, 10)
	})
}

func TestRSI(t *testing.T) {
	t.Run("flat series is neutral", func(t *testing.T) {
		assert.Equal(t, 50.0, RSI(flat(30, 100), 14))
	})

	t.Run("only gains approaches 100 without dividing by zero", func(t *testing.T) {
		rsi := RSI(rising(30, 100, 1), 14)
		assert.False(t, math.IsInf(rsi, 0))
		assert.False(t, math.IsNaN(rsi))
		assert.Greater(t, rsi, 99.0)
		assert.LessOrEqual(t, rsi, 100.0)
	})

	t.Run("only losses is zero", func(t *testing.T) {
		assert.InDelta(t, 0.0, RSI(rising(30, 200, -1), 14), 1e-9)
	})

	t.Run("short series is neutral", func(t *testing.T) {
		assert.Equal(t, 50.0, RSI([]float64{1, 2, 3}, 14))
	})

	t.Run("alternating series stays mid range", func(t *testing.T) {
		closes := make([]float64, 40)
		for i := range closes {
			closes[i] = 100
			if i%2 == 1 {
				closes[i] = 101
			}
		}
		rsi := RSI(closes, 14)
		assert.InDelta(t, 50.0, rsi, 5.0)
	})
}

func TestATR(t *testing.T) {
	t.Run("constant range bars yield that range", func(t *testing.T) {
		closes := flat(30, 100)
		highs := flat(30, 102.5)
		lows := flat(30, 97.5)
		assert.InDelta(t, 5.0, ATR(highs, lows, closes, 14), 1e-9)
	})

	t.Run("gaps widen the true range", func(t *testing.T) {
		trs := TrueRanges([]float64{10, 20}, []float64{9, 19}, []float64{9.5, 19.5})
		assert.InDelta(t, 1.0, trs[0], 1e-12)
		assert.InDelta(t, 10.5, trs[1], 1e-12)
	})

	t.Run("zero range is zero", func(t *testing.T) {
		assert.Equal(t, 0.0, ATR(flat(20, 1), flat(20, 1), flat(20, 1), 14))
	})
}

func TestMACD(t *testing.T) {
	t.Run("rising series has positive MACD line", func(t *testing.T) {
		closes := make([]float64, 60)
		for i := range closes {
			closes[i] = 100 * math.Pow(1.01, float64(i))
		}
		macd, _, hist := MACD(closes, 12, 26, 9)
		assert.Greater(t, macd, 0.0)
		assert.Greater(t, hist, 0.0)
	})

	t.Run("short series is zero", func(t *testing.T) {
		macd, sig, hist := MACD(rising(10, 1, 1), 12, 26, 9)
		assert.Zero(t, macd)
		assert.Zero(t, sig)
		assert.Zero(t, hist)
	})
}

func TestADX(t *testing.T) {
	t.Run("steady trend is strong", func(t *testing.T) {
		closes := rising(60, 100, 1)
		highs := rising(60, 100.5, 1)
		lows := rising(60, 99.5, 1)
		adx := ADX(highs, lows, closes, 14)
		assert.Greater(t, adx, 50.0)
		assert.LessOrEqual(t, adx, 100.0)
	})

	t.Run("flat market has no trend", func(t *testing.T) {
		assert.InDelta(t, 0.0, ADX(flat(60, 101), flat(60, 99), flat(60, 100), 14), 1e-9)
	})

	t.Run("insufficient bars is zero", func(t *testing.T) {
		assert.Equal(t, 0.0, ADX(rising(10, 1, 1), rising(10, 0, 1), rising(10, 0.5, 1), 14))
	})
}

func TestExtremesAndRanks(t *testing.T) {
	values := []float64{5, 1, 9, 3, 7}

	t.Run("Highest and Lowest over window", func(t *testing.T) {
		assert.Equal(t, 9.0, Highest(values, 3))
		assert.Equal(t, 3.0, Lowest(values, 3))
		assert.Equal(t, 1.0, Lowest(values, 0))
	})

	t.Run("PercentileRank counts values at or below", func(t *testing.T) {
		assert.InDelta(t, 0.6, PercentileRank(values, 5, 10), 1e-12)
		assert.InDelta(t, 1.0, PercentileRank(values, 9, 10), 1e-12)
		assert.Equal(t, 0.0, PercentileRank(nil, 1, 10))
	})

	t.Run("Slope and RateOfChange", func(t *testing.T) {
		assert.InDelta(t, 2.0, Slope([]float64{1, 3, 5}, 2), 1e-12)
		assert.InDelta(t, 0.5, RateOfChange([]float64{10, 12, 15}, 2), 1e-12)
		assert.Equal(t, 0.0, Slope([]float64{1}, 2))
	})
}

func TestAnnualizedVolatility(t *testing.T) {
	t.Run("flat prices have zero volatility", func(t *testing.T) {
		assert.InDelta(t, 0.0, AnnualizedVolatility(flat(30, 50), 20), 1e-12)
	})

	t.Run("noisy prices are positive", func(t *testing.T) {
		closes := make([]float64, 30)
		for i := range closes {
			closes[i] = 100
			if i%2 == 0 {
				closes[i] = 102
			}
		}
		assert.Greater(t, AnnualizedVolatility(closes, 20), 0.0)
	})
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1.0, Clamp(3, 0, 1))
	assert.Equal(t, 0.0, Clamp(-3, 0, 1))
	assert.Equal(t, 0.0, Clamp(math.NaN(), 0, 1))
	assert.Equal(t, 0.5, Clamp(0.5, 0, 1))
}
