package dataflows

import (
	"math"

	"github.com/markcheno/go-talib"
)

// The talib functions index past the end of short inputs, so every helper
// checks the lookback first and reports 0 when there is not enough history.

// LastSMA returns the latest simple moving average over period closes.
func LastSMA(closes []float64, period int) float64 {
	if period < 1 || len(closes) < period {
		return 0
	}
	return lastFinite(talib.Sma(closes, period))
}

// LastEMA returns the latest exponential moving average.
func LastEMA(closes []float64, period int) float64 {
	if period < 1 || len(closes) < period {
		return 0
	}
	return lastFinite(talib.Ema(closes, period))
}

// LastRSI returns the latest RSI, or 0 without period+1 closes.
func LastRSI(closes []float64, period int) float64 {
	if period < 2 || len(closes) <= period {
		return 0
	}
	return lastFinite(talib.Rsi(closes, period))
}

// LastMACD returns the 12/26 MACD line and its 9 period signal.
func LastMACD(closes []float64) (macd, signal float64) {
	const fast, slow, sig = 12, 26, 9
	if len(closes) < slow+sig-1 {
		return 0, 0
	}
	m, s, _ := talib.Macd(closes, fast, slow, sig)
	return lastFinite(m), lastFinite(s)
}

// AnnualizedVolatility is the standard deviation of the last window daily
// returns scaled by the square root of 252 trading days.
func AnnualizedVolatility(closes []float64, window int) float64 {
	if window < 2 || len(closes) < window+1 {
		return 0
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	// talib's StdDev is the population deviation; rescale to the sample one.
	std := lastFinite(talib.StdDev(returns, window, 1))
	std *= math.Sqrt(float64(window) / float64(window-1))
	return std * math.Sqrt(252)
}

// PercentReturn is the change in percent from the close lookback bars ago to
// the last close. Short histories use the first close.
func PercentReturn(closes []float64, lookback int) float64 {
	if len(closes) == 0 {
		return 0
	}
	last := closes[len(closes)-1]
	base := closes[0]
	if len(closes) >= lookback {
		base = closes[len(closes)-lookback]
	}
	if base == 0 {
		return 0
	}
	return (last - base) / base * 100
}

// DailyChange is the percent change between the last two closes.
func DailyChange(closes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}
	return PercentReturn(closes, 2)
}

func lastFinite(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
