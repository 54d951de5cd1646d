package dataflows

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/stockbot/config"
)

// Config is an alias for the main application config
type Config = config.Config

// Bar is one daily OHLCV candle.
type Bar struct {
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

func closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close.InexactFloat64()
	}
	return out
}

func volumes(bars []Bar) []int64 {
	out := make([]int64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}

// round2 rounds to cents using decimal arithmetic.
func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
