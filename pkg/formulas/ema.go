// Package formulas implements the technical indicators used as model features.
//
// Every function is pure and total: windows shorter than an indicator's period
// produce a documented neutral value instead of an error, because downstream
// feature construction treats those values as "no signal".
package formulas

import (
	"github.com/markcheno/go-talib"
)

// SMA returns the simple moving average of the last period prices.
//
// When the window holds fewer than period prices the last price is returned
// unchanged (no partial average). An empty window yields 0.
func SMA(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	last := prices[len(prices)-1]
	if period <= 0 || len(prices) < period {
		return last
	}

	sma := talib.Sma(prices[len(prices)-period:], period)
	if result := sma[len(sma)-1]; !isNaN(result) {
		return result
	}
	return last
}

// EMA returns the exponential moving average of the window.
//
// EMA Formula:
//
//	seed      = SMA(prices[0:period])
//	EMA_today = (Price_today - EMA_yesterday) * multiplier + EMA_yesterday
//	where multiplier = 2 / (period + 1)
//
// go-talib seeds with the SMA of the first period prices, which is exactly the
// recurrence above. Windows shorter than period return the last price.
func EMA(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	last := prices[len(prices)-1]
	if period <= 0 || len(prices) < period {
		return last
	}

	ema := talib.Ema(prices, period)
	if result := ema[len(ema)-1]; !isNaN(result) {
		return result
	}
	return last
}

// MACD returns EMA(12) - EMA(26). Short windows degrade through the EMA
// fallbacks, so a window below 12 prices yields exactly 0.
func MACD(prices []float64) float64 {
	return EMA(prices, MACDFastPeriod) - EMA(prices, MACDSlowPeriod)
}

// isNaN checks if a float64 is NaN
func isNaN(f float64) bool {
	return f != f
}
