package formulas

// Indicator periods
const (
	SMAShortPeriod    = 5
	SMAMediumPeriod   = 10
	SMALongPeriod     = 20
	MACDFastPeriod    = 12
	MACDSlowPeriod    = 26
	RSIPeriod         = 14
	VolatilityPeriod  = 20
	RSIOverbought     = 70.0
	RSIOversold       = 30.0
	RSINeutral        = 50.0
	MinIndicatorsSize = 20 // Shortest window for which every indicator is meaningful
)

// IndicatorSet is the snapshot of all indicators for one price window.
type IndicatorSet struct {
	SMA5         float64 `json:"sma5" msgpack:"sma5"`
	SMA10        float64 `json:"sma10" msgpack:"sma10"`
	SMA20        float64 `json:"sma20" msgpack:"sma20"`
	EMA12        float64 `json:"ema12" msgpack:"ema12"`
	EMA26        float64 `json:"ema26" msgpack:"ema26"`
	RSI14        float64 `json:"rsi14" msgpack:"rsi14"`
	MACD         float64 `json:"macd" msgpack:"macd"`
	Volatility20 float64 `json:"volatility20" msgpack:"volatility20"`
}

// Calculate computes every indicator for the window. Short windows are not an
// error: each indicator falls back to its neutral value.
func Calculate(prices []float64) IndicatorSet {
	ema12 := EMA(prices, MACDFastPeriod)
	ema26 := EMA(prices, MACDSlowPeriod)

	return IndicatorSet{
		SMA5:         SMA(prices, SMAShortPeriod),
		SMA10:        SMA(prices, SMAMediumPeriod),
		SMA20:        SMA(prices, SMALongPeriod),
		EMA12:        ema12,
		EMA26:        ema26,
		RSI14:        RSI(prices, RSIPeriod),
		MACD:         ema12 - ema26,
		Volatility20: Volatility(prices, VolatilityPeriod),
	}
}
