package formulas

// RSI calculates the Relative Strength Index over the last period deltas.
//
// RSI Formula:
//
//	RSI = 100 - (100 / (1 + RS))
//	where RS = Average Gain / Average Loss over N periods
//
// Averages are simple means of the last period deltas. go-talib's Rsi applies
// Wilder smoothing over the whole series, which gives different values, so the
// calculation is done here.
//
// Returns 50 (neutral) when fewer than period+1 prices are available and 100
// when the average loss is exactly zero.
func RSI(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period+1 {
		return 50
	}

	var gains, losses float64
	for i := len(prices) - period; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		return 100
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}
