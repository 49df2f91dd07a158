package forecasting

import (
	"github.com/aristath/augur/pkg/formulas"
)

// Heuristic weights and confidence bands of the statistical predictor
const (
	fallbackRecentWindow   = 10
	fallbackMomentumWindow = 3
	trendWeight            = 0.3
	momentumWeight         = 0.2
	macdWeight             = 0.1
	rsiNudge               = 0.02 // fraction of the last price

	baseConfidence         = 70.0
	minFallbackConfidence  = 50.0
	maxFallbackConfidence  = 95.0
	maxIndicatorConfidence = 85.0
)

// FallbackPredictor is the deterministic statistical heuristic. It needs no
// trained state and is safe for concurrent use.
type FallbackPredictor struct{}

// NewFallbackPredictor creates a fallback predictor
func NewFallbackPredictor() *FallbackPredictor {
	return &FallbackPredictor{}
}

// Predict runs the plain trend/momentum heuristic over the last ten prices.
// Returns nil (no record) for fewer than MinFallbackPoints prices.
func (f *FallbackPredictor) Predict(prices []float64) *PredictionRecord {
	if len(prices) < MinFallbackPoints {
		return nil
	}

	recent := tail(prices, fallbackRecentWindow)
	last := recent[len(recent)-1]
	avg := formulas.Mean(recent)

	prediction := f.baseline(recent, avg)
	volatility := formulas.PopStdDev(recent)

	denominator := avg
	if denominator == 0 {
		denominator = 1
	}
	confidence := clamp(minFallbackConfidence, maxFallbackConfidence, baseConfidence-(volatility/denominator)*100)

	return &PredictionRecord{
		PredictedPrice: prediction,
		Confidence:     roundConfidence(confidence),
		Direction:      directionOf(prediction, last),
		Volatility:     volatility,
		Method:         MethodStatistical,
	}
}

// PredictWithIndicators is the variant served when the model cannot answer.
// On top of the baseline it leans against overbought/oversold RSI and follows
// MACD, and its confidence is capped lower. Indicator adjustments need at least
// formulas.MinIndicatorsSize prices; shorter series get the bare baseline with
// zero volatility.
func (f *FallbackPredictor) PredictWithIndicators(prices []float64) *PredictionRecord {
	if len(prices) < MinFallbackPoints {
		return nil
	}

	recent := tail(prices, fallbackRecentWindow)
	last := prices[len(prices)-1]
	prediction := f.baseline(recent, formulas.Mean(recent))

	var (
		volatility float64
		indicators *formulas.IndicatorSet
	)
	if len(prices) >= formulas.MinIndicatorsSize {
		ind := formulas.Calculate(prices)
		indicators = &ind
		volatility = ind.Volatility20

		if ind.RSI14 > formulas.RSIOverbought {
			prediction -= last * rsiNudge
		} else if ind.RSI14 < formulas.RSIOversold {
			prediction += last * rsiNudge
		}
		prediction += ind.MACD * macdWeight
	}

	confidence := clamp(minFallbackConfidence, maxIndicatorConfidence, baseConfidence-(volatility/last)*100)

	return &PredictionRecord{
		PredictedPrice: prediction,
		Confidence:     roundConfidence(confidence),
		Direction:      directionOf(prediction, last),
		Volatility:     volatility,
		Method:         MethodStatistical,
		Indicators:     indicators,
	}
}

// baseline = last + trend*0.3 + momentum*0.2, where trend spans the recent
// window and momentum is the mean of its last three prices minus its mean.
func (f *FallbackPredictor) baseline(recent []float64, avg float64) float64 {
	last := recent[len(recent)-1]
	trend := last - recent[0]
	momentum := formulas.Mean(tail(recent, fallbackMomentumWindow)) - avg
	return last + trend*trendWeight + momentum*momentumWeight
}

// tail returns the last n elements (or all of them when shorter)
func tail(prices []float64, n int) []float64 {
	if len(prices) <= n {
		return prices
	}
	return prices[len(prices)-n:]
}
