package forecasting

import (
	"fmt"

	"github.com/aristath/augur/pkg/formulas"
)

// Feature positions inside a FeatureVector. Persisted models depend on this order.
const (
	featurePrice = iota
	featureSMA5
	featureSMA10
	featureRSI
	featureMACD
	featureEMA12
	featureEMA26
	featureVolatility
)

// MACD and RSI are normalized against fixed ranges instead of the window range.
const (
	macdNormMin          = -10.0
	macdNormMax          = 10.0
	volatilityNormFactor = 0.1 // volatility range is [0, maxPrice*factor]
)

// FeatureVector is one normalized time step
type FeatureVector [FeatureCount]float64

// Sequence is the unit of model input: SequenceLength consecutive feature vectors
type Sequence [SequenceLength]FeatureVector

// TrainingExample pairs a sequence with the next price, normalized against the
// sequence's own window.
type TrainingExample struct {
	Sequence Sequence
	Target   float64
}

// TrainingSet is the output of PrepareTraining. MinPrice/MaxPrice span the whole
// input and are kept for bookkeeping only.
type TrainingSet struct {
	Examples []TrainingExample
	MinPrice float64
	MaxPrice float64
}

// InferenceInput is the most recent window with the range needed to denormalize
// the model output.
type InferenceInput struct {
	Sequence Sequence
	MinPrice float64
	MaxPrice float64
}

// SequenceBuilder slides a fixed window over a price history and produces
// normalized feature sequences.
type SequenceBuilder struct {
	indicators func(prices []float64) formulas.IndicatorSet
}

// NewSequenceBuilder creates a sequence builder backed by formulas.Calculate
func NewSequenceBuilder() *SequenceBuilder {
	return &SequenceBuilder{indicators: formulas.Calculate}
}

// PrepareTraining builds one example per index i in [SequenceLength, len(prices)),
// using prices[i-SequenceLength:i] as input and prices[i] as target.
func (b *SequenceBuilder) PrepareTraining(prices []float64) (*TrainingSet, error) {
	if len(prices) < MinTrainingPoints {
		return nil, fmt.Errorf("%w: need %d prices, got %d", ErrInsufficientData, MinTrainingPoints, len(prices))
	}

	examples := make([]TrainingExample, 0, len(prices)-SequenceLength)
	for i := SequenceLength; i < len(prices); i++ {
		window := prices[i-SequenceLength : i]
		sequence, minPrice, maxPrice := b.buildSequence(window)

		examples = append(examples, TrainingExample{
			Sequence: sequence,
			Target:   formulas.Normalize(prices[i], minPrice, maxPrice),
		})
	}

	minPrice, maxPrice := formulas.MinMax(prices)
	return &TrainingSet{
		Examples: examples,
		MinPrice: minPrice,
		MaxPrice: maxPrice,
	}, nil
}

// PrepareInference builds the sequence for the most recent window.
func (b *SequenceBuilder) PrepareInference(prices []float64) (*InferenceInput, error) {
	if len(prices) < SequenceLength {
		return nil, fmt.Errorf("%w: need %d prices, got %d", ErrInsufficientData, SequenceLength, len(prices))
	}

	window := prices[len(prices)-SequenceLength:]
	sequence, minPrice, maxPrice := b.buildSequence(window)

	return &InferenceInput{
		Sequence: sequence,
		MinPrice: minPrice,
		MaxPrice: maxPrice,
	}, nil
}

// buildSequence normalizes every step of the window against the window's own
// range. Indicators at step idx are computed from window[:idx+1] only, so no
// step sees prices after itself.
func (b *SequenceBuilder) buildSequence(window []float64) (Sequence, float64, float64) {
	var sequence Sequence
	minPrice, maxPrice := formulas.MinMax(window)

	for idx, price := range window {
		ind := b.indicators(window[:idx+1])
		sequence[idx] = featureVector(price, ind, minPrice, maxPrice)
	}

	return sequence, minPrice, maxPrice
}

func featureVector(price float64, ind formulas.IndicatorSet, minPrice, maxPrice float64) FeatureVector {
	var v FeatureVector
	v[featurePrice] = formulas.Normalize(price, minPrice, maxPrice)
	v[featureSMA5] = formulas.Normalize(ind.SMA5, minPrice, maxPrice)
	v[featureSMA10] = formulas.Normalize(ind.SMA10, minPrice, maxPrice)
	v[featureRSI] = formulas.Normalize(ind.RSI14, 0, 100)
	v[featureMACD] = formulas.Normalize(ind.MACD, macdNormMin, macdNormMax)
	v[featureEMA12] = formulas.Normalize(ind.EMA12, minPrice, maxPrice)
	v[featureEMA26] = formulas.Normalize(ind.EMA26, minPrice, maxPrice)
	v[featureVolatility] = formulas.Normalize(ind.Volatility20, 0, maxPrice*volatilityNormFactor)
	return v
}
