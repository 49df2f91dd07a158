package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// PopStdDev calculates the population standard deviation (divides by N, not N-1)
func PopStdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	// The corrected two-pass variance can dip a hair below zero on flat data
	variance := stat.PopVariance(data, nil)
	if variance <= 0 {
		return 0
	}
	return math.Sqrt(variance)
}

// Volatility returns the population standard deviation of the last period
// prices, or 0 when the window is shorter than period.
func Volatility(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period {
		return 0
	}
	return PopStdDev(prices[len(prices)-period:])
}

// MinMax returns the smallest and largest value of the slice.
func MinMax(data []float64) (minValue, maxValue float64) {
	if len(data) == 0 {
		return 0, 0
	}
	minValue, maxValue = data[0], data[0]
	for _, v := range data[1:] {
		if v < minValue {
			minValue = v
		}
		if v > maxValue {
			maxValue = v
		}
	}
	return minValue, maxValue
}

// Normalize linearly rescales value from [minValue, maxValue] into [0, 1].
// A degenerate range (max == min) maps everything to 0.5.
func Normalize(value, minValue, maxValue float64) float64 {
	span := maxValue - minValue
	if span == 0 {
		return 0.5
	}
	return (value - minValue) / span
}

// Denormalize is the inverse of Normalize for the same range.
func Denormalize(normalized, minValue, maxValue float64) float64 {
	span := maxValue - minValue
	if span == 0 {
		return minValue
	}
	return normalized*span + minValue
}
