package testing

import "math"

// WavePrices is a deterministic upward drifting wave around 100
func WavePrices(n int) []float64 {
	prices := make([]float64, n)
	for i := range prices {
		x := float64(i)
		prices[i] = 100 + 0.3*x + 4*math.Sin(x/3)
	}
	return prices
}

// ConstantPrices returns n copies of value
func ConstantPrices(n int, value float64) []float64 {
	prices := make([]float64, n)
	for i := range prices {
		prices[i] = value
	}
	return prices
}

// LinearPrices returns start, start+step, start+2*step, ...
func LinearPrices(n int, start, step float64) []float64 {
	prices := make([]float64, n)
	for i := range prices {
		prices[i] = start + float64(i)*step
	}
	return prices
}
