// Package forecasting turns a chronological price series into a forward price
// estimate. A recurrent model is used when one is trained; a deterministic
// statistical heuristic covers every other case so callers always receive a
// usable record for series of five or more prices.
package forecasting

import (
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/aristath/augur/pkg/formulas"
)

// Shape constants shared by the sequence builder and the model. Stored models
// are only compatible with the values they were trained with.
const (
	SequenceLength    = 30
	FeatureCount      = 8
	MinTrainingPoints = SequenceLength + 20
	MinFallbackPoints = 5
	DefaultEpochs     = 30
	BatchSize         = 32
	ValidationSplit   = 0.2
	DefaultModelName  = "stock-predictor"
)

// Sentinel errors
var (
	ErrInsufficientData  = errors.New("insufficient data")
	ErrModelNotFound     = errors.New("model not found")
	ErrIncompatibleModel = errors.New("stored model shape does not match")
	ErrModelNotTrained   = errors.New("model not trained")
)

// Direction of the predicted move
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Method identifies which predictor produced a record
type Method string

const (
	MethodML          Method = "ml"
	MethodStatistical Method = "statistical"
)

// PredictionRecord is the unit of output handed to every collaborator.
type PredictionRecord struct {
	PredictedPrice float64                `json:"predicted_price"`
	Confidence     float64                `json:"confidence"`
	Direction      Direction              `json:"direction"`
	Volatility     float64                `json:"volatility"`
	Method         Method                 `json:"method"`
	Indicators     *formulas.IndicatorSet `json:"indicators,omitempty"`
}

// directionOf is "up" only when predicted is strictly above last.
func directionOf(predicted, last float64) Direction {
	if predicted > last {
		return DirectionUp
	}
	return DirectionDown
}

// clamp bounds value to [lo, hi]. NaN maps to lo.
func clamp(lo, hi, value float64) float64 {
	if math.IsNaN(value) {
		return lo
	}
	return math.Max(lo, math.Min(hi, value))
}

// roundConfidence keeps one decimal place
func roundConfidence(confidence float64) float64 {
	return math.Round(confidence*10) / 10
}

// FailureReason explains an unsuccessful training run
type FailureReason string

const (
	ReasonInsufficientData  FailureReason = "insufficient-data"
	ReasonTrainingException FailureReason = "training-exception"
)

// TrainResult reports the outcome of a training run
type TrainResult struct {
	Success      bool          `json:"success"`
	Reason       FailureReason `json:"reason,omitempty"`
	Error        string        `json:"error,omitempty"`
	RunID        string        `json:"run_id,omitempty"`
	Epochs       int           `json:"epochs"`
	Examples     int           `json:"examples"`
	FinalLoss    float64       `json:"final_loss"`
	FinalMAE     float64       `json:"final_mae"`
	FinalValLoss float64       `json:"final_val_loss"`
	FinalValMAE  float64       `json:"final_val_mae"`
	Duration     time.Duration `json:"-"`
}

// MarshalJSON reports Duration in milliseconds
func (r TrainResult) MarshalJSON() ([]byte, error) {
	type plain TrainResult
	return json.Marshal(struct {
		plain
		DurationMs int64 `json:"duration_ms"`
	}{plain(r), r.Duration.Milliseconds()})
}

// ModelState is the lifecycle state of the sequence model
type ModelState string

const (
	ModelUninitialized ModelState = "uninitialized"
	ModelCreated       ModelState = "created"
	ModelTrained       ModelState = "trained"
	ModelLoaded        ModelState = "loaded"
)

// Status is the orchestrator status exposed for display
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusReady        Status = "ready"
	StatusTraining     Status = "training"
	StatusModelReady   Status = "model-ready"
	StatusUnavailable  Status = "unavailable"
)
