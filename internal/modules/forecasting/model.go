package forecasting

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/augur/internal/utils"
	"github.com/aristath/augur/pkg/formulas"
	"github.com/aristath/augur/pkg/logger"
)

// Confidence rules for model predictions
const (
	mlBaseConfidence      = 85.0
	mlMinConfidence       = 60.0
	mlMaxConfidence       = 95.0
	volatilityRatioWeight = 1000.0
	largeMoveThreshold    = 0.1
	largeMovePenalty      = 10.0
)

// ModelStore persists trained weights under a name
type ModelStore interface {
	SaveModel(ctx context.Context, record ModelRecord, weights ModelWeights) error
	LoadModel(ctx context.Context, name string) (ModelRecord, ModelWeights, error)
}

// ModelOptions tunes training. Zero values select the defaults.
type ModelOptions struct {
	Seed            int64
	BatchSize       int
	ValidationSplit float64
}

// ModelLifecycle owns the sequence model: creation, training, inference and
// persistence. Train calls are serialized; predictions read the live weights,
// which are only replaced after a fit has fully succeeded.
type ModelLifecycle struct {
	builder  *SequenceBuilder
	fallback *FallbackPredictor
	store    ModelStore
	progress *ProgressTracker
	log      zerolog.Logger
	opts     ModelOptions

	trainMu sync.Mutex
	rng     *rand.Rand // guarded by trainMu

	mu        sync.RWMutex
	net       *network
	state     ModelState
	lastTrain *TrainResult
}

// NewModelLifecycle creates an uninitialized model. store and progress may be nil.
func NewModelLifecycle(
	builder *SequenceBuilder,
	fallback *FallbackPredictor,
	store ModelStore,
	progress *ProgressTracker,
	log zerolog.Logger,
	opts ModelOptions,
) *ModelLifecycle {
	if opts.BatchSize <= 0 {
		opts.BatchSize = BatchSize
	}
	if opts.ValidationSplit <= 0 || opts.ValidationSplit >= 1 {
		opts.ValidationSplit = ValidationSplit
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if builder == nil {
		builder = NewSequenceBuilder()
	}
	if fallback == nil {
		fallback = NewFallbackPredictor()
	}

	return &ModelLifecycle{
		builder:  builder,
		fallback: fallback,
		store:    store,
		progress: progress,
		log:      logger.Component(log, "model_lifecycle"),
		opts:     opts,
		rng:      rand.New(rand.NewSource(opts.Seed)),
		state:    ModelUninitialized,
	}
}

// Probe checks that the numeric backend produces sane output. A failing probe
// means the model capability is unavailable in this process.
func (m *ModelLifecycle) Probe() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model probe panicked: %v", r)
		}
	}()

	net := newDefaultNetwork(rand.New(rand.NewSource(1)))
	var seq Sequence
	out := net.forward(&seq, net.newCache(SequenceLength))
	if math.IsNaN(out) || out <= 0 || out >= 1 {
		return fmt.Errorf("model probe produced %v", out)
	}
	return nil
}

// State returns the lifecycle state
func (m *ModelLifecycle) State() ModelState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsTrained is true once a fit succeeded or weights were loaded
func (m *ModelLifecycle) IsTrained() bool {
	state := m.State()
	return state == ModelTrained || state == ModelLoaded
}

// LastTrainResult returns the outcome of the most recent training run
func (m *ModelLifecycle) LastTrainResult() (TrainResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastTrain == nil {
		return TrainResult{}, false
	}
	return *m.lastTrain, true
}

// Train fits the model on prices. It never returns an error: failures are
// reported in the result and leave any previously trained weights in place.
func (m *ModelLifecycle) Train(ctx context.Context, prices []float64, epochs int) (result TrainResult) {
	m.trainMu.Lock()
	defer m.trainMu.Unlock()

	if epochs <= 0 {
		epochs = DefaultEpochs
	}
	start := time.Now()
	result = TrainResult{RunID: uuid.New().String()}

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Reason = ReasonTrainingException
			result.Error = fmt.Sprintf("panic: %v", r)
		}
		result.Duration = time.Since(start)
		m.recordResult(result)
	}()

	set, err := m.builder.PrepareTraining(prices)
	if err != nil {
		m.log.Warn().Err(err).Int("points", len(prices)).Msg("Training refused")
		result.Reason = ReasonInsufficientData
		result.Error = err.Error()
		return result
	}
	result.Examples = len(set.Examples)

	working := m.workingNetwork()
	m.progress.started(result.RunID, epochs, result.Examples)
	m.log.Info().
		Str("run_id", result.RunID).
		Int("examples", result.Examples).
		Int("epochs", epochs).
		Msg("Training started")

	final, err := working.fit(ctx, set.Examples, fitConfig{
		epochs:          epochs,
		batchSize:       m.opts.BatchSize,
		validationSplit: m.opts.ValidationSplit,
		rng:             m.rng,
		onEpoch: func(em epochMetrics) {
			m.progress.epoch(result.RunID, epochs, em)
			m.log.Debug().
				Str("run_id", result.RunID).
				Int("epoch", em.Epoch).
				Float64("loss", em.Loss).
				Float64("val_loss", em.ValLoss).
				Msg("Epoch complete")
		},
	})
	if err != nil {
		m.log.Error().Err(err).Str("run_id", result.RunID).Msg("Training failed")
		result.Reason = ReasonTrainingException
		result.Error = err.Error()
		if errors.Is(err, ErrInsufficientData) {
			result.Reason = ReasonInsufficientData
		}
		return result
	}

	result.Success = true
	result.Epochs = final.Epoch
	result.FinalLoss = final.Loss
	result.FinalMAE = final.MAE
	result.FinalValLoss = final.ValLoss
	result.FinalValMAE = final.ValMAE

	m.mu.Lock()
	m.net = working
	m.state = ModelTrained
	m.mu.Unlock()

	m.log.Info().
		Str("run_id", result.RunID).
		Float64("loss", result.FinalLoss).
		Float64("mae", result.FinalMAE).
		Dur("duration", time.Since(start)).
		Msg("Training completed")
	return result
}

// workingNetwork returns a copy of the live weights to train on, creating the
// model on first use.
func (m *ModelLifecycle) workingNetwork() *network {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.net == nil {
		m.net = newDefaultNetwork(m.rng)
		m.state = ModelCreated
	}
	return m.net.clone()
}

func (m *ModelLifecycle) recordResult(result TrainResult) {
	m.mu.Lock()
	m.lastTrain = &result
	m.mu.Unlock()
	m.progress.finished(&result)
}

// Predict returns a model prediction, or the indicator-aware fallback when the
// model is untrained, the history is too short or inference fails. It returns
// nil only for series shorter than MinFallbackPoints.
func (m *ModelLifecycle) Predict(ctx context.Context, prices []float64) *PredictionRecord {
	m.mu.RLock()
	net := m.net
	trained := m.state == ModelTrained || m.state == ModelLoaded
	m.mu.RUnlock()

	if !trained || net == nil || len(prices) < MinTrainingPoints {
		return m.fallback.PredictWithIndicators(prices)
	}

	record, err := m.infer(net, prices)
	if err != nil {
		m.log.Warn().Err(err).Msg("Inference failed, using fallback")
		return m.fallback.PredictWithIndicators(prices)
	}
	return record
}

func (m *ModelLifecycle) infer(net *network, prices []float64) (record *PredictionRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			record = nil
			err = fmt.Errorf("inference panicked: %v", r)
		}
	}()

	input, err := m.builder.PrepareInference(prices)
	if err != nil {
		return nil, err
	}

	output := net.forward(&input.Sequence, net.newCache(SequenceLength))
	if math.IsNaN(output) || math.IsInf(output, 0) {
		return nil, fmt.Errorf("non-finite model output %v", output)
	}
	predicted := formulas.Denormalize(output, input.MinPrice, input.MaxPrice)

	last := prices[len(prices)-1]
	indicators := formulas.Calculate(prices)
	volatilityRatio := indicators.Volatility20 / last

	confidence := clamp(mlMinConfidence, mlMaxConfidence, mlBaseConfidence-volatilityRatio*volatilityRatioWeight)
	if math.Abs(predicted-last)/last > largeMoveThreshold {
		confidence -= largeMovePenalty
	}

	return &PredictionRecord{
		PredictedPrice: predicted,
		Confidence:     roundConfidence(confidence),
		Direction:      directionOf(predicted, last),
		Volatility:     indicators.Volatility20,
		Method:         MethodML,
		Indicators:     &indicators,
	}, nil
}

// Save persists the trained weights under name. It reports false when there
// is nothing to save or the store fails.
func (m *ModelLifecycle) Save(ctx context.Context, name string) bool {
	if m.store == nil {
		return false
	}
	defer utils.OperationTimer("model_save", m.log)()

	m.mu.RLock()
	net := m.net
	trained := m.state == ModelTrained || m.state == ModelLoaded
	last := m.lastTrain
	m.mu.RUnlock()

	if !trained || net == nil {
		m.log.Warn().Str("name", name).Msg("Save skipped, model not trained")
		return false
	}

	now := time.Now()
	record := ModelRecord{
		Name:           name,
		SequenceLength: SequenceLength,
		FeatureCount:   FeatureCount,
		TrainedAt:      now,
		UpdatedAt:      now,
	}
	if last != nil && last.Success {
		record.FinalLoss = last.FinalLoss
		record.FinalMAE = last.FinalMAE
	}

	if err := m.store.SaveModel(ctx, record, net.snapshot()); err != nil {
		m.log.Error().Err(err).Str("name", name).Msg("Failed to save model")
		return false
	}
	m.log.Info().Str("name", name).Msg("Model saved")
	return true
}

// Load restores weights saved under name. Missing, corrupt or incompatible
// entries report false and leave the in-memory model untouched.
func (m *ModelLifecycle) Load(ctx context.Context, name string) bool {
	if m.store == nil {
		return false
	}
	defer utils.OperationTimer("model_load", m.log)()

	record, weights, err := m.store.LoadModel(ctx, name)
	if err != nil {
		if errors.Is(err, ErrModelNotFound) {
			m.log.Debug().Str("name", name).Msg("No stored model")
		} else {
			m.log.Warn().Err(err).Str("name", name).Msg("Failed to load model")
		}
		return false
	}
	if record.SequenceLength != SequenceLength || record.FeatureCount != FeatureCount {
		m.log.Warn().
			Str("name", name).
			Int("sequence_length", record.SequenceLength).
			Int("feature_count", record.FeatureCount).
			Msg("Stored model shape is incompatible")
		return false
	}

	net, err := networkFromSnapshot(weights)
	if err != nil {
		m.log.Warn().Err(err).Str("name", name).Msg("Stored model rejected")
		return false
	}

	m.mu.Lock()
	m.net = net
	m.state = ModelLoaded
	m.mu.Unlock()

	m.log.Info().Str("name", name).Msg("Model loaded")
	return true
}
