package forecasting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/aristath/augur/internal/events"
	"github.com/aristath/augur/pkg/logger"
)

const moduleName = "forecasting"

// ReasonUnavailable is reported by the orchestrator when a training request
// cannot reach a model at all (ML disabled or capability missing).
const ReasonUnavailable FailureReason = "unavailable"

// Fallback reasons reported to metrics
const (
	fallbackMLDisabled       = "ml-disabled"
	fallbackUnavailable      = "unavailable"
	fallbackInsufficientData = "insufficient-data"
	fallbackUntrained        = "untrained"
	fallbackInference        = "inference-failure"
	fallbackPanic            = "panic"
)

// MetricsRecorder receives forecasting measurements
type MetricsRecorder interface {
	PredictionServed(method string)
	FallbackUsed(reason string)
	TrainingFinished(success bool, reason string, duration time.Duration)
	StatusChanged(status string)
}

// EventEmitter publishes forecasting events
type EventEmitter interface {
	EmitTyped(eventType events.EventType, module string, data events.EventData)
}

// Options configures an Orchestrator
type Options struct {
	MLEnabled bool
	AutoTrain bool
	Epochs    int
	ModelName string
	Metrics   MetricsRecorder
	Events    EventEmitter
	Cache     *PredictionCache
}

// Orchestrator decides between the sequence model and the statistical
// fallback, drives on-demand training and tracks the forecasting status.
// Predict never fails: every fault degrades to the fallback.
type Orchestrator struct {
	model    *ModelLifecycle
	fallback *FallbackPredictor
	opts     Options
	log      zerolog.Logger

	mu       sync.RWMutex
	status   Status
	inflight int

	group singleflight.Group

	stopForward func()
	forwardDone chan struct{}
	closeOnce   sync.Once
}

// NewOrchestrator probes the model capability once. A nil model or a failed
// probe produces an orchestrator in the unavailable state that only serves
// statistical predictions.
func NewOrchestrator(model *ModelLifecycle, fallback *FallbackPredictor, opts Options, log zerolog.Logger) *Orchestrator {
	if fallback == nil {
		fallback = NewFallbackPredictor()
	}
	if opts.Epochs <= 0 {
		opts.Epochs = DefaultEpochs
	}
	if opts.ModelName == "" {
		opts.ModelName = DefaultModelName
	}

	o := &Orchestrator{
		model:    model,
		fallback: fallback,
		opts:     opts,
		log:      logger.Component(log, "forecast_orchestrator"),
		status:   StatusInitializing,
	}

	switch {
	case model == nil:
		o.log.Warn().Msg("No sequence model configured, statistical predictions only")
		o.setStatus(StatusUnavailable)
	default:
		if err := model.Probe(); err != nil {
			o.log.Warn().Err(err).Msg("Sequence model unavailable, statistical predictions only")
			o.setStatus(StatusUnavailable)
		} else {
			o.setStatus(StatusReady)
		}
	}

	return o
}

// Start restores the persisted model, if any, and begins forwarding
// training progress as events.
func (o *Orchestrator) Start(ctx context.Context) {
	if o.Status() == StatusUnavailable {
		return
	}

	if o.opts.Events != nil && o.model.progress != nil && o.stopForward == nil {
		ch, cancel := o.model.progress.Subscribe()
		o.stopForward = cancel
		o.forwardDone = make(chan struct{})
		go o.forwardProgress(ch)
	}

	if !o.opts.MLEnabled {
		o.log.Info().Msg("ML disabled, skipping model restore")
		return
	}
	if o.Load(ctx, o.opts.ModelName) {
		o.log.Info().Str("name", o.opts.ModelName).Msg("Restored persisted model")
	}
}

// Close stops progress forwarding and ends every progress subscription.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		if o.stopForward != nil {
			o.stopForward()
			<-o.forwardDone
		}
		if o.model != nil && o.model.progress != nil {
			o.model.progress.Close()
		}
	})
}

// Status returns the current status. It carries no control semantics.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

// MLEnabled reports whether model predictions are enabled by configuration
func (o *Orchestrator) MLEnabled() bool {
	return o.opts.MLEnabled
}

// ModelState returns the model lifecycle state, or uninitialized without a model
func (o *Orchestrator) ModelState() ModelState {
	if o.model == nil {
		return ModelUninitialized
	}
	return o.model.State()
}

// LastTrainResult returns the outcome of the most recent training run
func (o *Orchestrator) LastTrainResult() (TrainResult, bool) {
	if o.model == nil {
		return TrainResult{}, false
	}
	return o.model.LastTrainResult()
}

// Progress returns the latest training progress update
func (o *Orchestrator) Progress() (TrainingProgress, bool) {
	if o.model == nil || o.model.progress == nil {
		return TrainingProgress{}, false
	}
	return o.model.progress.Latest()
}

// SubscribeProgress streams training progress until cancel is called or the
// orchestrator is closed.
func (o *Orchestrator) SubscribeProgress() (<-chan TrainingProgress, func()) {
	if o.model == nil || o.model.progress == nil {
		ch := make(chan TrainingProgress)
		close(ch)
		return ch, func() {}
	}
	return o.model.progress.Subscribe()
}

// Predict returns a prediction for prices. It returns nil only when the
// series is shorter than MinFallbackPoints.
func (o *Orchestrator) Predict(ctx context.Context, prices []float64, ticker string) (record *PredictionRecord) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().
				Str("ticker", ticker).
				Str("panic", fmt.Sprint(r)).
				Msg("Prediction panicked, using statistical fallback")
			o.recordFallback(fallbackPanic)
			record = o.fallback.Predict(prices)
			o.recordServed(record)
		}
	}()

	// While an auto-train is still due, every eligible call must reach it
	cacheable := o.opts.Cache != nil && !o.autoTrainDue(prices)
	if cacheable {
		if cached, ok := o.opts.Cache.Get(ticker, prices); ok {
			return cached
		}
	}

	record = o.predict(ctx, prices, ticker)
	o.recordServed(record)

	if o.opts.Cache != nil && !o.autoTrainDue(prices) {
		o.opts.Cache.Put(ticker, prices, record)
	}
	return record
}

// autoTrainDue reports whether a prediction over prices would trigger training
func (o *Orchestrator) autoTrainDue(prices []float64) bool {
	return o.opts.MLEnabled &&
		o.opts.AutoTrain &&
		o.Status() != StatusUnavailable &&
		!o.model.IsTrained() &&
		len(prices) >= MinTrainingPoints
}

func (o *Orchestrator) predict(ctx context.Context, prices []float64, ticker string) *PredictionRecord {
	if !o.opts.MLEnabled {
		o.recordFallback(fallbackMLDisabled)
		return o.fallback.Predict(prices)
	}
	if o.Status() == StatusUnavailable {
		o.recordFallback(fallbackUnavailable)
		return o.fallback.Predict(prices)
	}

	if o.opts.AutoTrain && !o.model.IsTrained() && len(prices) >= MinTrainingPoints {
		o.autoTrain(ctx, prices, ticker)
	}

	record := o.model.Predict(ctx, prices)
	if record != nil && record.Method == MethodStatistical {
		switch {
		case len(prices) < MinTrainingPoints:
			o.recordFallback(fallbackInsufficientData)
		case !o.model.IsTrained():
			o.recordFallback(fallbackUntrained)
		default:
			o.recordFallback(fallbackInference)
		}
	}
	return record
}

// autoTrain trains the untrained model once. Concurrent eligible callers
// share the same run, so it runs to completion even if the triggering
// caller goes away. A successful model is persisted under ModelName.
func (o *Orchestrator) autoTrain(ctx context.Context, prices []float64, ticker string) {
	ctx = context.WithoutCancel(ctx)
	_, _, _ = o.group.Do("auto-train", func() (any, error) {
		if o.model.IsTrained() {
			return nil, nil
		}

		o.log.Info().Str("ticker", ticker).Int("points", len(prices)).Msg("Auto-training sequence model")
		result := o.runTraining(ctx, prices, o.opts.Epochs)
		if result.Success {
			o.Save(ctx, o.opts.ModelName)
		}
		return result, nil
	})
}

// Train is an explicit (re)training request and the only path that retrains
// an already trained model.
func (o *Orchestrator) Train(ctx context.Context, prices []float64, epochs int) TrainResult {
	if !o.opts.MLEnabled || o.Status() == StatusUnavailable {
		result := TrainResult{Reason: ReasonUnavailable, Error: "sequence model is disabled or unavailable"}
		o.recordTraining(result)
		return result
	}
	if epochs <= 0 {
		epochs = o.opts.Epochs
	}
	return o.runTraining(ctx, prices, epochs)
}

func (o *Orchestrator) runTraining(ctx context.Context, prices []float64, epochs int) TrainResult {
	o.mu.Lock()
	o.inflight++
	o.mu.Unlock()
	o.setStatus(StatusTraining)

	result := o.model.Train(ctx, prices, epochs)
	o.recordTraining(result)

	o.mu.Lock()
	o.inflight--
	remaining := o.inflight
	o.mu.Unlock()

	if result.Success {
		o.clearCache()
	}
	if remaining > 0 {
		return result
	}
	if o.model.IsTrained() {
		o.setStatus(StatusModelReady)
	} else {
		o.setStatus(StatusReady)
	}
	return result
}

// Save persists the current model under name
func (o *Orchestrator) Save(ctx context.Context, name string) bool {
	if o.model == nil || o.Status() == StatusUnavailable {
		return false
	}
	if name == "" {
		name = o.opts.ModelName
	}

	ok := o.model.Save(ctx, name)
	o.emit(events.ModelPersisted, &events.ModelPersistedData{Name: name, Action: "save", Success: ok})
	return ok
}

// Load restores the model saved under name. A failed load leaves the status
// unchanged.
func (o *Orchestrator) Load(ctx context.Context, name string) bool {
	if o.model == nil || o.Status() == StatusUnavailable {
		return false
	}
	if name == "" {
		name = o.opts.ModelName
	}

	ok := o.model.Load(ctx, name)
	o.emit(events.ModelPersisted, &events.ModelPersistedData{Name: name, Action: "load", Success: ok})
	if !ok {
		return false
	}

	o.clearCache()
	o.mu.Lock()
	training := o.inflight > 0
	o.mu.Unlock()
	if !training {
		o.setStatus(StatusModelReady)
	}
	return true
}

func (o *Orchestrator) setStatus(status Status) {
	o.mu.Lock()
	previous := o.status
	o.status = status
	o.mu.Unlock()

	if previous == status {
		return
	}

	o.log.Info().
		Str("from", string(previous)).
		Str("to", string(status)).
		Msg("Forecast status changed")
	if o.opts.Metrics != nil {
		o.opts.Metrics.StatusChanged(string(status))
	}
	o.emit(events.ForecastStatusChanged, &events.ForecastStatusChangedData{
		Status:   string(status),
		Previous: string(previous),
	})
}

func (o *Orchestrator) forwardProgress(ch <-chan TrainingProgress) {
	defer close(o.forwardDone)
	for p := range ch {
		o.emit(events.TrainingProgressed, &events.TrainingProgressedData{
			RunID:   p.RunID,
			Phase:   string(p.Phase),
			Epoch:   p.Epoch,
			Epochs:  p.Epochs,
			Loss:    p.Loss,
			MAE:     p.MAE,
			ValLoss: p.ValLoss,
			ValMAE:  p.ValMAE,
			Message: p.Message,
		})
	}
}

func (o *Orchestrator) emit(eventType events.EventType, data events.EventData) {
	if o.opts.Events == nil {
		return
	}
	o.opts.Events.EmitTyped(eventType, moduleName, data)
}

func (o *Orchestrator) clearCache() {
	if o.opts.Cache != nil {
		o.opts.Cache.Clear()
	}
}

func (o *Orchestrator) recordServed(record *PredictionRecord) {
	if record == nil || o.opts.Metrics == nil {
		return
	}
	o.opts.Metrics.PredictionServed(string(record.Method))
}

func (o *Orchestrator) recordFallback(reason string) {
	if o.opts.Metrics != nil {
		o.opts.Metrics.FallbackUsed(reason)
	}
}

func (o *Orchestrator) recordTraining(result TrainResult) {
	if o.opts.Metrics != nil {
		o.opts.Metrics.TrainingFinished(result.Success, string(result.Reason), result.Duration)
	}
}
