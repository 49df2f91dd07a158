package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/augur/internal/config"
	"github.com/aristath/augur/internal/events"
	"github.com/aristath/augur/internal/metrics"
	"github.com/aristath/augur/internal/modules/forecasting"
)

// InitializeServices builds the forecasting graph on top of the databases.
// The orchestrator is constructed but not started.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil || container.ForecastDB == nil {
		return fmt.Errorf("container has no forecast database")
	}

	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)
	container.Metrics = metrics.NewMetrics()

	container.ModelRepo = forecasting.NewModelRepository(container.ForecastDB.Conn())

	container.Fallback = forecasting.NewFallbackPredictor()
	container.Progress = forecasting.NewProgressTracker()
	container.Model = forecasting.NewModelLifecycle(
		forecasting.NewSequenceBuilder(),
		container.Fallback,
		container.ModelRepo,
		container.Progress,
		log,
		forecasting.ModelOptions{},
	)
	container.Cache = forecasting.NewPredictionCache(cfg.Cache.TTL, cfg.Cache.MaxEntries)

	container.Orchestrator = forecasting.NewOrchestrator(container.Model, container.Fallback, forecasting.Options{
		MLEnabled: cfg.ML.Enabled,
		AutoTrain: cfg.ML.AutoTrain,
		Epochs:    cfg.ML.Epochs,
		ModelName: cfg.ML.ModelName,
		Metrics:   container.Metrics,
		Events:    container.EventManager,
		Cache:     container.Cache,
	}, log)

	log.Info().
		Bool("ml_enabled", cfg.ML.Enabled).
		Bool("auto_train", cfg.ML.AutoTrain).
		Str("status", string(container.Orchestrator.Status())).
		Msg("Forecasting services initialized")

	return nil
}
