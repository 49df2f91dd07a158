// Package di provides dependency injection type definitions.
//
// Container holds every long-lived dependency of the forecasting service and
// is the single source of truth handed to the HTTP server and the CLI.
package di

import (
	"github.com/aristath/augur/internal/database"
	"github.com/aristath/augur/internal/events"
	"github.com/aristath/augur/internal/metrics"
	"github.com/aristath/augur/internal/modules/forecasting"
	"github.com/aristath/augur/internal/scheduler"
)

// Container holds all dependencies for the application.
type Container struct {
	// Databases
	ForecastDB *database.DB

	// Infrastructure
	EventBus     *events.Bus
	EventManager *events.Manager
	Metrics      *metrics.Metrics
	Scheduler    *scheduler.Scheduler

	// Repositories
	ModelRepo *forecasting.ModelRepository

	// Forecasting
	Fallback     *forecasting.FallbackPredictor
	Progress     *forecasting.ProgressTracker
	Model        *forecasting.ModelLifecycle
	Cache        *forecasting.PredictionCache
	Orchestrator *forecasting.Orchestrator
}

// JobInstances holds the registered background jobs for manual triggering
type JobInstances struct {
	CacheCleanup  scheduler.Job
	CheckDatabase scheduler.Job
}
