package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/augur/internal/config"
	"github.com/aristath/augur/internal/modules/forecasting"
	"github.com/aristath/augur/internal/scheduler"
)

// checkDatabaseSchedule runs the integrity check at the top of every hour
const checkDatabaseSchedule = "0 0 * * * *"

// RegisterJobs creates the scheduler and registers the background jobs.
// The scheduler is not started.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	container.Scheduler = scheduler.New(log)
	instances := &JobInstances{
		CacheCleanup:  forecasting.NewCacheCleanupJob(container.Cache, log),
		CheckDatabase: scheduler.NewCheckDatabaseJob(container.ForecastDB, log),
	}

	if err := container.Scheduler.AddJob(cfg.Cache.CleanupSchedule, instances.CacheCleanup); err != nil {
		return nil, fmt.Errorf("failed to register cache cleanup job: %w", err)
	}
	if err := container.Scheduler.AddJob(checkDatabaseSchedule, instances.CheckDatabase); err != nil {
		return nil, fmt.Errorf("failed to register database check job: %w", err)
	}

	return instances, nil
}
