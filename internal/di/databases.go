package di

import (
	"fmt"

	"github.com/aristath/augur/internal/config"
	"github.com/aristath/augur/internal/database"
)

// InitializeDatabases opens forecast.db and applies its schema
func InitializeDatabases(cfg *config.Config) (*Container, error) {
	container := &Container{}

	// forecast.db - trained model weights; losing it means retraining
	forecastDB, err := database.New(database.Config{
		Path:    cfg.DatabasePath(),
		Profile: database.ProfileDurable,
		Name:    "forecast",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize forecast database: %w", err)
	}

	if err := forecastDB.Migrate(); err != nil {
		forecastDB.Close()
		return nil, fmt.Errorf("failed to apply forecast schema: %w", err)
	}
	container.ForecastDB = forecastDB

	return container, nil
}
