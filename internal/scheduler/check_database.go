package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/augur/internal/database"
)

// CheckDatabaseJob verifies integrity of the model database and keeps its
// WAL file from growing without bound.
type CheckDatabaseJob struct {
	log     zerolog.Logger
	db      *database.DB
	timeout time.Duration
}

// NewCheckDatabaseJob creates a new CheckDatabaseJob
func NewCheckDatabaseJob(db *database.DB, log zerolog.Logger) *CheckDatabaseJob {
	return &CheckDatabaseJob{
		log:     log.With().Str("job", "check_database").Logger(),
		db:      db,
		timeout: 30 * time.Second,
	}
}

// Name returns the job name
func (j *CheckDatabaseJob) Name() string {
	return "check_database"
}

// Run executes the integrity check followed by a passive WAL checkpoint
func (j *CheckDatabaseJob) Run() error {
	if j.db == nil {
		j.log.Warn().Msg("Database not initialized, skipping")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if err := j.db.HealthCheck(ctx); err != nil {
		// Corruption cannot be repaired automatically
		return fmt.Errorf("database %s failed health check: %w", j.db.Name(), err)
	}

	// PRAGMA wal_checkpoint returns: busy, log, checkpointed
	var busy, walPages, checkpointed int
	err := j.db.Conn().QueryRowContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &walPages, &checkpointed)
	if err != nil {
		j.log.Warn().Err(err).Str("database", j.db.Name()).Msg("Failed to checkpoint WAL")
		return nil
	}

	j.log.Debug().
		Str("database", j.db.Name()).
		Int("busy", busy).
		Int("wal_pages", walPages).
		Int("checkpointed", checkpointed).
		Msg("Database check passed")
	return nil
}
