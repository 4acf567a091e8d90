package jobs

import (
	"log/slog"

	"studiometrics/internal/config"
	"studiometrics/internal/database"
	"studiometrics/internal/events"
)

// CleanupJob prunes replay chunks past the retention window. Page views,
// click events and metrics are kept; retention for those is an operational
// concern outside the core.
type CleanupJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	cfg       *config.Config
}

func NewCleanupJob(dbManager *database.DBManager, logger *slog.Logger, cfg *config.Config) *CleanupJob {
	return &CleanupJob{dbManager: dbManager, logger: logger, cfg: cfg}
}

func (j *CleanupJob) Run() error {
	deleted, err := events.PruneReplayChunks(j.dbManager, j.logger, j.cfg.ReplayRetentionDays)
	if err != nil {
		return err
	}
	if deleted > 0 {
		j.logger.Info("Pruned replay chunks",
			slog.Int64("count", deleted),
			slog.Int("retention_days", j.cfg.ReplayRetentionDays))
	}

	if err := j.dbManager.CheckpointWAL("PASSIVE"); err != nil {
		j.logger.Warn("Failed to checkpoint WAL after cleanup", slog.Any("error", err))
	}
	return nil
}
