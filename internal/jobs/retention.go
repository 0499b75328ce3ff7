package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	"pulseboard/internal/tracking"
)

// RetentionJob deletes raw tracking rows older than the retention period.
// Daily snapshots are kept, so day-over-day comparisons survive the purge.
type RetentionJob struct {
	dbManager     cartridge.DBManager
	logger        *slog.Logger
	retentionDays int
	now           func() time.Time
}

func NewRetentionJob(dbManager cartridge.DBManager, logger *slog.Logger, retentionDays int) *RetentionJob {
	return &RetentionJob{
		dbManager:     dbManager,
		logger:        logger,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

// Enabled reports whether a retention period is configured.
func (j *RetentionJob) Enabled() bool {
	return j.retentionDays > 0
}

// Run purges rows older than the retention period. It is a no-op when retention is disabled.
func (j *RetentionJob) Run(ctx context.Context) error {
	if !j.Enabled() {
		j.logger.Debug("Raw data retention disabled, skipping cleanup")
		return nil
	}

	cutoff := j.now().UTC().AddDate(0, 0, -j.retentionDays)
	j.logger.Info("Starting cleanup of old tracking rows",
		slog.Int("retention_days", j.retentionDays),
		slog.Time("cutoff_date", cutoff))

	result, err := tracking.Purge(ctx, j.dbManager, j.logger, cutoff)
	if err != nil {
		j.logger.Error("Failed to purge old tracking rows",
			slog.Any("error", err),
			slog.Int64("deleted_so_far", result.Total()))
		return err
	}

	j.logger.Info("Cleaned up old tracking rows",
		slog.Int64("deleted_count", result.Total()),
		slog.Int("retention_days", j.retentionDays))
	return nil
}
