package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

const purgeBatchSize = 1000

// PurgeResult counts the rows removed by Purge.
type PurgeResult struct {
	PageViews int64
	Events    int64
	Visitors  int64
}

// Total is the number of rows removed across all tables.
func (r PurgeResult) Total() int64 {
	return r.PageViews + r.Events + r.Visitors
}

// Purge deletes raw rows older than cutoff. Visitors are removed only once
// their last_visit is before cutoff, so sessions still active are kept whole.
// Deletes run in batches to keep write locks short.
func Purge(ctx context.Context, dbManager cartridge.DBManager, logger *slog.Logger, cutoff time.Time) (PurgeResult, error) {
	db := dbManager.GetConnection().WithContext(ctx)
	var result PurgeResult

	var err error
	if result.PageViews, err = deleteInBatches(ctx, db, logger, "page_views", "viewed_at", cutoff); err != nil {
		return result, err
	}
	if result.Events, err = deleteInBatches(ctx, db, logger, "events", "occurred_at", cutoff); err != nil {
		return result, err
	}
	if result.Visitors, err = deleteInBatches(ctx, db, logger, "visitors", "last_visit", cutoff); err != nil {
		return result, err
	}

	logger.Info("Purged raw tracking rows",
		slog.Time("cutoff", cutoff),
		slog.Int64("page_views", result.PageViews),
		slog.Int64("events", result.Events),
		slog.Int64("visitors", result.Visitors))
	return result, nil
}

func deleteInBatches(ctx context.Context, db *gorm.DB, logger *slog.Logger, table, column string, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE id IN (SELECT id FROM %s WHERE %s < ? LIMIT %d)",
		table, table, column, purgeBatchSize)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		var affected int64
		err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
			res := tx.Exec(query, cutoff)
			affected = res.RowsAffected
			return res.Error
		})
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", table, err)
		}

		total += affected
		if affected < purgeBatchSize {
			return total, nil
		}
	}
}
