package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"pulseboard/internal/tracking"
)

// sqliteMaxVariables keeps IN lists under SQLite's bound parameter limit.
const sqliteMaxVariables = 500

// LifetimeCounts are unfiltered row counts for a site.
type LifetimeCounts struct {
	PageViews int64
	Events    int64
	Visitors  int64
}

// Store is the row source the report is computed from.
type Store interface {
	PageViewsSince(ctx context.Context, siteID string, since time.Time) ([]tracking.PageView, error)
	EventsSince(ctx context.Context, siteID string, since time.Time) ([]tracking.Event, error)
	VisitorsBySessionIDs(ctx context.Context, siteID string, sessionIDs []string) ([]tracking.Visitor, error)
	LifetimeCounts(ctx context.Context, siteID string) (LifetimeCounts, error)
	// SnapshotFor returns nil and no error when no row exists for the date.
	SnapshotFor(ctx context.Context, siteID, date string) (*DailySnapshot, error)
	UpsertSnapshot(ctx context.Context, snapshot *DailySnapshot) error
}

// QueryError wraps a store failure with the query that produced it.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Query, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

func queryError(query string, err error) error {
	if err == nil {
		return nil
	}
	return &QueryError{Query: query, Err: err}
}

// QueryName extracts the failing query from err, or "" when err is not a store failure.
func QueryName(err error) string {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Query
	}
	return ""
}

// GormStore reads and writes through cartridge's DB manager.
type GormStore struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
}

// NewGormStore creates a Store backed by the application database.
func NewGormStore(dbManager cartridge.DBManager, logger *slog.Logger) *GormStore {
	return &GormStore{dbManager: dbManager, logger: logger}
}

func (s *GormStore) db(ctx context.Context) *gorm.DB {
	return s.dbManager.GetConnection().WithContext(ctx)
}

// PageViewsSince returns the site's page views at or after since, newest first.
func (s *GormStore) PageViewsSince(ctx context.Context, siteID string, since time.Time) ([]tracking.PageView, error) {
	var rows []tracking.PageView
	err := s.db(ctx).
		Where("site_id = ? AND viewed_at >= ?", siteID, since).
		Order("viewed_at DESC, id DESC").
		Find(&rows).Error
	return rows, queryError("page_views_since", err)
}

// EventsSince returns the site's events at or after since, newest first.
func (s *GormStore) EventsSince(ctx context.Context, siteID string, since time.Time) ([]tracking.Event, error) {
	var rows []tracking.Event
	err := s.db(ctx).
		Where("site_id = ? AND occurred_at >= ?", siteID, since).
		Order("occurred_at DESC, id DESC").
		Find(&rows).Error
	return rows, queryError("events_since", err)
}

// VisitorsBySessionIDs returns the site's visitor rows for the given sessions, most recently seen first.
func (s *GormStore) VisitorsBySessionIDs(ctx context.Context, siteID string, sessionIDs []string) ([]tracking.Visitor, error) {
	var all []tracking.Visitor
	for start := 0; start < len(sessionIDs); start += sqliteMaxVariables {
		end := start + sqliteMaxVariables
		if end > len(sessionIDs) {
			end = len(sessionIDs)
		}

		var chunk []tracking.Visitor
		err := s.db(ctx).
			Where("site_id = ? AND session_id IN ?", siteID, sessionIDs[start:end]).
			Find(&chunk).Error
		if err != nil {
			return nil, queryError("visitors_by_session_ids", err)
		}
		all = append(all, chunk...)
	}
	sortVisitorsByLastVisit(all)
	return all, nil
}

// LifetimeCounts counts every row the site has ever recorded.
func (s *GormStore) LifetimeCounts(ctx context.Context, siteID string) (LifetimeCounts, error) {
	var counts LifetimeCounts
	db := s.db(ctx)
	if err := db.Model(&tracking.PageView{}).Where("site_id = ?", siteID).Count(&counts.PageViews).Error; err != nil {
		return counts, queryError("lifetime_page_views", err)
	}
	if err := db.Model(&tracking.Event{}).Where("site_id = ?", siteID).Count(&counts.Events).Error; err != nil {
		return counts, queryError("lifetime_events", err)
	}
	if err := db.Model(&tracking.Visitor{}).Where("site_id = ?", siteID).Count(&counts.Visitors).Error; err != nil {
		return counts, queryError("lifetime_visitors", err)
	}
	return counts, nil
}

// SnapshotFor loads the snapshot for an exact date.
func (s *GormStore) SnapshotFor(ctx context.Context, siteID, date string) (*DailySnapshot, error) {
	var snapshot DailySnapshot
	err := s.db(ctx).Where("site_id = ? AND date = ?", siteID, date).First(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, queryError("snapshot_for_date", err)
	}
	return &snapshot, nil
}

// UpsertSnapshot inserts or overwrites the (site, date) row and bumps its version.
func (s *GormStore) UpsertSnapshot(ctx context.Context, snapshot *DailySnapshot) error {
	now := time.Now().UTC()
	err := sqlite.PerformWrite(s.logger, s.db(ctx), func(tx *gorm.DB) error {
		return tx.Exec(`
            INSERT INTO daily_snapshots (
                site_id, date, page_views, unique_visitors, sessions,
                avg_session_duration, bounce_rate, events_count, window_days,
                version, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
            ON CONFLICT(site_id, date) DO UPDATE SET
                page_views = excluded.page_views,
                unique_visitors = excluded.unique_visitors,
                sessions = excluded.sessions,
                avg_session_duration = excluded.avg_session_duration,
                bounce_rate = excluded.bounce_rate,
                events_count = excluded.events_count,
                window_days = excluded.window_days,
                version = daily_snapshots.version + 1,
                updated_at = excluded.updated_at
        `,
			snapshot.SiteID, snapshot.Date, snapshot.PageViews, snapshot.UniqueVisitors, snapshot.Sessions,
			snapshot.AvgSessionDuration, snapshot.BounceRate, snapshot.EventsCount, snapshot.WindowDays,
			now, now,
		).Error
	})
	return queryError("upsert_daily_snapshot", err)
}
