package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SnapshotDateLayout is the calendar date format used as the snapshot key.
const SnapshotDateLayout = "2006-01-02"

// DailySnapshot is one site's metric baseline for a UTC calendar day.
type DailySnapshot struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	SiteID             string    `gorm:"uniqueIndex:idx_daily_snapshots_site_date;size:128;not null" json:"site_id"`
	Date               string    `gorm:"uniqueIndex:idx_daily_snapshots_site_date;size:10;not null" json:"date"`
	PageViews          int       `gorm:"not null;default:0" json:"page_views"`
	UniqueVisitors     int       `gorm:"not null;default:0" json:"unique_visitors"`
	Sessions           int       `gorm:"not null;default:0" json:"sessions"`
	AvgSessionDuration int       `gorm:"not null;default:0" json:"avg_session_duration"`
	BounceRate         int       `gorm:"not null;default:0" json:"bounce_rate"`
	EventsCount        int       `gorm:"not null;default:0" json:"events_count"`
	WindowDays         int       `gorm:"not null;default:1" json:"window_days"`
	Version            int       `gorm:"not null;default:1" json:"version"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// SnapshotDate formats t as a snapshot key in UTC.
func SnapshotDate(t time.Time) string {
	return t.UTC().Format(SnapshotDateLayout)
}

// SnapshotFromMetrics builds the row persisted for a day.
func SnapshotFromMetrics(siteID string, day time.Time, m Metrics) DailySnapshot {
	return DailySnapshot{
		SiteID:             siteID,
		Date:               SnapshotDate(day),
		PageViews:          m.PageViews,
		UniqueVisitors:     m.UniqueVisitors,
		Sessions:           m.Sessions,
		AvgSessionDuration: m.AvgSessionDuration,
		BounceRate:         m.BounceRate,
		EventsCount:        m.EventsCount,
		WindowDays:         m.WindowDays,
	}
}

// SnapshotWriter serializes upserts per (site, date). Writers for different
// keys proceed in parallel.
type SnapshotWriter struct {
	store  Store
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewSnapshotWriter creates a writer over store.
func NewSnapshotWriter(store Store, logger *slog.Logger) *SnapshotWriter {
	return &SnapshotWriter{
		store:  store,
		logger: logger,
		locks:  make(map[string]*keyLock),
	}
}

// Write upserts the snapshot. Failures are logged and returned; report
// assembly ignores them.
func (w *SnapshotWriter) Write(ctx context.Context, snapshot DailySnapshot) error {
	key := snapshot.SiteID + "|" + snapshot.Date
	unlock := w.lock(key)
	defer unlock()

	if err := w.store.UpsertSnapshot(ctx, &snapshot); err != nil {
		w.logger.Error("Failed to write daily snapshot",
			slog.String("site_id", snapshot.SiteID),
			slog.String("date", snapshot.Date),
			slog.String("query", QueryName(err)),
			slog.Any("error", err))
		return err
	}

	w.logger.Debug("Daily snapshot written",
		slog.String("site_id", snapshot.SiteID),
		slog.String("date", snapshot.Date),
		slog.Int("window_days", snapshot.WindowDays))
	return nil
}

func (w *SnapshotWriter) lock(key string) func() {
	w.mu.Lock()
	l, ok := w.locks[key]
	if !ok {
		l = &keyLock{}
		w.locks[key] = l
	}
	l.refs++
	w.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		w.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(w.locks, key)
		}
		w.mu.Unlock()
	}
}

// pendingLocks reports how many keys currently hold or await a lock.
func (w *SnapshotWriter) pendingLocks() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.locks)
}
