package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"pulseboard/internal/pkg/async"
	"pulseboard/internal/tracking"
)

// ErrInvalidWindow is returned for a window length outside the accepted range.
var ErrInvalidWindow = errors.New("invalid window")

// integritySampleSize bounds how many ids an integrity warning lists.
const integritySampleSize = 5

// ValidateWindow checks days against 1..maxDays.
func ValidateWindow(days, maxDays int) error {
	if days < 1 || days > maxDays {
		return fmt.Errorf("%w: days must be between 1 and %d, got %d", ErrInvalidWindow, maxDays, days)
	}
	return nil
}

// Activity is the first and last in-window hit of a session across page views and events.
type Activity struct {
	Earliest time.Time
	Latest   time.Time
}

// Duration is Latest minus Earliest.
func (a Activity) Duration() time.Duration {
	return a.Latest.Sub(a.Earliest)
}

// SessionSet is a site's activity inside a trailing window.
type SessionSet struct {
	SiteID      string
	Days        int
	WindowStart time.Time
	Now         time.Time

	// ActiveSessionIDs is sorted for deterministic iteration.
	ActiveSessionIDs []string
	Activity         map[string]Activity
	Visitors         []tracking.Visitor
	PageViews        []tracking.PageView
	Events           []tracking.Event
}

// IsActive reports whether the session had in-window activity.
func (s *SessionSet) IsActive(sessionID string) bool {
	_, ok := s.Activity[sessionID]
	return ok
}

// Reconstructor builds SessionSets from a Store.
type Reconstructor struct {
	store  Store
	logger *slog.Logger
	pool   *async.Pool
}

// NewReconstructor creates a Reconstructor. pool runs the raw row reads concurrently.
func NewReconstructor(store Store, logger *slog.Logger, pool *async.Pool) *Reconstructor {
	if pool == nil {
		pool = async.NewPool(2)
	}
	return &Reconstructor{store: store, logger: logger, pool: pool}
}

// Reconstruct determines the sessions active in the trailing days window ending at now.
// Visitor rows are selected by in-window activity, never by first_visit, so a
// session that began before the window is still counted. Any store failure
// aborts the reconstruction.
func (r *Reconstructor) Reconstruct(ctx context.Context, siteID string, days int, now time.Time) (*SessionSet, error) {
	now = now.UTC()
	windowStart := now.Add(-time.Duration(days) * 24 * time.Hour)

	results := r.pool.Execute(ctx, []async.Task{
		{Name: "page_views", Execute: func(ctx context.Context) (interface{}, error) {
			return r.store.PageViewsSince(ctx, siteID, windowStart)
		}},
		{Name: "events", Execute: func(ctx context.Context) (interface{}, error) {
			return r.store.EventsSince(ctx, siteID, windowStart)
		}},
	})
	for _, name := range []string{"page_views", "events"} {
		if err := results[name].Err; err != nil {
			return nil, fmt.Errorf("fetch %s: %w", name, err)
		}
	}
	pageViews, _ := results["page_views"].Data.([]tracking.PageView)
	events, _ := results["events"].Data.([]tracking.Event)

	activity := make(map[string]Activity)
	observe := func(sessionID string, ts time.Time) {
		a, ok := activity[sessionID]
		if !ok {
			activity[sessionID] = Activity{Earliest: ts, Latest: ts}
			return
		}
		if ts.Before(a.Earliest) {
			a.Earliest = ts
		}
		if ts.After(a.Latest) {
			a.Latest = ts
		}
		activity[sessionID] = a
	}
	for _, pv := range pageViews {
		observe(pv.SessionID, pv.ViewedAt)
	}
	for _, ev := range events {
		observe(ev.SessionID, ev.OccurredAt)
	}

	activeIDs := make([]string, 0, len(activity))
	for id := range activity {
		activeIDs = append(activeIDs, id)
	}
	sort.Strings(activeIDs)

	var visitors []tracking.Visitor
	if len(activeIDs) > 0 {
		var err error
		visitors, err = r.store.VisitorsBySessionIDs(ctx, siteID, activeIDs)
		if err != nil {
			return nil, fmt.Errorf("fetch visitors: %w", err)
		}
	}

	set := &SessionSet{
		SiteID:           siteID,
		Days:             days,
		WindowStart:      windowStart,
		Now:              now,
		ActiveSessionIDs: activeIDs,
		Activity:         activity,
		Visitors:         visitors,
		PageViews:        pageViews,
		Events:           events,
	}
	r.checkIntegrity(set)
	return set, nil
}

// IntegrityReport lists anomalies found in a SessionSet.
type IntegrityReport struct {
	OrphanedPageViews []string
	OrphanedEvents    []string
	InactiveVisitors  []string
}

// CheckIntegrity finds rows whose session has no visitor record and visitor
// records without in-window activity. It never alters the set.
func CheckIntegrity(set *SessionSet) IntegrityReport {
	known := make(map[string]struct{}, len(set.Visitors))
	for _, v := range set.Visitors {
		known[v.SessionID] = struct{}{}
	}

	var report IntegrityReport
	for _, pv := range set.PageViews {
		if _, ok := known[pv.SessionID]; !ok {
			report.OrphanedPageViews = append(report.OrphanedPageViews, pv.SessionID)
		}
	}
	for _, ev := range set.Events {
		if _, ok := known[ev.SessionID]; !ok {
			report.OrphanedEvents = append(report.OrphanedEvents, ev.SessionID)
		}
	}
	for _, v := range set.Visitors {
		if !set.IsActive(v.SessionID) {
			report.InactiveVisitors = append(report.InactiveVisitors, v.SessionID)
		}
	}
	return report
}

func (r *Reconstructor) checkIntegrity(set *SessionSet) {
	report := CheckIntegrity(set)
	warn := func(msg string, ids []string) {
		if len(ids) == 0 {
			return
		}
		r.logger.Warn(msg,
			slog.String("site_id", set.SiteID),
			slog.Int("days", set.Days),
			slog.Int("count", len(ids)),
			slog.Any("sample_session_ids", sampleIDs(ids)))
	}
	warn("Orphaned page views: session has no visitor row", report.OrphanedPageViews)
	warn("Orphaned events: session has no visitor row", report.OrphanedEvents)
	warn("Inactive sessions included in visitor rows", report.InactiveVisitors)
}

func sampleIDs(ids []string) []string {
	seen := make(map[string]struct{})
	var sample []string
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		sample = append(sample, id)
		if len(sample) == integritySampleSize {
			break
		}
	}
	return sample
}

func sortVisitorsByLastVisit(visitors []tracking.Visitor) {
	sort.SliceStable(visitors, func(i, j int) bool {
		if !visitors[i].LastVisit.Equal(visitors[j].LastVisit) {
			return visitors[i].LastVisit.After(visitors[j].LastVisit)
		}
		return visitors[i].ID > visitors[j].ID
	})
}
