package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"pulseboard/internal/config"
	"pulseboard/internal/pkg/async"
	"pulseboard/internal/tracking"
)

// ErrMissingSite is returned when a report is requested without a site id.
var ErrMissingSite = errors.New("siteId is required")

// Report is the dashboard payload for one site and window.
type Report struct {
	Days               int                 `json:"days"`
	PageViews          int                 `json:"pageViews"`
	UniqueVisitors     int                 `json:"uniqueVisitors"`
	Sessions           int                 `json:"sessions"`
	AvgSessionDuration int                 `json:"avgSessionDuration"`
	BounceRate         int                 `json:"bounceRate"`
	EventsCount        int                 `json:"eventsCount"`
	EventOnlySessions  int                 `json:"eventOnlySessions"`
	TopPages           []PageCount         `json:"topPages"`
	TrafficSources     map[string]int      `json:"trafficSources"`
	TopReferrers       []ReferrerCount     `json:"topReferrers"`
	GeographicData     []CountryCount      `json:"geographicData"`
	PercentageChanges  PercentageChanges   `json:"percentageChanges"`
	RecentPageViews    []tracking.PageView `json:"recentPageViews"`
	RecentEvents       []tracking.Event    `json:"recentEvents"`
	Visitors           []tracking.Visitor  `json:"visitors"`
	HasEverBeenTracked bool                `json:"hasEverBeenTracked"`
	LastUpdated        time.Time           `json:"lastUpdated"`
}

// Options tune report assembly.
type Options struct {
	// SnapshotMode is config.SnapshotModeDaily or config.SnapshotModeWindow.
	SnapshotMode       string
	MaxSessionDuration time.Duration
	RecentSampleLimit  int
	TopNLimit          int
	MaxReportDays      int
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		SnapshotMode:       config.SnapshotModeDaily,
		MaxSessionDuration: DefaultMaxSessionDuration,
		RecentSampleLimit:  50,
		TopNLimit:          10,
		MaxReportDays:      365,
	}
}

// OptionsFromConfig reads report options from the application configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SnapshotMode:       cfg.SnapshotMode,
		MaxSessionDuration: time.Duration(cfg.MaxSessionDurationSeconds) * time.Second,
		RecentSampleLimit:  cfg.RecentSampleLimit,
		TopNLimit:          cfg.TopNLimit,
		MaxReportDays:      cfg.MaxReportDays,
	}
}

// Aggregator assembles reports. It keeps no per-site state between calls;
// the only shared state is the snapshot writer's key locks.
type Aggregator struct {
	store         Store
	logger        *slog.Logger
	pool          *async.Pool
	reconstructor *Reconstructor
	snapshots     *SnapshotWriter
	opts          Options
	now           func() time.Time
}

// AggregatorOption customizes an Aggregator.
type AggregatorOption func(*Aggregator)

// WithNow overrides the clock.
func WithNow(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

// WithPool overrides the worker pool used for concurrent reads.
func WithPool(pool *async.Pool) AggregatorOption {
	return func(a *Aggregator) { a.pool = pool }
}

// NewAggregator creates an Aggregator. snapshots may be shared between aggregators over the same store.
func NewAggregator(store Store, snapshots *SnapshotWriter, logger *slog.Logger, opts Options, options ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		store:     store,
		logger:    logger,
		pool:      async.NewPool(4),
		snapshots: snapshots,
		opts:      opts,
		now:       time.Now,
	}
	for _, o := range options {
		o(a)
	}
	if a.snapshots == nil {
		a.snapshots = NewSnapshotWriter(store, logger)
	}
	if a.opts.MaxReportDays <= 0 {
		a.opts.MaxReportDays = DefaultOptions().MaxReportDays
	}
	a.reconstructor = NewReconstructor(store, logger, a.pool)
	return a
}

// Report computes the site's report over the trailing days window and
// upserts today's snapshot once every read has completed.
func (a *Aggregator) Report(ctx context.Context, siteID string, days int) (*Report, error) {
	siteID = strings.TrimSpace(siteID)
	if siteID == "" {
		return nil, ErrMissingSite
	}
	if err := ValidateWindow(days, a.opts.MaxReportDays); err != nil {
		return nil, err
	}

	now := a.now().UTC()
	yesterday := SnapshotDate(now.AddDate(0, 0, -1))
	separateSnapshotWindow := a.opts.SnapshotMode != config.SnapshotModeWindow && days != 1

	tasks := []async.Task{
		{Name: "window", Execute: func(ctx context.Context) (interface{}, error) {
			return a.reconstructor.Reconstruct(ctx, siteID, days, now)
		}},
		{Name: "lifetime", Execute: func(ctx context.Context) (interface{}, error) {
			return a.store.LifetimeCounts(ctx, siteID)
		}},
		{Name: "previous_snapshot", Execute: func(ctx context.Context) (interface{}, error) {
			return a.store.SnapshotFor(ctx, siteID, yesterday)
		}},
	}
	if separateSnapshotWindow {
		tasks = append(tasks, async.Task{Name: "snapshot_window", Execute: func(ctx context.Context) (interface{}, error) {
			return a.reconstructor.Reconstruct(ctx, siteID, 1, now)
		}})
	}

	results := a.pool.Execute(ctx, tasks)
	for _, task := range tasks {
		if err := results[task.Name].Err; err != nil {
			a.logger.Error("Failed to compute report",
				slog.String("site_id", siteID),
				slog.Int("days", days),
				slog.String("step", task.Name),
				slog.String("query", QueryName(err)),
				slog.Any("error", err))
			return nil, fmt.Errorf("%s: %w", task.Name, err)
		}
	}

	set := results["window"].Data.(*SessionSet)
	lifetime := results["lifetime"].Data.(LifetimeCounts)
	previous, _ := results["previous_snapshot"].Data.(*DailySnapshot)

	metrics := ComputeMetrics(set, a.opts.MaxSessionDuration)

	snapshotMetrics := metrics
	if separateSnapshotWindow {
		daySet := results["snapshot_window"].Data.(*SessionSet)
		snapshotMetrics = ComputeMetrics(daySet, a.opts.MaxSessionDuration)
	}
	current := SnapshotFromMetrics(siteID, now, snapshotMetrics)

	report := &Report{
		Days:               days,
		PageViews:          metrics.PageViews,
		UniqueVisitors:     metrics.UniqueVisitors,
		Sessions:           metrics.Sessions,
		AvgSessionDuration: metrics.AvgSessionDuration,
		BounceRate:         metrics.BounceRate,
		EventsCount:        metrics.EventsCount,
		EventOnlySessions:  metrics.EventOnlySessions,
		TopPages:           TopPages(set.PageViews, a.opts.TopNLimit),
		TrafficSources:     TrafficSources(set.PageViews, set.Visitors),
		TopReferrers:       TopReferrers(set.PageViews, a.opts.TopNLimit),
		GeographicData:     Geography(set.Visitors, a.opts.TopNLimit),
		PercentageChanges:  ComparePercentageChanges(current, previous),
		RecentPageViews:    recentPageViews(set.PageViews, a.opts.RecentSampleLimit),
		RecentEvents:       recentEvents(set.Events, a.opts.RecentSampleLimit),
		Visitors:           recentVisitors(set.Visitors, a.opts.RecentSampleLimit),
		HasEverBeenTracked: lifetime.PageViews > 0 || lifetime.Events > 0 || lifetime.Visitors > 0,
		LastUpdated:        now,
	}

	// Best effort: the report is returned even if the baseline cannot be stored.
	_ = a.snapshots.Write(ctx, current)

	return report, nil
}

func recentPageViews(rows []tracking.PageView, limit int) []tracking.PageView {
	sorted := append([]tracking.PageView(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ViewedAt.After(sorted[j].ViewedAt)
	})
	return nonNil(truncate(sorted, limit))
}

func recentEvents(rows []tracking.Event, limit int) []tracking.Event {
	sorted := append([]tracking.Event(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OccurredAt.After(sorted[j].OccurredAt)
	})
	return nonNil(truncate(sorted, limit))
}

func recentVisitors(rows []tracking.Visitor, limit int) []tracking.Visitor {
	sorted := append([]tracking.Visitor(nil), rows...)
	sortVisitorsByLastVisit(sorted)
	return nonNil(truncate(sorted, limit))
}

// nonNil keeps empty samples serialized as [] rather than null.
func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}
