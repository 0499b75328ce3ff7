package analytics_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"pulseboard/internal/analytics"
	"pulseboard/internal/tracking"
)

var errStoreDown = errors.New("store unavailable")

// memStore is an in-memory analytics.Store with per-query failure injection.
type memStore struct {
	mu        sync.Mutex
	pageViews []tracking.PageView
	events    []tracking.Event
	visitors  []tracking.Visitor
	snapshots map[string]analytics.DailySnapshot
	failOn    map[string]bool
	upserts   int
}

func newMemStore() *memStore {
	return &memStore{
		snapshots: make(map[string]analytics.DailySnapshot),
		failOn:    make(map[string]bool),
	}
}

func (s *memStore) fail(query string) error {
	if s.failOn[query] {
		return &analytics.QueryError{Query: query, Err: errStoreDown}
	}
	return nil
}

func (s *memStore) addPageView(siteID, sessionID, pageURL string, at time.Time) {
	s.pageViews = append(s.pageViews, tracking.PageView{
		ID:        uint(len(s.pageViews) + 1),
		SiteID:    siteID,
		SessionID: sessionID,
		PageURL:   pageURL,
		ViewedAt:  at,
	})
}

func (s *memStore) addEvent(siteID, sessionID, eventType string, at time.Time) {
	s.events = append(s.events, tracking.Event{
		ID:         uint(len(s.events) + 1),
		SiteID:     siteID,
		SessionID:  sessionID,
		EventType:  eventType,
		OccurredAt: at,
	})
}

func (s *memStore) addVisitor(siteID, sessionID string, first, last time.Time) {
	s.visitors = append(s.visitors, tracking.Visitor{
		ID:         uint(len(s.visitors) + 1),
		SiteID:     siteID,
		SessionID:  sessionID,
		FirstVisit: first,
		LastVisit:  last,
	})
}

func (s *memStore) PageViewsSince(_ context.Context, siteID string, since time.Time) ([]tracking.PageView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("page_views_since"); err != nil {
		return nil, err
	}
	var rows []tracking.PageView
	for _, pv := range s.pageViews {
		if pv.SiteID == siteID && !pv.ViewedAt.Before(since) {
			rows = append(rows, pv)
		}
	}
	return rows, nil
}

func (s *memStore) EventsSince(_ context.Context, siteID string, since time.Time) ([]tracking.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("events_since"); err != nil {
		return nil, err
	}
	var rows []tracking.Event
	for _, ev := range s.events {
		if ev.SiteID == siteID && !ev.OccurredAt.Before(since) {
			rows = append(rows, ev)
		}
	}
	return rows, nil
}

func (s *memStore) VisitorsBySessionIDs(_ context.Context, siteID string, sessionIDs []string) ([]tracking.Visitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("visitors_by_session_ids"); err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(sessionIDs))
	for _, id := range sessionIDs {
		wanted[id] = true
	}
	var rows []tracking.Visitor
	for _, v := range s.visitors {
		if v.SiteID == siteID && wanted[v.SessionID] {
			rows = append(rows, v)
		}
	}
	return rows, nil
}

func (s *memStore) LifetimeCounts(_ context.Context, siteID string) (analytics.LifetimeCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var counts analytics.LifetimeCounts
	if err := s.fail("lifetime_page_views"); err != nil {
		return counts, err
	}
	for _, pv := range s.pageViews {
		if pv.SiteID == siteID {
			counts.PageViews++
		}
	}
	for _, ev := range s.events {
		if ev.SiteID == siteID {
			counts.Events++
		}
	}
	for _, v := range s.visitors {
		if v.SiteID == siteID {
			counts.Visitors++
		}
	}
	return counts, nil
}

func (s *memStore) SnapshotFor(_ context.Context, siteID, date string) (*analytics.DailySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("snapshot_for_date"); err != nil {
		return nil, err
	}
	snapshot, ok := s.snapshots[siteID+"|"+date]
	if !ok {
		return nil, nil
	}
	return &snapshot, nil
}

func (s *memStore) UpsertSnapshot(_ context.Context, snapshot *analytics.DailySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("upsert_daily_snapshot"); err != nil {
		return err
	}
	s.upserts++
	key := snapshot.SiteID + "|" + snapshot.Date
	stored := *snapshot
	stored.Version = s.snapshots[key].Version + 1
	s.snapshots[key] = stored
	return nil
}
