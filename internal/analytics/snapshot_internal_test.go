package analytics

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pulseboard/internal/tracking"
)

// slowStore records the maximum number of overlapping upserts per key.
type slowStore struct {
	mu      sync.Mutex
	active  map[string]int
	overlap int
	writes  int
}

func (s *slowStore) PageViewsSince(context.Context, string, time.Time) ([]tracking.PageView, error) {
	return nil, nil
}

func (s *slowStore) EventsSince(context.Context, string, time.Time) ([]tracking.Event, error) {
	return nil, nil
}

func (s *slowStore) VisitorsBySessionIDs(context.Context, string, []string) ([]tracking.Visitor, error) {
	return nil, nil
}

func (s *slowStore) LifetimeCounts(context.Context, string) (LifetimeCounts, error) {
	return LifetimeCounts{}, nil
}

func (s *slowStore) SnapshotFor(context.Context, string, string) (*DailySnapshot, error) {
	return nil, nil
}

func (s *slowStore) UpsertSnapshot(_ context.Context, snapshot *DailySnapshot) error {
	key := snapshot.SiteID + "|" + snapshot.Date
	s.mu.Lock()
	s.active[key]++
	if s.active[key] > s.overlap {
		s.overlap = s.active[key]
	}
	s.mu.Unlock()

	time.Sleep(time.Millisecond)

	s.mu.Lock()
	s.active[key]--
	s.writes++
	s.mu.Unlock()
	return nil
}

func TestSnapshotWriter_SerializesPerKey(t *testing.T) {
	store := &slowStore{active: make(map[string]int)}
	writer := NewSnapshotWriter(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			site := "a"
			if i%2 == 0 {
				site = "b"
			}
			assert.NoError(t, writer.Write(context.Background(), DailySnapshot{SiteID: site, Date: "2026-03-15", WindowDays: i}))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, store.overlap)
	assert.Equal(t, 20, store.writes)
	assert.Zero(t, writer.pendingLocks(), "released locks are dropped")
}
