package tracking_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulseboard/internal/testsupport"
	"pulseboard/internal/tracking"
)

func TestPurge(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	cutoff := now.AddDate(0, 0, -30)

	testsupport.CreateSession(t, db, "site", "stale", "/", now.AddDate(0, 0, -40))
	testsupport.CreateEvent(t, db, "site", "stale", "click", now.AddDate(0, 0, -40))

	// Long-running session: old page view, recent activity keeps the visitor.
	testsupport.CreateVisitor(t, db, "site", "live", "", now.AddDate(0, 0, -45), now.Add(-time.Hour))
	testsupport.CreatePageView(t, db, "site", "live", "/", now.AddDate(0, 0, -45))
	testsupport.CreatePageView(t, db, "site", "live", "/", now.Add(-time.Hour))

	result, err := tracking.Purge(context.Background(), dbManager, logger, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.PageViews)
	assert.Equal(t, int64(1), result.Events)
	assert.Equal(t, int64(1), result.Visitors)
	assert.Equal(t, int64(4), result.Total())

	var remaining []tracking.Visitor
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, "live", remaining[0].SessionID)

	var pageViews int64
	db.Model(&tracking.PageView{}).Count(&pageViews)
	assert.Equal(t, int64(1), pageViews)
}

func TestPurge_CancelledContext(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tracking.Purge(ctx, dbManager, logger, time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}
