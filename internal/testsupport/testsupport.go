package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pulseboard/internal"
	"pulseboard/internal/config"
	"pulseboard/internal/database"
	"pulseboard/internal/tracking"
)

func init() {
	// Tests must never touch a development or production database.
	if os.Getenv("PULSEBOARD_ENV") == "" {
		os.Setenv("PULSEBOARD_ENV", config.Test)
	}
}

// testDBCache caches test databases by root test name so helpers called from
// subtests share the parent's database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

var _ cartridge.DBManager = (*TestDBManager)(nil)

// SetupTestDB creates an in-memory database with every model migrated.
// Uses a named in-memory database with cache=shared so concurrent
// connections within a test see the same data.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", rootName, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA busy_timeout = 5000")

	if err := db.AutoMigrate(database.AllModels()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager creates a test DB manager using cartridge's testsupport
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	cfg := config.GetConfig()
	if cfg.Environment != config.Test {
		t.Fatalf("CRITICAL: Tests must run in test environment! Current: %s. Set PULSEBOARD_ENV=test", cfg.Environment)
	}

	db := SetupTestDB(t)
	return NewTestDBManager(db), GetLogger()
}

// CleanAllTables clears every table
func CleanAllTables(db *gorm.DB) {
	var tableNames []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tableNames)

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tableNames {
			tx.Exec("DELETE FROM " + table)
		}
		return nil
	})
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// PageViewOption customizes a seeded page view.
type PageViewOption func(*tracking.PageView)

// WithReferrer sets the page view's referrer.
func WithReferrer(referrer string) PageViewOption {
	return func(pv *tracking.PageView) { pv.Referrer = referrer }
}

// WithUTMSource sets the page view's utm_source.
func WithUTMSource(source string) PageViewOption {
	return func(pv *tracking.PageView) { pv.UTMSource = source }
}

// CreatePageView inserts a page view row directly.
func CreatePageView(t *testing.T, db *gorm.DB, siteID, sessionID, pageURL string, viewedAt time.Time, opts ...PageViewOption) tracking.PageView {
	t.Helper()
	pv := tracking.PageView{
		SiteID:     siteID,
		SessionID:  sessionID,
		PageURL:    pageURL,
		DeviceType: "desktop",
		Browser:    "chrome",
		ViewedAt:   viewedAt.UTC(),
	}
	for _, opt := range opts {
		opt(&pv)
	}
	require.NoError(t, db.Create(&pv).Error)
	return pv
}

// CreateEvent inserts an event row directly.
func CreateEvent(t *testing.T, db *gorm.DB, siteID, sessionID, eventType string, occurredAt time.Time) tracking.Event {
	t.Helper()
	ev := tracking.Event{
		SiteID:     siteID,
		SessionID:  sessionID,
		EventType:  eventType,
		OccurredAt: occurredAt.UTC(),
	}
	require.NoError(t, db.Create(&ev).Error)
	return ev
}

// CreateVisitor inserts a visitor row directly. country may be empty for unknown.
func CreateVisitor(t *testing.T, db *gorm.DB, siteID, sessionID, country string, firstVisit, lastVisit time.Time) tracking.Visitor {
	t.Helper()
	v := tracking.Visitor{
		SiteID:     siteID,
		SessionID:  sessionID,
		DeviceType: "desktop",
		Browser:    "chrome",
		FirstVisit: firstVisit.UTC(),
		LastVisit:  lastVisit.UTC(),
	}
	if country != "" {
		code := country
		v.CountryCode = &code
	}
	require.NoError(t, db.Create(&v).Error)
	return v
}

// CreateSession inserts a visitor and one page view per timestamp.
func CreateSession(t *testing.T, db *gorm.DB, siteID, sessionID, pageURL string, hits ...time.Time) {
	t.Helper()
	require.NotEmpty(t, hits, "a session needs at least one hit")

	first, last := hits[0], hits[0]
	for _, h := range hits {
		if h.Before(first) {
			first = h
		}
		if h.After(last) {
			last = h
		}
	}
	CreateVisitor(t, db, siteID, sessionID, "", first, last)
	for _, h := range hits {
		CreatePageView(t, db, siteID, sessionID, pageURL, h)
	}
}

// CreateMinimalTestApp creates a test Fiber app with all routes
func CreateMinimalTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()

	dbManager := NewTestDBManager(db)
	appConfig := config.GetConfig()
	appConfig.Environment = config.Test

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = dbManager
	cfg.EnableSecFetchSite = false

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	internal.MountAppRoutes(srv)
	return srv.App()
}
