// Package testsupport provides shared helpers for package tests: an
// in-memory sqlite database with the full schema and seed builders for the
// raw event tables.
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
	"github.com/karloscodes/cartridge/cache"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"studiometrics/internal"
	"studiometrics/internal/aggregation"
	"studiometrics/internal/config"
	"studiometrics/internal/events"
	"studiometrics/internal/insights"
)

// testDBCache caches test databases by root test name so setup helpers
// called from subtests share one database.
var (
	testDBCache   = make(map[string]*gorm.DB)
	testDBCacheMu sync.Mutex
)

// TestDBManager wraps cartridge's TestDBManager.
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager.
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

var _ cartridge.DBManager = (*TestDBManager)(nil)

func allModels() []any {
	return []any{
		&cache.CacheRecord{},
		&events.Visitor{},
		&events.Session{},
		&events.PageView{},
		&events.ClickEvent{},
		&events.RumMetric{},
		&events.ReplayChunk{},
		&aggregation.AnalyticsCache{},
		&aggregation.SEOCache{},
		&aggregation.SEOKeywordRow{},
		&aggregation.SEOPageRow{},
		&insights.DecisionInsight{},
	}
}

// SetupTestDB creates a migrated test database. It uses a named in-memory
// database with cache=shared so multiple connections within one test see the
// same data, cached by root test name.
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

	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	if err := db.AutoMigrate(allModels()...); err != nil {
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

// SetupTestDBManager creates a test DB manager and logger.
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	cfg := config.GetConfig()
	if cfg.Environment != config.Test {
		t.Fatalf("CRITICAL: Tests must run in test environment! Current: %s. Set STUDIOMETRICS_ENV=test", cfg.Environment)
	}

	db := SetupTestDB(t)
	return NewTestDBManager(db), GetLogger()
}

// CleanAllTables clears all non-system tables in the database.
func CleanAllTables(db *gorm.DB) {
	var tableNames []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tableNames)

	var tables []string
	for _, name := range tableNames {
		if name != "migrations" && name != "schema_migrations" {
			tables = append(tables, name)
		}
	}
	if len(tables) == 0 {
		return
	}

	db.Exec("PRAGMA foreign_keys = OFF")
	defer db.Exec("PRAGMA foreign_keys = ON")

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// GetLogger returns a test logger that only surfaces errors.
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// CreateMinimalTestApp creates a test Fiber app with all routes mounted and
// the external provider disabled.
func CreateMinimalTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()

	dbManager := NewTestDBManager(db)
	appConfig := config.GetConfig()
	appConfig.Environment = config.Test

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = dbManager
	// Handler tests issue plain requests without browser Sec-Fetch-Site
	// headers, so the strict CSRF middleware must stay off here.
	cfg.EnableSecFetchSite = false

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	generator := insights.NewGenerator(dbManager, GetLogger())
	service := aggregation.NewService(dbManager, GetLogger(), nil, generator)
	internal.MountRoutes(service)(srv)
	return srv.App()
}

// CreateTestVisitor seeds one visitor row.
func CreateTestVisitor(t *testing.T, db *gorm.DB, fingerprint, deviceType, browser string, seenAt time.Time) events.Visitor {
	t.Helper()
	visitor := events.Visitor{
		Fingerprint: fingerprint,
		DeviceType:  deviceType,
		Browser:     browser,
		FirstSeenAt: seenAt,
		LastSeenAt:  seenAt,
		VisitCount:  1,
	}
	require.NoError(t, db.Create(&visitor).Error)
	return visitor
}

// CreateTestSession seeds one session row.
func CreateTestSession(t *testing.T, db *gorm.DB, visitorID uint, pageCount, duration int, startedAt time.Time) events.Session {
	t.Helper()
	session := events.Session{
		VisitorID:      visitorID,
		StartedAt:      startedAt,
		LastActivityAt: startedAt,
		EntryPage:      "/",
		ExitPage:       "/",
		PageCount:      pageCount,
		Duration:       duration,
		Active:         true,
		CreatedAt:      startedAt,
	}
	require.NoError(t, db.Create(&session).Error)
	return session
}

// CreateTestPageView seeds one page view row.
func CreateTestPageView(t *testing.T, db *gorm.DB, sessionID, visitorID uint, path string, timeOnPage, scrollDepth int, viewedAt time.Time) events.PageView {
	t.Helper()
	view := events.PageView{
		SessionID:   sessionID,
		VisitorID:   visitorID,
		Path:        path,
		TimeOnPage:  timeOnPage,
		ScrollDepth: scrollDepth,
		ViewedAt:    viewedAt,
	}
	require.NoError(t, db.Create(&view).Error)
	return view
}

// CreateTestClickEvent seeds one click event row.
func CreateTestClickEvent(t *testing.T, db *gorm.DB, sessionID, visitorID uint, eventType string, createdAt time.Time) events.ClickEvent {
	t.Helper()
	event := events.ClickEvent{
		SessionID: sessionID,
		VisitorID: visitorID,
		PagePath:  "/",
		EventType: eventType,
		Metadata:  "{}",
		CreatedAt: createdAt,
	}
	require.NoError(t, db.Create(&event).Error)
	return event
}
