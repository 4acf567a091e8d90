package aggregation_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"studiometrics/internal/aggregation"
	"studiometrics/internal/events"
	"studiometrics/internal/insights"
	"studiometrics/internal/testsupport"
)

func setupService(t *testing.T, provider aggregation.Provider) (*aggregation.Service, *gorm.DB) {
	t.Helper()
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)
	generator := insights.NewGenerator(dbManager, logger)
	return aggregation.NewService(dbManager, logger, provider, generator), db
}

func aggregate(t *testing.T, service *aggregation.Service, metricType, dateRange string, out interface{}) {
	t.Helper()
	payload, err := service.Aggregate(context.Background(), metricType, dateRange)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(payload, out))
}

func TestAggregateValidation(t *testing.T) {
	service, _ := setupService(t, nil)

	_, err := service.Aggregate(context.Background(), "revenue", "7d")
	assert.Error(t, err)

	_, err = service.Aggregate(context.Background(), aggregation.MetricPages, "yesterday")
	assert.Error(t, err)
}

func TestAggregateOverview(t *testing.T) {
	t.Run("no data yields the zero shape", func(t *testing.T) {
		service, _ := setupService(t, nil)

		var report aggregation.OverviewReport
		aggregate(t, service, aggregation.MetricOverview, "today", &report)
		assert.Equal(t, 0, report.AvgSessionDuration)
		assert.Equal(t, 0, report.AvgScrollDepth)
		assert.Equal(t, "0", report.BounceRate)
	})

	t.Run("bounce rate counts single-page sessions", func(t *testing.T) {
		service, db := setupService(t, nil)

		now := time.Now().UTC()
		for _, pageCount := range []int{1, 1, 2, 3, 1} {
			testsupport.CreateTestSession(t, db, 1, pageCount, 60, now)
		}

		var report aggregation.OverviewReport
		aggregate(t, service, aggregation.MetricOverview, "7d", &report)
		assert.Equal(t, "60", report.BounceRate)
		assert.Equal(t, 60, report.AvgSessionDuration)
	})
}

func TestAggregatePages(t *testing.T) {
	service, db := setupService(t, nil)

	now := time.Now().UTC()
	testsupport.CreateTestPageView(t, db, 1, 1, "/films", 70, 60, now)
	testsupport.CreateTestPageView(t, db, 1, 1, "/films", 90, 70, now)
	testsupport.CreateTestPageView(t, db, 2, 2, "/about", 30, 40, now)

	var report aggregation.PagesReport
	aggregate(t, service, aggregation.MetricPages, "7d", &report)

	assert.Equal(t, 2, report.TotalPages)
	assert.Equal(t, 3, report.TotalViews)
	assert.Equal(t, "/films", report.TopPage)
	require.Len(t, report.Pages, 2)
	assert.Equal(t, "/films", report.Pages[0].PagePath)
	assert.Equal(t, 2, report.Pages[0].Views)
	assert.Equal(t, 80, report.Pages[0].AvgTime)
	assert.Equal(t, 65, report.Pages[0].AvgScroll)
}

func TestAggregateVisitors(t *testing.T) {
	service, db := setupService(t, nil)

	now := time.Now().UTC()
	testsupport.CreateTestVisitor(t, db, "fp-mobile", "mobile", "Safari", now)
	testsupport.CreateTestVisitor(t, db, "fp-desktop", "desktop", "Chrome", now)

	returning := testsupport.CreateTestVisitor(t, db, "fp-returning", "desktop", "Firefox", now)
	require.NoError(t, db.Model(&events.Visitor{}).Where("id = ?", returning.ID).
		Update("first_seen_at", now.AddDate(0, 0, -60)).Error)

	var report aggregation.VisitorsReport
	aggregate(t, service, aggregation.MetricVisitors, "30d", &report)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.New)
	assert.Equal(t, 1, report.Returning)
	assert.Equal(t, 1, report.DeviceBreakdown.Mobile)
	assert.Equal(t, 2, report.DeviceBreakdown.Desktop)
	assert.Equal(t, 1, report.Browsers["Safari"])
	assert.Len(t, report.Visitors, 3)
}

func TestAggregateTraffic(t *testing.T) {
	service, db := setupService(t, nil)

	now := time.Now().UTC()
	testsupport.CreateTestSession(t, db, 1, 1, 10, now)
	testsupport.CreateTestSession(t, db, 2, 1, 10, now)
	utm := testsupport.CreateTestSession(t, db, 3, 1, 10, now)
	require.NoError(t, db.Model(&events.Session{}).Where("id = ?", utm.ID).
		Update("utm_source", "newsletter").Error)
	search := testsupport.CreateTestSession(t, db, 4, 1, 10, now)
	require.NoError(t, db.Model(&events.Session{}).Where("id = ?", search.ID).
		Update("referrer", "https://google.com/search").Error)

	var report aggregation.TrafficReport
	aggregate(t, service, aggregation.MetricTraffic, "7d", &report)

	assert.Equal(t, 4, report.TotalSessions)
	assert.Equal(t, 50, report.DirectPercentage)
	require.Len(t, report.Sources, 3)
	assert.Equal(t, aggregation.TrafficSource{Name: "Direct", Sessions: 2, Percentage: 50}, report.Sources[0])
	assert.Equal(t, aggregation.TrafficSource{Name: "google.com", Sessions: 1, Percentage: 25}, report.Sources[1])
	assert.Equal(t, aggregation.TrafficSource{Name: "newsletter", Sessions: 1, Percentage: 25}, report.Sources[2])
}

func TestAggregateConversions(t *testing.T) {
	service, db := setupService(t, nil)

	now := time.Now().UTC()
	for i := 0; i < 10; i++ {
		testsupport.CreateTestSession(t, db, uint(i+1), 2, 30, now)
	}
	testsupport.CreateTestClickEvent(t, db, 1, 1, events.EventWhatsappClick, now)
	testsupport.CreateTestClickEvent(t, db, 2, 2, events.EventWhatsappClick, now)
	testsupport.CreateTestClickEvent(t, db, 3, 3, events.EventFormSubmit, now)
	testsupport.CreateTestClickEvent(t, db, 4, 4, events.EventFilmPlay, now)

	var report aggregation.ConversionsReport
	aggregate(t, service, aggregation.MetricConversions, "7d", &report)

	assert.Equal(t, 3, report.TotalConversions)
	assert.Equal(t, 2, report.WhatsappClicks)
	assert.Equal(t, 1, report.FormSubmits)
	assert.Equal(t, 1, report.FilmPlays)
	assert.Equal(t, 0, report.GalleryOpens)
	assert.Equal(t, "30", report.ConversionRate)
}

func TestAggregatePerformance(t *testing.T) {
	service, db := setupService(t, nil)

	now := time.Now().UTC()
	for _, m := range []events.RumMetric{
		{MetricType: events.MetricLCP, Value: 2.0, PagePath: "/films", CreatedAt: now},
		{MetricType: events.MetricLCP, Value: 4.0, PagePath: "/films", CreatedAt: now},
		{MetricType: events.MetricLCP, Value: 5.0, PagePath: "/gallery", CreatedAt: now},
		{MetricType: events.MetricCLS, Value: 0.3, PagePath: "/films", CreatedAt: now},
	} {
		m := m
		require.NoError(t, db.Create(&m).Error)
	}

	var report aggregation.PerformanceReport
	aggregate(t, service, aggregation.MetricPerformance, "7d", &report)

	assert.InDelta(t, 3.67, report.AvgLoadTime, 0.001)
	assert.Equal(t, 1, report.SlowPagesCount)
	require.Len(t, report.Pages, 2)
	assert.Equal(t, "/gallery", report.Pages[0].PagePath)
	assert.InDelta(t, 5.0, report.Pages[0].AvgLoadTime, 0.001)
	assert.Equal(t, 2, report.Pages[1].Samples)
}

func TestAggregateSEO(t *testing.T) {
	service, db := setupService(t, nil)

	now := time.Now().UTC()
	for _, row := range []aggregation.SEOKeywordRow{
		{DateRange: "7d", Keyword: "wedding films", Clicks: 10, Impressions: 1000, CTR: 1.0, Position: 5, FetchedAt: now},
		{DateRange: "7d", Keyword: "event videography", Clicks: 5, Impressions: 500, CTR: 1.0, Position: 10, FetchedAt: now},
	} {
		row := row
		require.NoError(t, db.Create(&row).Error)
	}

	var report aggregation.SEOReport
	aggregate(t, service, aggregation.MetricSEO, "7d", &report)

	assert.Equal(t, 15, report.Overview.TotalClicks)
	assert.Equal(t, 1500, report.Overview.TotalImpressions)
	assert.InDelta(t, 1.0, report.Overview.AvgCTR, 0.001)
	// Impression-weighted: (5*1000 + 10*500) / 1500.
	assert.InDelta(t, 6.7, report.Overview.AvgPosition, 0.001)
	require.Len(t, report.Keywords, 2)
	assert.Equal(t, "wedding films", report.Keywords[0].Keyword)
}

func TestAggregateGeoFallback(t *testing.T) {
	service, _ := setupService(t, nil)

	var report aggregation.GeoReport
	aggregate(t, service, aggregation.MetricGeo, "7d", &report)
	assert.Zero(t, report.TotalVisitors)
	assert.Empty(t, report.Countries)
	assert.Empty(t, report.Cities)
}

func TestAggregateRealtime(t *testing.T) {
	service, db := setupService(t, nil)

	// More active sessions than the listing cap: the listing is bounded, the
	// user count is not.
	now := time.Now().UTC()
	for i := 0; i < 60; i++ {
		testsupport.CreateTestSession(t, db, uint(i+1), 1, 30, now)
	}

	var report aggregation.RealtimeReport
	aggregate(t, service, aggregation.MetricRealtime, "7d", &report)

	assert.Equal(t, 60, report.ActiveUsers)
	assert.Len(t, report.ActiveSessions, 50)
}

func TestAggregateCachePrecedence(t *testing.T) {
	t.Run("stored payload is returned byte for byte", func(t *testing.T) {
		service, db := setupService(t, nil)

		sentinel := `{"totalPages":99,"sentinel":true}`
		require.NoError(t, db.Create(&aggregation.AnalyticsCache{
			MetricType: aggregation.MetricPages,
			DateRange:  "7d",
			Payload:    sentinel,
			FetchedAt:  time.Now().UTC(),
		}).Error)

		payload, err := service.Aggregate(context.Background(), aggregation.MetricPages, "7d")
		require.NoError(t, err)
		assert.Equal(t, sentinel, string(payload))
	})

	t.Run("computed result is cached for the next request", func(t *testing.T) {
		service, db := setupService(t, nil)

		var report aggregation.PagesReport
		aggregate(t, service, aggregation.MetricPages, "30d", &report)

		var cached aggregation.AnalyticsCache
		require.NoError(t, db.Where("metric_type = ? AND date_range = ?",
			aggregation.MetricPages, "30d").First(&cached).Error)

		payload, err := service.Aggregate(context.Background(), aggregation.MetricPages, "30d")
		require.NoError(t, err)
		assert.Equal(t, cached.Payload, string(payload))
	})

	t.Run("realtime is never cached", func(t *testing.T) {
		service, db := setupService(t, nil)

		var report aggregation.RealtimeReport
		aggregate(t, service, aggregation.MetricRealtime, "7d", &report)

		var count int64
		require.NoError(t, db.Model(&aggregation.AnalyticsCache{}).
			Where("metric_type = ?", aggregation.MetricRealtime).Count(&count).Error)
		assert.Zero(t, count)
	})
}

// failingProvider claims full credentials but errors on every call, exercising
// the fallback path.
type failingProvider struct{}

func (failingProvider) HasAnalytics() bool     { return true }
func (failingProvider) HasSearchConsole() bool { return true }
func (failingProvider) HasPageSpeed() bool     { return true }

func (failingProvider) Visitors(context.Context, aggregation.DateRange) (*aggregation.VisitorsReport, error) {
	return nil, fmt.Errorf("upstream unavailable")
}
func (failingProvider) Overview(context.Context, aggregation.DateRange) (*aggregation.OverviewReport, error) {
	return nil, fmt.Errorf("upstream unavailable")
}
func (failingProvider) Pages(context.Context, aggregation.DateRange) (*aggregation.PagesReport, error) {
	return nil, fmt.Errorf("upstream unavailable")
}
func (failingProvider) Traffic(context.Context, aggregation.DateRange) (*aggregation.TrafficReport, error) {
	return nil, fmt.Errorf("upstream unavailable")
}
func (failingProvider) Geo(context.Context, aggregation.DateRange) (*aggregation.GeoReport, error) {
	return nil, fmt.Errorf("upstream unavailable")
}
func (failingProvider) Realtime(context.Context) (*aggregation.RealtimeReport, error) {
	return nil, fmt.Errorf("upstream unavailable")
}
func (failingProvider) Events(context.Context, aggregation.DateRange) (*aggregation.EventsReport, error) {
	return nil, fmt.Errorf("upstream unavailable")
}
func (failingProvider) Conversions(context.Context, aggregation.DateRange) (*aggregation.ConversionsReport, error) {
	return nil, fmt.Errorf("upstream unavailable")
}
func (failingProvider) Performance(context.Context, aggregation.DateRange) (*aggregation.PerformanceReport, error) {
	return nil, fmt.Errorf("upstream unavailable")
}
func (failingProvider) SEO(context.Context, aggregation.DateRange) (*aggregation.SEOReport, error) {
	return nil, fmt.Errorf("upstream unavailable")
}

func TestAggregateFallsBackOnExternalFailure(t *testing.T) {
	service, db := setupService(t, failingProvider{})

	now := time.Now().UTC()
	testsupport.CreateTestPageView(t, db, 1, 1, "/films", 80, 65, now)

	var report aggregation.PagesReport
	aggregate(t, service, aggregation.MetricPages, "7d", &report)
	assert.Equal(t, 1, report.TotalViews)
	assert.Equal(t, "/films", report.TopPage)
}

// stubProvider returns a fixed SEO report so the persistence side-effects of a
// successful external fetch can be observed.
type stubProvider struct {
	failingProvider
	seo *aggregation.SEOReport
}

func (p stubProvider) SEO(context.Context, aggregation.DateRange) (*aggregation.SEOReport, error) {
	return p.seo, nil
}

func TestAggregateSEOExternalSuccessPersistsBreakdown(t *testing.T) {
	report := aggregation.EmptySEOReport()
	report.Overview = aggregation.SEOOverview{TotalClicks: 12, TotalImpressions: 900, AvgCTR: 1.33, AvgPosition: 4.2}
	report.Keywords = append(report.Keywords, aggregation.SEOKeywordStat{
		Keyword: "wedding films", Clicks: 12, Impressions: 900, CTR: 1.33, Position: 4.2, PageURL: "https://example.com/films",
	})
	report.Pages = append(report.Pages, aggregation.SEOPageStat{
		PageURL: "https://example.com/films", Clicks: 12, Impressions: 900, Position: 4.2, Indexed: true, Status: "indexed",
	})

	service, db := setupService(t, stubProvider{seo: report})

	payload, err := service.Aggregate(context.Background(), aggregation.MetricSEO, "7d")
	require.NoError(t, err)

	var decoded aggregation.SEOReport
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, 12, decoded.Overview.TotalClicks)

	var keywordCount, pageCount, cacheCount int64
	require.NoError(t, db.Model(&aggregation.SEOKeywordRow{}).Where("date_range = ?", "7d").Count(&keywordCount).Error)
	require.NoError(t, db.Model(&aggregation.SEOPageRow{}).Where("date_range = ?", "7d").Count(&pageCount).Error)
	require.NoError(t, db.Model(&aggregation.SEOCache{}).Count(&cacheCount).Error)
	assert.Equal(t, int64(1), keywordCount)
	assert.Equal(t, int64(1), pageCount)
	assert.Equal(t, int64(1), cacheCount)

	// A second fetch replaces the breakdown instead of appending.
	_, err = service.Aggregate(context.Background(), aggregation.MetricSEO, "7d")
	require.NoError(t, err)
	require.NoError(t, db.Model(&aggregation.SEOKeywordRow{}).Where("date_range = ?", "7d").Count(&keywordCount).Error)
	assert.Equal(t, int64(1), keywordCount)
}

func TestAggregateGenerateInsights(t *testing.T) {
	service, _ := setupService(t, nil)

	payload, err := service.Aggregate(context.Background(), aggregation.MetricInsights, "")
	require.NoError(t, err)

	var result insights.Result
	require.NoError(t, json.Unmarshal(payload, &result))
	assert.Zero(t, result.InsightsGenerated)
	assert.Empty(t, result.Details)
}
