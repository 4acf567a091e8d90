package insights_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"studiometrics/internal/aggregation"
	"studiometrics/internal/insights"
	"studiometrics/internal/testsupport"
)

func setupGenerator(t *testing.T) (*insights.Generator, *gorm.DB) {
	t.Helper()
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)
	return insights.NewGenerator(dbManager, logger), db
}

func seedMobileHeavyTraffic(t *testing.T, db *gorm.DB, mobileScore int) {
	t.Helper()
	now := time.Now().UTC()
	testsupport.CreateTestVisitor(t, db, "fp-m1", "mobile", "Safari", now)
	testsupport.CreateTestVisitor(t, db, "fp-m2", "mobile", "Chrome", now)
	testsupport.CreateTestVisitor(t, db, "fp-m3", "mobile", "Safari", now)
	testsupport.CreateTestVisitor(t, db, "fp-d1", "desktop", "Chrome", now)
	testsupport.CreateTestVisitor(t, db, "fp-d2", "desktop", "Firefox", now)

	require.NoError(t, db.Create(&aggregation.AnalyticsCache{
		MetricType: aggregation.MetricPerformance,
		DateRange:  "7d",
		Payload:    fmt.Sprintf(`{"avgLoadTime":3.4,"mobileScore":%d,"desktopScore":80}`, mobileScore),
		FetchedAt:  now,
	}).Error)
}

func TestGeneratorMobileExperienceRule(t *testing.T) {
	t.Run("fires on mobile-heavy traffic with a poor score", func(t *testing.T) {
		generator, db := setupGenerator(t)
		seedMobileHeavyTraffic(t, db, 45)

		result, err := generator.Run()
		require.NoError(t, err)
		require.Equal(t, 1, result.InsightsGenerated)
		assert.Equal(t, "mobile_experience", result.Details[0].Type)
		assert.Equal(t, insights.PriorityHigh, result.Details[0].Priority)
	})

	t.Run("silent when the score is acceptable", func(t *testing.T) {
		generator, db := setupGenerator(t)
		seedMobileHeavyTraffic(t, db, 75)

		result, err := generator.Run()
		require.NoError(t, err)
		assert.Zero(t, result.InsightsGenerated)
	})

	t.Run("silent without a recorded performance score", func(t *testing.T) {
		generator, db := setupGenerator(t)
		now := time.Now().UTC()
		testsupport.CreateTestVisitor(t, db, "fp-m1", "mobile", "Safari", now)
		testsupport.CreateTestVisitor(t, db, "fp-m2", "mobile", "Safari", now)

		result, err := generator.Run()
		require.NoError(t, err)
		assert.Zero(t, result.InsightsGenerated)
	})
}

func TestGeneratorSEOOpportunityRule(t *testing.T) {
	generator, db := setupGenerator(t)
	now := time.Now().UTC()

	for _, row := range []aggregation.SEOKeywordRow{
		// Flagged: high impressions, weak click-through.
		{DateRange: "30d", Keyword: "wedding films madrid", Clicks: 6, Impressions: 800, CTR: 0.8, Position: 12, FetchedAt: now},
		// Not flagged: too few impressions.
		{DateRange: "30d", Keyword: "event videography", Clicks: 2, Impressions: 400, CTR: 0.5, Position: 15, FetchedAt: now},
		// Not flagged: healthy click-through.
		{DateRange: "30d", Keyword: "studio portfolio", Clicks: 30, Impressions: 900, CTR: 3.3, Position: 4, FetchedAt: now},
	} {
		row := row
		require.NoError(t, db.Create(&row).Error)
	}

	result, err := generator.Run()
	require.NoError(t, err)
	require.Equal(t, 1, result.InsightsGenerated)
	assert.Equal(t, "seo_opportunity", result.Details[0].Type)
	assert.Equal(t, insights.PriorityMedium, result.Details[0].Priority)
	assert.Contains(t, result.Details[0].Title, "wedding films madrid")
}

func TestGeneratorDeduplication(t *testing.T) {
	generator, db := setupGenerator(t)
	seedMobileHeavyTraffic(t, db, 45)

	first, err := generator.Run()
	require.NoError(t, err)
	require.Equal(t, 1, first.InsightsGenerated)

	second, err := generator.Run()
	require.NoError(t, err)
	assert.Zero(t, second.InsightsGenerated)

	var count int64
	require.NoError(t, db.Model(&insights.DecisionInsight{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGeneratorRegeneratesAfterStatusChange(t *testing.T) {
	generator, db := setupGenerator(t)
	seedMobileHeavyTraffic(t, db, 45)

	first, err := generator.Run()
	require.NoError(t, err)
	require.Equal(t, 1, first.InsightsGenerated)

	var insight insights.DecisionInsight
	require.NoError(t, db.First(&insight).Error)
	require.NoError(t, generator.UpdateStatus(insight.ID, insights.StatusViewed))

	// The open-insight check only considers status new, so a viewed insight
	// no longer suppresses regeneration.
	second, err := generator.Run()
	require.NoError(t, err)
	assert.Equal(t, 1, second.InsightsGenerated)
}

func TestUpdateStatus(t *testing.T) {
	generator, db := setupGenerator(t)
	seedMobileHeavyTraffic(t, db, 45)

	_, err := generator.Run()
	require.NoError(t, err)

	var insight insights.DecisionInsight
	require.NoError(t, db.First(&insight).Error)

	assert.Error(t, generator.UpdateStatus(insight.ID, "archived"))
	require.NoError(t, generator.UpdateStatus(insight.ID, insights.StatusApplied))

	require.NoError(t, db.First(&insight, insight.ID).Error)
	assert.Equal(t, insights.StatusApplied, insight.Status)
}
