package aggregation

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"studiometrics/internal/config"
	"studiometrics/internal/events"
	"studiometrics/internal/pkg/async"
)

// The internal branch computes every shape with read-only aggregations over
// the raw event tables, filtered by created_at/viewed_at >= rangeStart.

// Caps for the embedded listings. Totals and counts always cover the full
// range; only the row listings are bounded.
const (
	visitorListLimit    = 50
	activeSessionsLimit = 50
	recentViewsLimit    = 20
	recentEventsLimit   = 50
)

func roundPercent(part, total int64) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}

func intMean(sum, count int64) int {
	if count == 0 {
		return 0
	}
	return int(math.Round(float64(sum) / float64(count)))
}

func computeVisitors(db *gorm.DB, dateRange DateRange) (*VisitorsReport, error) {
	rangeStart := dateRange.Start(time.Now().UTC())
	report := EmptyVisitorsReport()

	var visitors []events.Visitor
	if err := db.Where("last_seen_at >= ?", rangeStart).
		Order("last_seen_at DESC").Find(&visitors).Error; err != nil {
		return nil, fmt.Errorf("failed to load visitors: %w", err)
	}

	report.Total = len(visitors)
	for _, v := range visitors {
		if !v.FirstSeenAt.Before(rangeStart) {
			report.New++
		}
		switch v.DeviceType {
		case "mobile":
			report.DeviceBreakdown.Mobile++
		case "tablet":
			report.DeviceBreakdown.Tablet++
		default:
			report.DeviceBreakdown.Desktop++
		}
		if v.Browser != "" {
			report.Browsers[v.Browser]++
		}
		if len(report.Visitors) < visitorListLimit {
			report.Visitors = append(report.Visitors, VisitorSummary{
				DeviceType: v.DeviceType,
				Browser:    v.Browser,
				Country:    v.Country,
				VisitCount: v.VisitCount,
				LastSeenAt: v.LastSeenAt.Format(time.RFC3339),
			})
		}
	}

	// Floor at zero: a racing revisit can make new exceed total.
	report.Returning = report.Total - report.New
	if report.Returning < 0 {
		report.Returning = 0
	}
	return report, nil
}

func computeOverview(db *gorm.DB, dateRange DateRange) (*OverviewReport, error) {
	rangeStart := dateRange.Start(time.Now().UTC())

	pool := async.NewPool(3)
	results := pool.Execute(context.Background(), []async.Task{
		{Name: "duration", Execute: func() (interface{}, error) {
			var row struct {
				Sum   int64
				Count int64
			}
			err := db.Model(&events.Session{}).
				Select("COALESCE(SUM(duration),0) AS sum, COUNT(*) AS count").
				Where("started_at >= ?", rangeStart).
				Scan(&row).Error
			return row, err
		}},
		{Name: "scroll", Execute: func() (interface{}, error) {
			var row struct {
				Sum   int64
				Count int64
			}
			err := db.Model(&events.PageView{}).
				Select("COALESCE(SUM(scroll_depth),0) AS sum, COUNT(*) AS count").
				Where("viewed_at >= ?", rangeStart).
				Scan(&row).Error
			return row, err
		}},
		{Name: "bounces", Execute: func() (interface{}, error) {
			var row struct {
				Bounced int64
				Total   int64
			}
			err := db.Model(&events.Session{}).
				Select("COALESCE(SUM(CASE WHEN page_count <= 1 THEN 1 ELSE 0 END),0) AS bounced, COUNT(*) AS total").
				Where("started_at >= ?", rangeStart).
				Scan(&row).Error
			return row, err
		}},
	})

	for name, result := range results {
		if result.Err != nil {
			return nil, fmt.Errorf("overview %s query failed: %w", name, result.Err)
		}
	}

	report := &OverviewReport{BounceRate: "0"}
	if r, ok := results["duration"].Data.(struct {
		Sum   int64
		Count int64
	}); ok {
		report.AvgSessionDuration = intMean(r.Sum, r.Count)
	}
	if r, ok := results["scroll"].Data.(struct {
		Sum   int64
		Count int64
	}); ok {
		report.AvgScrollDepth = intMean(r.Sum, r.Count)
	}
	if r, ok := results["bounces"].Data.(struct {
		Bounced int64
		Total   int64
	}); ok {
		report.BounceRate = fmt.Sprintf("%d", roundPercent(r.Bounced, r.Total))
	}
	return report, nil
}

func computePages(db *gorm.DB, dateRange DateRange) (*PagesReport, error) {
	rangeStart := dateRange.Start(time.Now().UTC())

	var rows []struct {
		Path      string
		Views     int64
		TimeSum   int64
		ScrollSum int64
	}
	err := db.Model(&events.PageView{}).
		Select("path, COUNT(*) AS views, COALESCE(SUM(time_on_page),0) AS time_sum, COALESCE(SUM(scroll_depth),0) AS scroll_sum").
		Where("viewed_at >= ?", rangeStart).
		Group("path").
		Order("views DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate page views: %w", err)
	}

	report := &PagesReport{Pages: make([]PageStats, 0, len(rows))}
	for _, row := range rows {
		report.TotalViews += int(row.Views)
		report.Pages = append(report.Pages, PageStats{
			PagePath:  row.Path,
			Views:     int(row.Views),
			AvgTime:   intMean(row.TimeSum, row.Views),
			AvgScroll: intMean(row.ScrollSum, row.Views),
		})
	}
	report.TotalPages = len(report.Pages)
	if len(report.Pages) > 0 {
		report.TopPage = report.Pages[0].PagePath
	}
	return report, nil
}

// resolveTrafficSource maps a session's attribution fields to a source name.
// Order: UTM source, then Direct for missing or same-origin referrers, then
// the referrer hostname, then Referral when the referrer does not parse.
func resolveTrafficSource(utmSource, referrer, ownDomain string) string {
	if utmSource != "" {
		return utmSource
	}
	if referrer == "" {
		return "Direct"
	}
	parsed, err := url.Parse(referrer)
	if err != nil || parsed.Hostname() == "" {
		return "Referral"
	}
	host := parsed.Hostname()
	if ownDomain != "" && (host == ownDomain || strings.HasSuffix(host, "."+ownDomain)) {
		return "Direct"
	}
	return host
}

func computeTraffic(db *gorm.DB, dateRange DateRange) (*TrafficReport, error) {
	rangeStart := dateRange.Start(time.Now().UTC())
	ownDomain := config.GetConfig().Domain

	var sessions []events.Session
	err := db.Select("utm_source, referrer").
		Where("started_at >= ?", rangeStart).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	counts := map[string]int{}
	for _, s := range sessions {
		counts[resolveTrafficSource(s.UTMSource, s.Referrer, ownDomain)]++
	}

	report := &TrafficReport{
		TotalSessions: len(sessions),
		Sources:       make([]TrafficSource, 0, len(counts)),
	}
	for name, sessions := range counts {
		report.Sources = append(report.Sources, TrafficSource{
			Name:       name,
			Sessions:   sessions,
			Percentage: roundPercent(int64(sessions), int64(report.TotalSessions)),
		})
	}
	sort.Slice(report.Sources, func(i, j int) bool {
		if report.Sources[i].Sessions != report.Sources[j].Sessions {
			return report.Sources[i].Sessions > report.Sources[j].Sessions
		}
		return report.Sources[i].Name < report.Sources[j].Name
	})
	report.DirectPercentage = roundPercent(int64(counts["Direct"]), int64(report.TotalSessions))
	return report, nil
}

// computeGeo is a deliberate stub: first-party geo aggregation is deferred to
// the provider path, so the fallback returns the valid empty shape.
func computeGeo(_ *gorm.DB, _ DateRange) (*GeoReport, error) {
	return EmptyGeoReport(), nil
}

func computeRealtime(db *gorm.DB, _ DateRange) (*RealtimeReport, error) {
	cutoff := time.Now().UTC().Add(-events.SessionTimeout())

	pool := async.NewPool(3)
	results := pool.Execute(context.Background(), []async.Task{
		{Name: "count", Execute: func() (interface{}, error) {
			return events.ActiveSessionCount(db)
		}},
		{Name: "sessions", Execute: func() (interface{}, error) {
			var sessions []events.Session
			err := db.Where("active = ? AND last_activity_at >= ?", true, cutoff).
				Order("last_activity_at DESC").Limit(activeSessionsLimit).Find(&sessions).Error
			return sessions, err
		}},
		{Name: "views", Execute: func() (interface{}, error) {
			return events.RecentPageViews(db, recentViewsLimit)
		}},
	})
	for name, result := range results {
		if result.Err != nil {
			return nil, fmt.Errorf("realtime %s query failed: %w", name, result.Err)
		}
	}

	report := &RealtimeReport{
		ActiveSessions: make([]ActiveSessionSummary, 0),
		RecentViews:    make([]RecentViewSummary, 0),
	}
	if count, ok := results["count"].Data.(int64); ok {
		report.ActiveUsers = int(count)
	}
	if sessions, ok := results["sessions"].Data.([]events.Session); ok {
		for _, s := range sessions {
			report.ActiveSessions = append(report.ActiveSessions, ActiveSessionSummary{
				SessionID:      s.ID,
				EntryPage:      s.EntryPage,
				CurrentPage:    s.ExitPage,
				PageCount:      s.PageCount,
				LastActivityAt: s.LastActivityAt.Format(time.RFC3339),
			})
		}
	}
	if views, ok := results["views"].Data.([]events.PageView); ok {
		for _, v := range views {
			report.RecentViews = append(report.RecentViews, RecentViewSummary{
				Path:     v.Path,
				Title:    v.Title,
				ViewedAt: v.ViewedAt.Format(time.RFC3339),
			})
		}
	}
	return report, nil
}

func computeEvents(db *gorm.DB, dateRange DateRange) (*EventsReport, error) {
	rangeStart := dateRange.Start(time.Now().UTC())

	var rollups []struct {
		EventType string
		Count     int64
	}
	err := db.Model(&events.ClickEvent{}).
		Select("event_type, COUNT(*) AS count").
		Where("created_at >= ?", rangeStart).
		Group("event_type").
		Order("count DESC").
		Scan(&rollups).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate click events: %w", err)
	}

	report := &EventsReport{
		Events:       make([]EventRollup, 0, len(rollups)),
		RecentEvents: make([]RecentEventSummary, 0),
	}
	for _, r := range rollups {
		report.TotalEvents += int(r.Count)
		report.Events = append(report.Events, EventRollup{Name: r.EventType, Count: int(r.Count)})
	}

	recent, err := events.RecentClickEvents(db, recentEventsLimit)
	if err != nil {
		return nil, err
	}
	for _, e := range recent {
		report.RecentEvents = append(report.RecentEvents, RecentEventSummary{
			EventType:   e.EventType,
			PagePath:    e.PagePath,
			ElementText: e.ElementText,
			CreatedAt:   e.CreatedAt.Format(time.RFC3339),
		})
	}
	return report, nil
}

func computeConversions(db *gorm.DB, dateRange DateRange) (*ConversionsReport, error) {
	rangeStart := dateRange.Start(time.Now().UTC())

	var rollups []struct {
		EventType string
		Count     int64
	}
	err := db.Model(&events.ClickEvent{}).
		Select("event_type, COUNT(*) AS count").
		Where("created_at >= ?", rangeStart).
		Group("event_type").
		Scan(&rollups).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate conversions: %w", err)
	}

	report := &ConversionsReport{
		ConversionRate: "0",
		Events:         make([]EventRollup, 0, len(rollups)),
	}
	for _, r := range rollups {
		count := int(r.Count)
		switch r.EventType {
		case events.EventWhatsappClick:
			report.WhatsappClicks = count
		case events.EventFormSubmit:
			report.FormSubmits = count
		case events.EventFilmPlay:
			report.FilmPlays = count
		case events.EventGalleryOpen:
			report.GalleryOpens = count
		}
		report.Events = append(report.Events, EventRollup{Name: r.EventType, Count: count})
	}
	sort.Slice(report.Events, func(i, j int) bool {
		if report.Events[i].Count != report.Events[j].Count {
			return report.Events[i].Count > report.Events[j].Count
		}
		return report.Events[i].Name < report.Events[j].Name
	})
	report.TotalConversions = report.WhatsappClicks + report.FormSubmits

	var sessionCount int64
	if err := db.Model(&events.Session{}).Where("started_at >= ?", rangeStart).Count(&sessionCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	report.ConversionRate = fmt.Sprintf("%d", roundPercent(int64(report.TotalConversions), sessionCount))
	return report, nil
}

// slowPageThresholdSeconds marks a page slow when its mean LCP exceeds it.
const slowPageThresholdSeconds = 3.0

func computePerformance(db *gorm.DB, dateRange DateRange) (*PerformanceReport, error) {
	rangeStart := dateRange.Start(time.Now().UTC())

	var rows []struct {
		PagePath string
		Sum      float64
		Count    int64
	}
	err := db.Model(&events.RumMetric{}).
		Select("page_path, COALESCE(SUM(value),0) AS sum, COUNT(*) AS count").
		Where("metric_type = ? AND created_at >= ?", events.MetricLCP, rangeStart).
		Group("page_path").
		Order("sum / count DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate performance metrics: %w", err)
	}

	report := &PerformanceReport{Pages: make([]PerformancePage, 0, len(rows))}
	var totalSum float64
	var totalCount int64
	for _, row := range rows {
		avg := 0.0
		if row.Count > 0 {
			avg = math.Round(row.Sum/float64(row.Count)*100) / 100
		}
		if avg > slowPageThresholdSeconds {
			report.SlowPagesCount++
		}
		totalSum += row.Sum
		totalCount += row.Count
		report.Pages = append(report.Pages, PerformancePage{
			PagePath:    row.PagePath,
			AvgLoadTime: avg,
			Samples:     int(row.Count),
		})
	}
	if totalCount > 0 {
		report.AvgLoadTime = math.Round(totalSum/float64(totalCount)*100) / 100
	}
	return report, nil
}

// computeSEO serves the seo shape from breakdown rows persisted by earlier
// external fetches. A fresh deployment returns the empty shape.
func computeSEO(db *gorm.DB, dateRange DateRange) (*SEOReport, error) {
	report := EmptySEOReport()

	var keywords []SEOKeywordRow
	if err := db.Where("date_range = ?", string(dateRange)).
		Order("impressions DESC").Find(&keywords).Error; err != nil {
		return nil, fmt.Errorf("failed to load seo keywords: %w", err)
	}
	var pages []SEOPageRow
	if err := db.Where("date_range = ?", string(dateRange)).
		Order("impressions DESC").Find(&pages).Error; err != nil {
		return nil, fmt.Errorf("failed to load seo pages: %w", err)
	}

	var positionWeighted float64
	for _, kw := range keywords {
		report.Overview.TotalClicks += kw.Clicks
		report.Overview.TotalImpressions += kw.Impressions
		positionWeighted += kw.Position * float64(kw.Impressions)
		report.Keywords = append(report.Keywords, SEOKeywordStat{
			Keyword:     kw.Keyword,
			Clicks:      kw.Clicks,
			Impressions: kw.Impressions,
			CTR:         kw.CTR,
			Position:    kw.Position,
			PageURL:     kw.PageURL,
		})
	}
	if report.Overview.TotalImpressions > 0 {
		report.Overview.AvgCTR = math.Round(float64(report.Overview.TotalClicks)/float64(report.Overview.TotalImpressions)*10000) / 100
		report.Overview.AvgPosition = math.Round(positionWeighted/float64(report.Overview.TotalImpressions)*10) / 10
	}
	for _, page := range pages {
		report.Pages = append(report.Pages, SEOPageStat{
			PageURL:     page.PageURL,
			Clicks:      page.Clicks,
			Impressions: page.Impressions,
			Position:    page.Position,
			Indexed:     page.Indexed,
			Status:      page.Status,
		})
	}
	return report, nil
}
