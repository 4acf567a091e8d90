// Package aggregation answers (metric_type, date_range) report requests using
// the cheapest available correct source: external provider, cached result,
// or a first-party computation over the raw event tables. Both branches fill
// the same typed shapes so consumers are source-agnostic.
package aggregation

import (
	"fmt"
	"time"
)

// Metric types accepted by the aggregation endpoint.
const (
	MetricVisitors    = "visitors"
	MetricOverview    = "overview"
	MetricPages       = "pages"
	MetricTraffic     = "traffic"
	MetricGeo         = "geo"
	MetricRealtime    = "realtime"
	MetricEvents      = "events"
	MetricConversions = "conversions"
	MetricPerformance = "performance"
	MetricSEO         = "seo"
	MetricInsights    = "generate_insights"
)

// ValidMetricType reports whether the aggregation endpoint serves this type.
func ValidMetricType(metricType string) bool {
	switch metricType {
	case MetricVisitors, MetricOverview, MetricPages, MetricTraffic, MetricGeo,
		MetricRealtime, MetricEvents, MetricConversions, MetricPerformance,
		MetricSEO, MetricInsights:
		return true
	}
	return false
}

// DateRange is a canonical relative reporting window.
type DateRange string

const (
	RangeToday  DateRange = "today"
	Range7Days  DateRange = "7d"
	Range30Days DateRange = "30d"
	Range90Days DateRange = "90d"
)

// ParseDateRange canonicalizes the accepted range aliases. An empty value
// defaults to the 7-day window.
func ParseDateRange(raw string) (DateRange, error) {
	switch raw {
	case "today":
		return RangeToday, nil
	case "", "7d", "7days":
		return Range7Days, nil
	case "30d", "30days":
		return Range30Days, nil
	case "90d":
		return Range90Days, nil
	}
	return "", fmt.Errorf("unknown date range: %s", raw)
}

// Start returns the lower bound of the window relative to now. The reference
// behavior for "today" uses now itself, and that is preserved.
func (r DateRange) Start(now time.Time) time.Time {
	switch r {
	case RangeToday:
		return now
	case Range30Days:
		return now.AddDate(0, 0, -30)
	case Range90Days:
		return now.AddDate(0, 0, -90)
	default:
		return now.AddDate(0, 0, -7)
	}
}

// DeviceBreakdown splits visitor counts by device class.
type DeviceBreakdown struct {
	Mobile  int `json:"mobile"`
	Desktop int `json:"desktop"`
	Tablet  int `json:"tablet"`
}

// VisitorSummary is one row in the visitors report listing.
type VisitorSummary struct {
	DeviceType string `json:"device_type"`
	Browser    string `json:"browser"`
	Country    string `json:"country"`
	VisitCount int    `json:"visit_count"`
	LastSeenAt string `json:"last_seen_at"`
}

// VisitorsReport is the normalized shape for metric_type "visitors".
type VisitorsReport struct {
	Total           int              `json:"total"`
	New             int              `json:"new"`
	Returning       int              `json:"returning"`
	DeviceBreakdown DeviceBreakdown  `json:"deviceBreakdown"`
	Browsers        map[string]int   `json:"browsers"`
	Visitors        []VisitorSummary `json:"visitors"`
}

// OverviewReport is the normalized shape for metric_type "overview".
// BounceRate is an integer percentage rendered as a string.
type OverviewReport struct {
	AvgSessionDuration int    `json:"avgSessionDuration"`
	AvgScrollDepth     int    `json:"avgScrollDepth"`
	BounceRate         string `json:"bounceRate"`
}

// PageStats is one per-path rollup in the pages report.
type PageStats struct {
	PagePath  string `json:"page_path"`
	Views     int    `json:"views"`
	AvgTime   int    `json:"avg_time"`
	AvgScroll int    `json:"avg_scroll"`
}

// PagesReport is the normalized shape for metric_type "pages",
// sorted descending by views.
type PagesReport struct {
	TotalPages int         `json:"totalPages"`
	TotalViews int         `json:"totalViews"`
	TopPage    string      `json:"topPage"`
	Pages      []PageStats `json:"pages"`
}

// TrafficSource is one attribution bucket in the traffic report.
type TrafficSource struct {
	Name       string `json:"name"`
	Sessions   int    `json:"sessions"`
	Percentage int    `json:"percentage"`
}

// TrafficReport is the normalized shape for metric_type "traffic".
type TrafficReport struct {
	TotalSessions    int             `json:"totalSessions"`
	Sources          []TrafficSource `json:"sources"`
	DirectPercentage int             `json:"directPercentage"`
}

// GeoCountry is one country bucket in the geo report.
type GeoCountry struct {
	Name       string `json:"name"`
	Users      int    `json:"users"`
	Percentage int    `json:"percentage"`
}

// GeoCity is one city bucket in the geo report.
type GeoCity struct {
	Name  string `json:"name"`
	Users int    `json:"users"`
}

// GeoReport is the normalized shape for metric_type "geo".
type GeoReport struct {
	TotalVisitors int          `json:"totalVisitors"`
	Countries     []GeoCountry `json:"countries"`
	Cities        []GeoCity    `json:"cities"`
	UniqueCities  int          `json:"uniqueCities"`
	TopCountry    string       `json:"topCountry"`
	TopCity       string       `json:"topCity"`
}

// ActiveSessionSummary is one live session row in the realtime report.
type ActiveSessionSummary struct {
	SessionID      uint   `json:"session_id"`
	EntryPage      string `json:"entry_page"`
	CurrentPage    string `json:"current_page"`
	PageCount      int    `json:"page_count"`
	LastActivityAt string `json:"last_activity_at"`
}

// RecentViewSummary is one recent page view row in the realtime report.
type RecentViewSummary struct {
	Path     string `json:"path"`
	Title    string `json:"title"`
	ViewedAt string `json:"viewed_at"`
}

// RealtimeReport is the normalized shape for metric_type "realtime".
type RealtimeReport struct {
	ActiveUsers    int                    `json:"activeUsers"`
	ActiveSessions []ActiveSessionSummary `json:"activeSessions"`
	RecentViews    []RecentViewSummary    `json:"recentViews"`
}

// EventRollup is one per-type count in the events report.
type EventRollup struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// RecentEventSummary is one raw event row in the events report.
type RecentEventSummary struct {
	EventType   string `json:"event_type"`
	PagePath    string `json:"page_path"`
	ElementText string `json:"element_text"`
	CreatedAt   string `json:"created_at"`
}

// EventsReport is the normalized shape for metric_type "events".
type EventsReport struct {
	TotalEvents  int                  `json:"totalEvents"`
	Events       []EventRollup        `json:"events"`
	RecentEvents []RecentEventSummary `json:"recentEvents"`
}

// ConversionsReport is the normalized shape for metric_type "conversions".
// totalConversions counts only whatsapp clicks and form submits.
type ConversionsReport struct {
	TotalConversions int           `json:"totalConversions"`
	WhatsappClicks   int           `json:"whatsappClicks"`
	FormSubmits      int           `json:"formSubmits"`
	FilmPlays        int           `json:"filmPlays"`
	GalleryOpens     int           `json:"galleryOpens"`
	ConversionRate   string        `json:"conversionRate"`
	Events           []EventRollup `json:"events"`
}

// PerformancePage is one per-path rollup in the performance report.
type PerformancePage struct {
	PagePath    string  `json:"page_path"`
	AvgLoadTime float64 `json:"avg_load_time"`
	Samples     int     `json:"samples"`
}

// PerformanceReport is the normalized shape for metric_type "performance".
// Scores come from PageSpeed audits when available, zero otherwise.
type PerformanceReport struct {
	AvgLoadTime    float64           `json:"avgLoadTime"`
	MobileScore    int               `json:"mobileScore"`
	DesktopScore   int               `json:"desktopScore"`
	SlowPagesCount int               `json:"slowPagesCount"`
	Pages          []PerformancePage `json:"pages"`
}

// SEOOverview summarizes search performance across all keywords.
// AvgPosition is impression-weighted, not a simple mean.
type SEOOverview struct {
	TotalClicks      int     `json:"totalClicks"`
	TotalImpressions int     `json:"totalImpressions"`
	AvgCTR           float64 `json:"avgCTR"`
	AvgPosition      float64 `json:"avgPosition"`
}

// SEOKeywordStat is one keyword row in the seo report.
type SEOKeywordStat struct {
	Keyword     string  `json:"keyword"`
	Clicks      int     `json:"clicks"`
	Impressions int     `json:"impressions"`
	CTR         float64 `json:"ctr"`
	Position    float64 `json:"position"`
	PageURL     string  `json:"page_url"`
}

// SEOPageStat is one page row in the seo report. Position is
// impression-weighted across the page's keywords.
type SEOPageStat struct {
	PageURL     string  `json:"page_url"`
	Clicks      int     `json:"clicks"`
	Impressions int     `json:"impressions"`
	Position    float64 `json:"position"`
	Indexed     bool    `json:"indexed"`
	Status      string  `json:"status"`
}

// SEOTrendPoint is one time-bucketed datapoint in the seo report trend.
type SEOTrendPoint struct {
	Date        string `json:"date"`
	Clicks      int    `json:"clicks"`
	Impressions int    `json:"impressions"`
}

// SEOReport is the normalized shape for metric_type "seo".
type SEOReport struct {
	Overview SEOOverview      `json:"overview"`
	Keywords []SEOKeywordStat `json:"keywords"`
	Pages    []SEOPageStat    `json:"pages"`
	Trend    []SEOTrendPoint  `json:"trend"`
}

// EmptyVisitorsReport returns the valid all-zero shape for a fresh deployment.
func EmptyVisitorsReport() *VisitorsReport {
	return &VisitorsReport{
		Browsers: map[string]int{},
		Visitors: []VisitorSummary{},
	}
}

// EmptyGeoReport returns the valid all-zero geo shape.
func EmptyGeoReport() *GeoReport {
	return &GeoReport{
		Countries: []GeoCountry{},
		Cities:    []GeoCity{},
	}
}

// EmptySEOReport returns the valid all-zero seo shape.
func EmptySEOReport() *SEOReport {
	return &SEOReport{
		Keywords: []SEOKeywordStat{},
		Pages:    []SEOPageStat{},
		Trend:    []SEOTrendPoint{},
	}
}
