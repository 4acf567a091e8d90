package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"studiometrics/internal/aggregation"
	"studiometrics/internal/config"
)

const (
	analyticsDataBaseURL = "https://analyticsdata.googleapis.com/v1beta"
	searchConsoleBaseURL = "https://searchconsole.googleapis.com/webmasters/v3"
	pageSpeedEndpoint    = "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"

	requestTimeout = 15 * time.Second
)

// providerRange translates a canonical range into the relative-date
// vocabulary the Analytics Data API accepts.
func providerRange(dateRange aggregation.DateRange) string {
	switch dateRange {
	case aggregation.RangeToday:
		return "today"
	case aggregation.Range30Days:
		return "30daysAgo"
	case aggregation.Range90Days:
		return "90daysAgo"
	default:
		return "7daysAgo"
	}
}

// Client is the aggregation.Provider backed by Google's APIs. All calls
// carry explicit timeouts; callers treat every error as a fallback trigger.
type Client struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpClient *http.Client
	tokens     *TokenSource
	countries  *gountries.Query
}

// NewClient builds the provider from configured credentials. It returns nil
// (not an error) when no service-account key is configured: the absence of
// credentials disables the external branch rather than failing startup.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	httpClient := &http.Client{Timeout: requestTimeout}
	client := &Client{
		cfg:        cfg,
		logger:     logger,
		httpClient: httpClient,
		countries:  gountries.New(),
	}

	if cfg.ServiceAccountEmail != "" && cfg.ServiceAccountKey != "" {
		key, err := ParseRSAPrivateKey(cfg.ServiceAccountKey)
		if err != nil {
			logger.Warn("Service account key is unusable, external analytics disabled",
				slog.Any("error", err))
		} else {
			client.tokens = NewTokenSource(cfg.ServiceAccountEmail, key, httpClient,
				scopeAnalytics, scopeSearchConsole)
		}
	}

	if client.tokens == nil && !cfg.HasPageSpeedCredentials() {
		return nil
	}
	return client
}

func (c *Client) HasAnalytics() bool {
	return c.tokens != nil && c.cfg.GAPropertyID != ""
}

func (c *Client) HasSearchConsole() bool {
	return c.tokens != nil && c.cfg.SearchConsoleSiteURL != ""
}

func (c *Client) HasPageSpeed() bool {
	return c.cfg.HasPageSpeedCredentials() && c.cfg.Domain != ""
}

// --- Analytics Data API ---

type gaRow struct {
	DimensionValues []struct {
		Value string `json:"value"`
	} `json:"dimensionValues"`
	MetricValues []struct {
		Value string `json:"value"`
	} `json:"metricValues"`
}

type gaResponse struct {
	Rows []gaRow `json:"rows"`
}

func (r gaRow) dimension(i int) string {
	if i >= len(r.DimensionValues) {
		return ""
	}
	return r.DimensionValues[i].Value
}

func (r gaRow) metricInt(i int) int {
	if i >= len(r.MetricValues) {
		return 0
	}
	v, _ := strconv.ParseFloat(r.MetricValues[i].Value, 64)
	return int(math.Round(v))
}

func (r gaRow) metricFloat(i int) float64 {
	if i >= len(r.MetricValues) {
		return 0
	}
	v, _ := strconv.ParseFloat(r.MetricValues[i].Value, 64)
	return v
}

func (c *Client) runReport(ctx context.Context, dateRange aggregation.DateRange, dimensions, metrics []string) (*gaResponse, error) {
	type nameRef struct {
		Name string `json:"name"`
	}
	dims := make([]nameRef, 0, len(dimensions))
	for _, d := range dimensions {
		dims = append(dims, nameRef{Name: d})
	}
	mets := make([]nameRef, 0, len(metrics))
	for _, m := range metrics {
		mets = append(mets, nameRef{Name: m})
	}

	body := map[string]interface{}{
		"dateRanges": []map[string]string{{
			"startDate": providerRange(dateRange),
			"endDate":   "today",
		}},
		"metrics": mets,
	}
	if len(dims) > 0 {
		body["dimensions"] = dims
	}

	endpoint := fmt.Sprintf("%s/properties/%s:runReport", analyticsDataBaseURL, c.cfg.GAPropertyID)
	var parsed gaResponse
	if err := c.postJSON(ctx, endpoint, body, &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

func (c *Client) runRealtimeReport(ctx context.Context, metrics []string) (*gaResponse, error) {
	type nameRef struct {
		Name string `json:"name"`
	}
	mets := make([]nameRef, 0, len(metrics))
	for _, m := range metrics {
		mets = append(mets, nameRef{Name: m})
	}

	endpoint := fmt.Sprintf("%s/properties/%s:runRealtimeReport", analyticsDataBaseURL, c.cfg.GAPropertyID)
	var parsed gaResponse
	if err := c.postJSON(ctx, endpoint, map[string]interface{}{"metrics": mets}, &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read provider response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}

// Visitors normalizes a device/browser user report.
func (c *Client) Visitors(ctx context.Context, dateRange aggregation.DateRange) (*aggregation.VisitorsReport, error) {
	resp, err := c.runReport(ctx, dateRange,
		[]string{"deviceCategory", "browser"},
		[]string{"totalUsers", "newUsers"})
	if err != nil {
		return nil, err
	}

	report := aggregation.EmptyVisitorsReport()
	for _, row := range resp.Rows {
		users := row.metricInt(0)
		report.Total += users
		report.New += row.metricInt(1)
		switch row.dimension(0) {
		case "mobile":
			report.DeviceBreakdown.Mobile += users
		case "tablet":
			report.DeviceBreakdown.Tablet += users
		default:
			report.DeviceBreakdown.Desktop += users
		}
		if browser := row.dimension(1); browser != "" {
			report.Browsers[browser] += users
		}
	}
	report.Returning = report.Total - report.New
	if report.Returning < 0 {
		report.Returning = 0
	}
	return report, nil
}

// Overview normalizes session duration and bounce rate. Scroll depth has no
// provider equivalent and stays zero on this branch.
func (c *Client) Overview(ctx context.Context, dateRange aggregation.DateRange) (*aggregation.OverviewReport, error) {
	resp, err := c.runReport(ctx, dateRange, nil,
		[]string{"averageSessionDuration", "bounceRate"})
	if err != nil {
		return nil, err
	}

	report := &aggregation.OverviewReport{BounceRate: "0"}
	if len(resp.Rows) > 0 {
		row := resp.Rows[0]
		report.AvgSessionDuration = row.metricInt(0)
		// The provider reports bounce rate as a fraction.
		report.BounceRate = fmt.Sprintf("%d", int(math.Round(row.metricFloat(1)*100)))
	}
	return report, nil
}

// Pages normalizes a per-path view report.
func (c *Client) Pages(ctx context.Context, dateRange aggregation.DateRange) (*aggregation.PagesReport, error) {
	resp, err := c.runReport(ctx, dateRange,
		[]string{"pagePath"},
		[]string{"screenPageViews", "userEngagementDuration"})
	if err != nil {
		return nil, err
	}

	report := &aggregation.PagesReport{Pages: make([]aggregation.PageStats, 0, len(resp.Rows))}
	for _, row := range resp.Rows {
		views := row.metricInt(0)
		avgTime := 0
		if views > 0 {
			avgTime = int(math.Round(row.metricFloat(1) / float64(views)))
		}
		report.TotalViews += views
		report.Pages = append(report.Pages, aggregation.PageStats{
			PagePath: row.dimension(0),
			Views:    views,
			AvgTime:  avgTime,
		})
	}
	sort.Slice(report.Pages, func(i, j int) bool {
		return report.Pages[i].Views > report.Pages[j].Views
	})
	report.TotalPages = len(report.Pages)
	if len(report.Pages) > 0 {
		report.TopPage = report.Pages[0].PagePath
	}
	return report, nil
}

// Traffic normalizes a session-source report.
func (c *Client) Traffic(ctx context.Context, dateRange aggregation.DateRange) (*aggregation.TrafficReport, error) {
	resp, err := c.runReport(ctx, dateRange,
		[]string{"sessionSource"},
		[]string{"sessions"})
	if err != nil {
		return nil, err
	}

	report := &aggregation.TrafficReport{Sources: make([]aggregation.TrafficSource, 0, len(resp.Rows))}
	direct := 0
	for _, row := range resp.Rows {
		sessions := row.metricInt(0)
		name := row.dimension(0)
		if name == "(direct)" || name == "" {
			name = "Direct"
		}
		if name == "Direct" {
			direct += sessions
		}
		report.TotalSessions += sessions
		report.Sources = append(report.Sources, aggregation.TrafficSource{
			Name:     name,
			Sessions: sessions,
		})
	}
	for i := range report.Sources {
		if report.TotalSessions > 0 {
			report.Sources[i].Percentage = int(math.Round(
				float64(report.Sources[i].Sessions) / float64(report.TotalSessions) * 100))
		}
	}
	sort.Slice(report.Sources, func(i, j int) bool {
		return report.Sources[i].Sessions > report.Sources[j].Sessions
	})
	if report.TotalSessions > 0 {
		report.DirectPercentage = int(math.Round(float64(direct) / float64(report.TotalSessions) * 100))
	}
	return report, nil
}

// Geo normalizes a country/city user report. Country names arriving as ISO
// codes are expanded via gountries; unknown codes keep their raw value.
func (c *Client) Geo(ctx context.Context, dateRange aggregation.DateRange) (*aggregation.GeoReport, error) {
	resp, err := c.runReport(ctx, dateRange,
		[]string{"country", "city"},
		[]string{"totalUsers"})
	if err != nil {
		return nil, err
	}

	countryUsers := map[string]int{}
	cityUsers := map[string]int{}
	total := 0
	for _, row := range resp.Rows {
		users := row.metricInt(0)
		total += users
		if country := c.countryName(row.dimension(0)); country != "" {
			countryUsers[country] += users
		}
		if city := row.dimension(1); city != "" && city != "(not set)" {
			cityUsers[city] += users
		}
	}

	report := aggregation.EmptyGeoReport()
	report.TotalVisitors = total
	report.UniqueCities = len(cityUsers)
	for name, users := range countryUsers {
		pct := 0
		if total > 0 {
			pct = int(math.Round(float64(users) / float64(total) * 100))
		}
		report.Countries = append(report.Countries, aggregation.GeoCountry{
			Name: name, Users: users, Percentage: pct,
		})
	}
	sort.Slice(report.Countries, func(i, j int) bool {
		return report.Countries[i].Users > report.Countries[j].Users
	})
	if len(report.Countries) > 10 {
		report.Countries = report.Countries[:10]
	}
	for name, users := range cityUsers {
		report.Cities = append(report.Cities, aggregation.GeoCity{Name: name, Users: users})
	}
	sort.Slice(report.Cities, func(i, j int) bool {
		return report.Cities[i].Users > report.Cities[j].Users
	})
	if len(report.Cities) > 10 {
		report.Cities = report.Cities[:10]
	}
	if len(report.Countries) > 0 {
		report.TopCountry = report.Countries[0].Name
	}
	if len(report.Cities) > 0 {
		report.TopCity = report.Cities[0].Name
	}
	return report, nil
}

func (c *Client) countryName(value string) string {
	if value == "" || value == "(not set)" {
		return ""
	}
	if len(value) == 2 {
		if country, err := c.countries.FindCountryByAlpha(value); err == nil {
			return country.Name.Common
		}
	}
	return cases.Title(language.AmericanEnglish).String(value)
}

// Realtime normalizes the realtime active-user count. Session and view
// listings are first-party data the provider does not carry.
func (c *Client) Realtime(ctx context.Context) (*aggregation.RealtimeReport, error) {
	resp, err := c.runRealtimeReport(ctx, []string{"activeUsers"})
	if err != nil {
		return nil, err
	}

	report := &aggregation.RealtimeReport{
		ActiveSessions: []aggregation.ActiveSessionSummary{},
		RecentViews:    []aggregation.RecentViewSummary{},
	}
	if len(resp.Rows) > 0 {
		report.ActiveUsers = resp.Rows[0].metricInt(0)
	}
	return report, nil
}

// Events normalizes a per-event-name count report.
func (c *Client) Events(ctx context.Context, dateRange aggregation.DateRange) (*aggregation.EventsReport, error) {
	resp, err := c.runReport(ctx, dateRange,
		[]string{"eventName"},
		[]string{"eventCount"})
	if err != nil {
		return nil, err
	}

	report := &aggregation.EventsReport{
		Events:       make([]aggregation.EventRollup, 0, len(resp.Rows)),
		RecentEvents: []aggregation.RecentEventSummary{},
	}
	for _, row := range resp.Rows {
		count := row.metricInt(0)
		report.TotalEvents += count
		report.Events = append(report.Events, aggregation.EventRollup{
			Name:  row.dimension(0),
			Count: count,
		})
	}
	sort.Slice(report.Events, func(i, j int) bool {
		return report.Events[i].Count > report.Events[j].Count
	})
	return report, nil
}

// Conversions derives the conversion shape from the per-event rollups.
func (c *Client) Conversions(ctx context.Context, dateRange aggregation.DateRange) (*aggregation.ConversionsReport, error) {
	eventsReport, err := c.Events(ctx, dateRange)
	if err != nil {
		return nil, err
	}

	report := &aggregation.ConversionsReport{
		ConversionRate: "0",
		Events:         eventsReport.Events,
	}
	for _, rollup := range eventsReport.Events {
		switch rollup.Name {
		case "whatsapp_click":
			report.WhatsappClicks = rollup.Count
		case "form_submit":
			report.FormSubmits = rollup.Count
		case "film_play":
			report.FilmPlays = rollup.Count
		case "gallery_open":
			report.GalleryOpens = rollup.Count
		}
	}
	report.TotalConversions = report.WhatsappClicks + report.FormSubmits

	sessions, err := c.runReport(ctx, dateRange, nil, []string{"sessions"})
	if err != nil {
		return nil, err
	}
	if len(sessions.Rows) > 0 {
		if total := sessions.Rows[0].metricInt(0); total > 0 {
			report.ConversionRate = fmt.Sprintf("%d",
				int(math.Round(float64(report.TotalConversions)/float64(total)*100)))
		}
	}
	return report, nil
}

// --- PageSpeed ---

type pageSpeedResponse struct {
	LighthouseResult struct {
		Categories struct {
			Performance struct {
				Score float64 `json:"score"`
			} `json:"performance"`
		} `json:"categories"`
		Audits struct {
			LargestContentfulPaint struct {
				NumericValue float64 `json:"numericValue"`
			} `json:"largest-contentful-paint"`
		} `json:"audits"`
	} `json:"lighthouseResult"`
}

func (c *Client) runPageSpeed(ctx context.Context, strategy string) (*pageSpeedResponse, error) {
	target := url.Values{
		"url":      {"https://" + c.cfg.Domain},
		"key":      {c.cfg.PageSpeedAPIKey},
		"strategy": {strategy},
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		pageSpeedEndpoint+"?"+target.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build pagespeed request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pagespeed request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read pagespeed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pagespeed returned %d: %s", resp.StatusCode, string(raw))
	}

	var parsed pageSpeedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode pagespeed response: %w", err)
	}
	return &parsed, nil
}

// Performance runs mobile and desktop PageSpeed audits against the site and
// normalizes the Lighthouse scores and LCP.
func (c *Client) Performance(ctx context.Context, _ aggregation.DateRange) (*aggregation.PerformanceReport, error) {
	mobile, err := c.runPageSpeed(ctx, "mobile")
	if err != nil {
		return nil, err
	}
	desktop, err := c.runPageSpeed(ctx, "desktop")
	if err != nil {
		return nil, err
	}

	lcpSeconds := mobile.LighthouseResult.Audits.LargestContentfulPaint.NumericValue / 1000
	report := &aggregation.PerformanceReport{
		AvgLoadTime:  math.Round(lcpSeconds*100) / 100,
		MobileScore:  int(math.Round(mobile.LighthouseResult.Categories.Performance.Score * 100)),
		DesktopScore: int(math.Round(desktop.LighthouseResult.Categories.Performance.Score * 100)),
		Pages:        []aggregation.PerformancePage{},
	}
	if report.AvgLoadTime > 3 {
		report.SlowPagesCount = 1
	}
	return report, nil
}

// --- Search Console ---

type searchConsoleRow struct {
	Keys        []string `json:"keys"`
	Clicks      float64  `json:"clicks"`
	Impressions float64  `json:"impressions"`
	CTR         float64  `json:"ctr"`
	Position    float64  `json:"position"`
}

// SEO queries Search Console by query+page and builds the keyword and page
// breakdowns with impression-weighted positions.
func (c *Client) SEO(ctx context.Context, dateRange aggregation.DateRange) (*aggregation.SEOReport, error) {
	now := time.Now().UTC()
	start := dateRange.Start(now)

	endpoint := fmt.Sprintf("%s/sites/%s/searchAnalytics/query",
		searchConsoleBaseURL, url.PathEscape(c.cfg.SearchConsoleSiteURL))
	body := map[string]interface{}{
		"startDate":  start.Format("2006-01-02"),
		"endDate":    now.Format("2006-01-02"),
		"dimensions": []string{"query", "page"},
		"rowLimit":   250,
	}

	var parsed struct {
		Rows []searchConsoleRow `json:"rows"`
	}
	if err := c.postJSON(ctx, endpoint, body, &parsed); err != nil {
		return nil, err
	}

	report := aggregation.EmptySEOReport()
	type pageAccumulator struct {
		clicks           int
		impressions      int
		positionWeighted float64
	}
	pages := map[string]*pageAccumulator{}
	var positionWeighted float64

	for _, row := range parsed.Rows {
		keyword := ""
		pageURL := ""
		if len(row.Keys) > 0 {
			keyword = row.Keys[0]
		}
		if len(row.Keys) > 1 {
			pageURL = row.Keys[1]
		}

		clicks := int(math.Round(row.Clicks))
		impressions := int(math.Round(row.Impressions))
		report.Overview.TotalClicks += clicks
		report.Overview.TotalImpressions += impressions
		positionWeighted += row.Position * float64(impressions)

		report.Keywords = append(report.Keywords, aggregation.SEOKeywordStat{
			Keyword:     keyword,
			Clicks:      clicks,
			Impressions: impressions,
			CTR:         math.Round(row.CTR*10000) / 100,
			Position:    math.Round(row.Position*10) / 10,
			PageURL:     pageURL,
		})

		if pageURL != "" {
			acc := pages[pageURL]
			if acc == nil {
				acc = &pageAccumulator{}
				pages[pageURL] = acc
			}
			acc.clicks += clicks
			acc.impressions += impressions
			acc.positionWeighted += row.Position * float64(impressions)
		}
	}

	if report.Overview.TotalImpressions > 0 {
		report.Overview.AvgCTR = math.Round(
			float64(report.Overview.TotalClicks)/float64(report.Overview.TotalImpressions)*10000) / 100
		report.Overview.AvgPosition = math.Round(
			positionWeighted/float64(report.Overview.TotalImpressions)*10) / 10
	}
	sort.Slice(report.Keywords, func(i, j int) bool {
		return report.Keywords[i].Impressions > report.Keywords[j].Impressions
	})

	for pageURL, acc := range pages {
		position := 0.0
		if acc.impressions > 0 {
			position = math.Round(acc.positionWeighted/float64(acc.impressions)*10) / 10
		}
		report.Pages = append(report.Pages, aggregation.SEOPageStat{
			PageURL:     pageURL,
			Clicks:      acc.clicks,
			Impressions: acc.impressions,
			Position:    position,
			Indexed:     acc.impressions > 0,
			Status:      "indexed",
		})
	}
	sort.Slice(report.Pages, func(i, j int) bool {
		return report.Pages[i].Impressions > report.Pages[j].Impressions
	})
	return report, nil
}
