package aggregation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/karloscodes/cartridge"

	"studiometrics/internal/insights"
)

// Provider is the external analytics backend. Implementations return the
// normalized shapes directly; the service never inspects provider payloads.
// A nil Provider disables the external branch entirely.
type Provider interface {
	HasAnalytics() bool
	HasSearchConsole() bool
	HasPageSpeed() bool

	Visitors(ctx context.Context, dateRange DateRange) (*VisitorsReport, error)
	Overview(ctx context.Context, dateRange DateRange) (*OverviewReport, error)
	Pages(ctx context.Context, dateRange DateRange) (*PagesReport, error)
	Traffic(ctx context.Context, dateRange DateRange) (*TrafficReport, error)
	Geo(ctx context.Context, dateRange DateRange) (*GeoReport, error)
	Realtime(ctx context.Context) (*RealtimeReport, error)
	Events(ctx context.Context, dateRange DateRange) (*EventsReport, error)
	Conversions(ctx context.Context, dateRange DateRange) (*ConversionsReport, error)
	Performance(ctx context.Context, dateRange DateRange) (*PerformanceReport, error)
	SEO(ctx context.Context, dateRange DateRange) (*SEOReport, error)
}

// Service resolves aggregation requests through the explicit pipeline
// external -> cache -> compute. External failures are logged and masked by
// the next step, never propagated.
type Service struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	provider  Provider
	generator *insights.Generator
}

func NewService(dbManager cartridge.DBManager, logger *slog.Logger, provider Provider, generator *insights.Generator) *Service {
	return &Service{
		dbManager: dbManager,
		logger:    logger,
		provider:  provider,
		generator: generator,
	}
}

// Aggregate answers one (metric_type, date_range) request with the
// normalized JSON payload for that metric type.
func (s *Service) Aggregate(ctx context.Context, metricType, rawRange string) (json.RawMessage, error) {
	if !ValidMetricType(metricType) {
		return nil, fmt.Errorf("unknown metric type: %s", metricType)
	}
	dateRange, err := ParseDateRange(rawRange)
	if err != nil {
		return nil, err
	}

	// Insight generation is a command, not a report: no external branch,
	// no cache.
	if metricType == MetricInsights {
		return s.generateInsights()
	}

	if payload, ok := s.tryExternal(ctx, metricType, dateRange); ok {
		return payload, nil
	}

	// Realtime is exempt from the existence-only cache: a cached row would
	// freeze the live view on its first value.
	cacheable := metricType != MetricRealtime

	if cacheable {
		payload, hit, err := LookupCache(s.dbManager.GetConnection(), metricType, dateRange)
		if err != nil {
			s.logger.Error("Analytics cache lookup failed",
				slog.Any("error", err),
				slog.String("metric_type", metricType))
		} else if hit {
			return json.RawMessage(payload), nil
		}
	}

	report, err := s.compute(metricType, dateRange)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s report: %w", metricType, err)
	}

	if cacheable {
		if err := StoreCache(s.dbManager, s.logger, metricType, dateRange, string(payload)); err != nil {
			s.logger.Error("Failed to store analytics cache",
				slog.Any("error", err),
				slog.String("metric_type", metricType))
		}
	}
	return payload, nil
}

// tryExternal runs the provider branch when credentials cover the metric
// type. Any failure logs and falls through to the internal branch.
func (s *Service) tryExternal(ctx context.Context, metricType string, dateRange DateRange) (json.RawMessage, bool) {
	if s.provider == nil {
		return nil, false
	}

	var (
		report interface{}
		err    error
	)
	switch metricType {
	case MetricSEO:
		if !s.provider.HasSearchConsole() {
			return nil, false
		}
		var seo *SEOReport
		seo, err = s.provider.SEO(ctx, dateRange)
		if err == nil {
			report = seo
		}
	case MetricPerformance:
		if !s.provider.HasPageSpeed() {
			return nil, false
		}
		report, err = s.provider.Performance(ctx, dateRange)
	case MetricVisitors:
		if !s.provider.HasAnalytics() {
			return nil, false
		}
		report, err = s.provider.Visitors(ctx, dateRange)
	case MetricOverview:
		if !s.provider.HasAnalytics() {
			return nil, false
		}
		report, err = s.provider.Overview(ctx, dateRange)
	case MetricPages:
		if !s.provider.HasAnalytics() {
			return nil, false
		}
		report, err = s.provider.Pages(ctx, dateRange)
	case MetricTraffic:
		if !s.provider.HasAnalytics() {
			return nil, false
		}
		report, err = s.provider.Traffic(ctx, dateRange)
	case MetricGeo:
		if !s.provider.HasAnalytics() {
			return nil, false
		}
		report, err = s.provider.Geo(ctx, dateRange)
	case MetricRealtime:
		if !s.provider.HasAnalytics() {
			return nil, false
		}
		report, err = s.provider.Realtime(ctx)
	case MetricEvents:
		if !s.provider.HasAnalytics() {
			return nil, false
		}
		report, err = s.provider.Events(ctx, dateRange)
	case MetricConversions:
		if !s.provider.HasAnalytics() {
			return nil, false
		}
		report, err = s.provider.Conversions(ctx, dateRange)
	default:
		return nil, false
	}

	if err != nil {
		s.logger.Warn("External analytics call failed, falling back",
			slog.Any("error", err),
			slog.String("metric_type", metricType),
			slog.String("date_range", string(dateRange)))
		return nil, false
	}

	payload, err := json.Marshal(report)
	if err != nil {
		s.logger.Error("Failed to encode external report",
			slog.Any("error", err),
			slog.String("metric_type", metricType))
		return nil, false
	}

	if metricType != MetricRealtime {
		if err := StoreCache(s.dbManager, s.logger, metricType, dateRange, string(payload)); err != nil {
			s.logger.Error("Failed to cache external report",
				slog.Any("error", err),
				slog.String("metric_type", metricType))
		}
	}
	if seo, ok := report.(*SEOReport); ok {
		if err := StoreSEOCache(s.dbManager, s.logger, dateRange, string(payload)); err != nil {
			s.logger.Error("Failed to store seo cache", slog.Any("error", err))
		}
		if err := ReplaceSEOBreakdown(s.dbManager, s.logger, dateRange, seo); err != nil {
			s.logger.Error("Failed to persist seo breakdown rows", slog.Any("error", err))
		}
	}
	return payload, true
}

func (s *Service) compute(metricType string, dateRange DateRange) (interface{}, error) {
	db := s.dbManager.GetConnection()
	switch metricType {
	case MetricVisitors:
		return computeVisitors(db, dateRange)
	case MetricOverview:
		return computeOverview(db, dateRange)
	case MetricPages:
		return computePages(db, dateRange)
	case MetricTraffic:
		return computeTraffic(db, dateRange)
	case MetricGeo:
		return computeGeo(db, dateRange)
	case MetricRealtime:
		return computeRealtime(db, dateRange)
	case MetricEvents:
		return computeEvents(db, dateRange)
	case MetricConversions:
		return computeConversions(db, dateRange)
	case MetricPerformance:
		return computePerformance(db, dateRange)
	case MetricSEO:
		return computeSEO(db, dateRange)
	}
	return nil, fmt.Errorf("unknown metric type: %s", metricType)
}

func (s *Service) generateInsights() (json.RawMessage, error) {
	if s.generator == nil {
		return nil, fmt.Errorf("insight generator not configured")
	}
	result, err := s.generator.Run()
	if err != nil {
		return nil, fmt.Errorf("insight generation failed: %w", err)
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode insights result: %w", err)
	}
	return payload, nil
}
