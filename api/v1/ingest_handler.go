// Package v1 exposes the public ingestion and aggregation endpoints.
package v1

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"studiometrics/internal/events"
)

// Client-emitted actions. Beacon actions never rely on the response body;
// the identity actions return allocated ids.
const (
	actionCreateVisitor  = "create_visitor"
	actionCreateSession  = "create_session"
	actionTrackPageView  = "track_pageview"
	actionUpdatePageView = "update_pageview"
	actionTrackEvent     = "track_event"
	actionJourneyStart   = "JOURNEY_START"
	actionJourneyEvent   = "JOURNEY_EVENT"
	actionRumMetric      = "RUM_METRIC"
	actionResourceMetric = "RESOURCE_METRIC"
	actionReplayChunk    = "REPLAY_CHUNK"
)

// IngestParams is the union of every client-emitted beacon shape.
type IngestParams struct {
	Action string `json:"action"`

	// Visitor identification
	Fingerprint      string `json:"fingerprint"`
	DeviceType       string `json:"device_type"`
	Browser          string `json:"browser"`
	OperatingSystem  string `json:"operating_system"`
	ScreenResolution string `json:"screen_resolution"`

	// Session bookkeeping
	VisitorID   uint   `json:"visitor_id"`
	SessionID   uint   `json:"session_id"`
	Page        string `json:"page"`
	Referrer    string `json:"referrer"`
	UTMSource   string `json:"utm_source"`
	UTMMedium   string `json:"utm_medium"`
	UTMCampaign string `json:"utm_campaign"`

	// Page views
	PageViewID   uint   `json:"pageview_id"`
	Title        string `json:"title"`
	ReferrerPath string `json:"referrer_path"`
	TimeOnPage   int    `json:"time_on_page"`
	ScrollDepth  int    `json:"scroll_depth"`

	// Click events
	EventType   string                 `json:"event_type"`
	ElementID   string                 `json:"element_id"`
	ElementText string                 `json:"element_text"`
	Metadata    map[string]interface{} `json:"metadata"`

	// RUM metrics and replay
	MetricType  string          `json:"metric_type"`
	Value       float64         `json:"value"`
	JourneyID   string          `json:"journey_id"`
	NetworkType string          `json:"network_type"`
	Samples     json.RawMessage `json:"samples"`
	SampleCount int             `json:"sample_count"`
}

// IngestHandler persists one client beacon. Delivery is unload-safe on the
// sender side, so malformed or failing beacons still get a 202: the sender
// never retries and an error status would be wasted.
func IngestHandler(ctx *cartridge.Context) error {
	var params IngestParams
	if err := json.Unmarshal(ctx.Body(), &params); err != nil {
		ctx.Logger.Debug("Failed to parse ingest request", slog.Any("error", err))
		return ctx.SendStatus(http.StatusAccepted)
	}

	switch params.Action {
	case actionCreateVisitor:
		return handleCreateVisitor(ctx, &params)
	case actionCreateSession:
		return handleCreateSession(ctx, &params)
	case actionTrackPageView:
		return handleTrackPageView(ctx, &params)
	case actionUpdatePageView:
		if err := events.UpdatePageView(ctx.DBManager, ctx.Logger, params.PageViewID, params.TimeOnPage, params.ScrollDepth); err != nil {
			ctx.Logger.Warn("Failed to update page view", slog.Any("error", err))
		}
		return ctx.SendStatus(http.StatusAccepted)
	case actionTrackEvent:
		return handleTrackEvent(ctx, &params)
	case actionJourneyStart, actionJourneyEvent:
		return handleMetric(ctx, &params, journeyMetricType(params.Action))
	case actionRumMetric, actionResourceMetric:
		return handleMetric(ctx, &params, params.MetricType)
	case actionReplayChunk:
		return handleReplayChunk(ctx, &params)
	}

	ctx.Logger.Debug("Unknown ingest action", slog.String("action", params.Action))
	return ctx.SendStatus(http.StatusAccepted)
}

func journeyMetricType(action string) string {
	if action == actionJourneyStart {
		return events.MetricJourneyStart
	}
	return events.MetricJourneyEvent
}

func handleCreateVisitor(ctx *cartridge.Context, params *IngestParams) error {
	visitor, err := events.UpsertVisitor(ctx.DBManager, ctx.Logger, &events.UpsertVisitorInput{
		Fingerprint:      params.Fingerprint,
		DeviceType:       params.DeviceType,
		Browser:          params.Browser,
		OperatingSystem:  params.OperatingSystem,
		ScreenResolution: params.ScreenResolution,
		IPAddress:        getClientIP(ctx.Ctx),
	})
	if err != nil {
		ctx.Logger.Error("Failed to upsert visitor", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create visitor",
		})
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"visitor_id":  visitor.ID,
		"visit_count": visitor.VisitCount,
	})
}

func handleCreateSession(ctx *cartridge.Context, params *IngestParams) error {
	session, err := events.ResolveSession(ctx.DBManager, ctx.Logger, params.SessionID, &events.StartSessionInput{
		VisitorID:   params.VisitorID,
		EntryPage:   params.Page,
		Referrer:    params.Referrer,
		UTMSource:   params.UTMSource,
		UTMMedium:   params.UTMMedium,
		UTMCampaign: params.UTMCampaign,
	})
	if err != nil {
		ctx.Logger.Error("Failed to resolve session", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create session",
		})
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"session_id": session.ID,
	})
}

func handleTrackPageView(ctx *cartridge.Context, params *IngestParams) error {
	view, err := events.TrackPageView(ctx.DBManager, ctx.Logger, &events.TrackPageViewInput{
		SessionID:    params.SessionID,
		VisitorID:    params.VisitorID,
		Path:         params.Page,
		Title:        params.Title,
		ReferrerPath: params.ReferrerPath,
	})
	if err != nil {
		ctx.Logger.Warn("Failed to track page view", slog.Any("error", err))
		return ctx.SendStatus(http.StatusAccepted)
	}

	touchSession(ctx, params.SessionID, params.Page, true)
	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"pageview_id": view.ID,
	})
}

func handleTrackEvent(ctx *cartridge.Context, params *IngestParams) error {
	_, err := events.TrackEvent(ctx.DBManager, ctx.Logger, &events.TrackEventInput{
		SessionID:   params.SessionID,
		VisitorID:   params.VisitorID,
		PagePath:    params.Page,
		EventType:   params.EventType,
		ElementID:   params.ElementID,
		ElementText: params.ElementText,
		Metadata:    metadataFromMap(params.Metadata),
	})
	if err != nil {
		ctx.Logger.Warn("Failed to track event",
			slog.Any("error", err),
			slog.String("event_type", params.EventType))
		return ctx.SendStatus(http.StatusAccepted)
	}

	touchSession(ctx, params.SessionID, params.Page, false)
	return ctx.SendStatus(http.StatusAccepted)
}

func handleMetric(ctx *cartridge.Context, params *IngestParams, metricType string) error {
	err := events.RecordMetric(ctx.DBManager, ctx.Logger, &events.RecordMetricInput{
		MetricType:  metricType,
		Value:       params.Value,
		PagePath:    params.Page,
		JourneyID:   params.JourneyID,
		DeviceType:  params.DeviceType,
		NetworkType: params.NetworkType,
		Browser:     params.Browser,
		Metadata:    metadataFromMap(params.Metadata),
	})
	if err != nil {
		ctx.Logger.Warn("Failed to record metric",
			slog.Any("error", err),
			slog.String("metric_type", metricType))
	}
	return ctx.SendStatus(http.StatusAccepted)
}

func handleReplayChunk(ctx *cartridge.Context, params *IngestParams) error {
	sampleCount := params.SampleCount
	if sampleCount == 0 && len(params.Samples) > 0 {
		var samples []json.RawMessage
		if err := json.Unmarshal(params.Samples, &samples); err == nil {
			sampleCount = len(samples)
		}
	}

	err := events.RecordReplayChunk(ctx.DBManager, ctx.Logger,
		params.JourneyID, params.Page, string(params.Samples), sampleCount)
	if err != nil {
		ctx.Logger.Warn("Failed to record replay chunk", slog.Any("error", err))
	}
	return ctx.SendStatus(http.StatusAccepted)
}

func touchSession(ctx *cartridge.Context, sessionID uint, pagePath string, countPage bool) {
	if sessionID == 0 {
		return
	}
	var session events.Session
	if err := ctx.DB().First(&session, sessionID).Error; err != nil {
		return
	}
	if err := events.Touch(ctx.DBManager, ctx.Logger, &session, pagePath, countPage); err != nil {
		ctx.Logger.Warn("Failed to touch session",
			slog.Any("error", err),
			slog.Uint64("session_id", uint64(sessionID)))
	}
}

// metadataFromMap serializes free-form metadata, defaulting to the empty
// object.
func metadataFromMap(metadata map[string]interface{}) string {
	if metadata == nil {
		return "{}"
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "{}"
	}
	return string(data)
}
