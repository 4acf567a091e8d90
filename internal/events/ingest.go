package events

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"studiometrics/internal/pkg/geoip"
)

// UpsertVisitorInput describes a visitor identification beacon.
type UpsertVisitorInput struct {
	Fingerprint      string
	DeviceType       string
	Browser          string
	OperatingSystem  string
	ScreenResolution string
	IPAddress        string
}

// UpsertVisitor returns the Visitor row for a fingerprint, creating it on
// first sight. Revisits increment the visit count and refresh last-seen.
// Geo hints are best-effort and only filled when the GeoLite2 lookup succeeds.
func UpsertVisitor(dbManager cartridge.DBManager, logger *slog.Logger, input *UpsertVisitorInput) (*Visitor, error) {
	if input.Fingerprint == "" {
		return nil, fmt.Errorf("visitor fingerprint is required")
	}

	db := dbManager.GetConnection()
	now := time.Now().UTC()

	var visitor Visitor
	err := db.Where("fingerprint = ?", input.Fingerprint).First(&visitor).Error
	if err == nil {
		updates := map[string]interface{}{
			"last_seen_at": now,
			"visit_count":  gorm.Expr("visit_count + 1"),
		}
		err = sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
			return tx.Model(&Visitor{}).Where("id = ?", visitor.ID).Updates(updates).Error
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update visitor: %w", err)
		}
		visitor.LastSeenAt = now
		visitor.VisitCount++
		return &visitor, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("failed to look up visitor: %w", err)
	}

	visitor = Visitor{
		Fingerprint:      input.Fingerprint,
		DeviceType:       input.DeviceType,
		Browser:          input.Browser,
		OperatingSystem:  input.OperatingSystem,
		ScreenResolution: input.ScreenResolution,
		FirstSeenAt:      now,
		LastSeenAt:       now,
		VisitCount:       1,
	}
	if loc, ok := geoip.Lookup(input.IPAddress); ok {
		visitor.Country = loc.CountryName
		visitor.Region = loc.Region
		visitor.City = loc.City
	}

	err = sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		// A concurrent beacon may have created the row between lookup and
		// insert; the unique index turns that into an upsert.
		return tx.Exec(`
			INSERT INTO visitors (fingerprint, device_type, browser, operating_system, screen_resolution,
				country, region, city, first_seen_at, last_seen_at, visit_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(fingerprint) DO UPDATE SET
				last_seen_at = excluded.last_seen_at,
				visit_count = visitors.visit_count + 1
		`, visitor.Fingerprint, visitor.DeviceType, visitor.Browser, visitor.OperatingSystem,
			visitor.ScreenResolution, visitor.Country, visitor.Region, visitor.City,
			visitor.FirstSeenAt, visitor.LastSeenAt).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create visitor: %w", err)
	}

	if err := db.Where("fingerprint = ?", input.Fingerprint).First(&visitor).Error; err != nil {
		return nil, fmt.Errorf("failed to reload visitor: %w", err)
	}
	return &visitor, nil
}

// TrackPageViewInput describes a page view beacon.
type TrackPageViewInput struct {
	SessionID    uint
	VisitorID    uint
	Path         string
	Title        string
	ReferrerPath string
}

// TrackPageView appends a PageView row. TimeOnPage and ScrollDepth start at
// zero and are backfilled by a single later update.
func TrackPageView(dbManager cartridge.DBManager, logger *slog.Logger, input *TrackPageViewInput) (*PageView, error) {
	if input.Path == "" {
		return nil, fmt.Errorf("page path is required")
	}

	view := &PageView{
		SessionID:    input.SessionID,
		VisitorID:    input.VisitorID,
		Path:         input.Path,
		Title:        input.Title,
		ReferrerPath: input.ReferrerPath,
		ViewedAt:     time.Now().UTC(),
	}

	db := dbManager.GetConnection()
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(view).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store page view: %w", err)
	}
	return view, nil
}

// UpdatePageView backfills time-on-page and scroll depth when the user
// navigates away. This is the only mutation a PageView ever receives.
func UpdatePageView(dbManager cartridge.DBManager, logger *slog.Logger, pageViewID uint, timeOnPage, scrollDepth int) error {
	if pageViewID == 0 {
		return fmt.Errorf("page view id is required")
	}
	if scrollDepth < 0 {
		scrollDepth = 0
	}
	if scrollDepth > 100 {
		scrollDepth = 100
	}
	if timeOnPage < 0 {
		timeOnPage = 0
	}

	db := dbManager.GetConnection()
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Model(&PageView{}).Where("id = ?", pageViewID).Updates(map[string]interface{}{
			"time_on_page": timeOnPage,
			"scroll_depth": scrollDepth,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to update page view: %w", err)
	}
	return nil
}

// TrackEventInput describes a click/conversion beacon.
type TrackEventInput struct {
	SessionID   uint
	VisitorID   uint
	PagePath    string
	EventType   string
	ElementID   string
	ElementText string
	Metadata    string
}

// TrackEvent appends an immutable ClickEvent row.
func TrackEvent(dbManager cartridge.DBManager, logger *slog.Logger, input *TrackEventInput) (*ClickEvent, error) {
	if !ValidEventType(input.EventType) {
		return nil, fmt.Errorf("unknown event type: %s", input.EventType)
	}

	event := &ClickEvent{
		SessionID:   input.SessionID,
		VisitorID:   input.VisitorID,
		PagePath:    input.PagePath,
		EventType:   input.EventType,
		ElementID:   input.ElementID,
		ElementText: input.ElementText,
		Metadata:    input.Metadata,
		CreatedAt:   time.Now().UTC(),
	}

	db := dbManager.GetConnection()
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(event).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store click event: %w", err)
	}
	return event, nil
}

// RecordMetricInput describes a RUM or resource metric beacon.
type RecordMetricInput struct {
	MetricType  string
	Value       float64
	PagePath    string
	JourneyID   string
	DeviceType  string
	NetworkType string
	Browser     string
	Metadata    string
}

// RecordMetric appends an immutable RumMetric row. Journey markers are stored
// through the same table so journey starts and events share the range queries.
func RecordMetric(dbManager cartridge.DBManager, logger *slog.Logger, input *RecordMetricInput) error {
	if input.MetricType == "" {
		return fmt.Errorf("metric type is required")
	}
	if input.Metadata == "" {
		input.Metadata = "{}"
	}

	metric := &RumMetric{
		MetricType:  input.MetricType,
		Value:       input.Value,
		PagePath:    input.PagePath,
		JourneyID:   input.JourneyID,
		DeviceType:  input.DeviceType,
		NetworkType: input.NetworkType,
		Browser:     input.Browser,
		Metadata:    input.Metadata,
		CreatedAt:   time.Now().UTC(),
	}

	db := dbManager.GetConnection()
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(metric).Error
	})
	if err != nil {
		return fmt.Errorf("failed to store metric: %w", err)
	}
	return nil
}

// RecordReplayChunk appends one batch of replay samples for a journey.
// Empty batches are dropped before they reach this point, but guard anyway.
func RecordReplayChunk(dbManager cartridge.DBManager, logger *slog.Logger, journeyID, pagePath, samples string, sampleCount int) error {
	if journeyID == "" {
		return fmt.Errorf("journey id is required")
	}
	if sampleCount <= 0 {
		return nil
	}

	chunk := &ReplayChunk{
		JourneyID:   journeyID,
		PagePath:    pagePath,
		Samples:     samples,
		SampleCount: sampleCount,
		CreatedAt:   time.Now().UTC(),
	}

	db := dbManager.GetConnection()
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(chunk).Error
	})
	if err != nil {
		return fmt.Errorf("failed to store replay chunk: %w", err)
	}
	return nil
}
