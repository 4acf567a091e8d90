package events

import "time"

// Click event types. The enumeration is fixed: ingestion rejects anything else.
const (
	EventWhatsappClick = "whatsapp_click"
	EventFormSubmit    = "form_submit"
	EventFilmPlay      = "film_play"
	EventGalleryOpen   = "gallery_open"
	EventServiceView   = "service_view"
	EventPlanView      = "plan_view"
	EventLinkClick     = "link_click"
)

// RUM metric types.
const (
	MetricLCP          = "LCP"
	MetricCLS          = "CLS"
	MetricLongTask     = "LONG_TASK"
	MetricInteraction  = "INTERACTION"
	MetricResource     = "RESOURCE"
	MetricJourneyStart = "JOURNEY_START"
	MetricJourneyEvent = "JOURNEY_EVENT"
)

// Visitor is the long-lived identity for a browser, keyed by fingerprint.
// One row per distinct fingerprint; revisits bump VisitCount and LastSeenAt.
type Visitor struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	Fingerprint      string `gorm:"uniqueIndex;size:64;not null"`
	DeviceType       string `gorm:"index"`
	Browser          string `gorm:"index"`
	OperatingSystem  string
	ScreenResolution string
	Country          string `gorm:"index"`
	Region           string
	City             string `gorm:"index"`
	FirstSeenAt      time.Time
	LastSeenAt       time.Time `gorm:"index"`
	VisitCount       int       `gorm:"not null;default:1"`
}

// Session is a bounded interval of activity for one Visitor. It stays active
// until the gap since LastActivityAt exceeds the configured timeout; it is
// then closed, never deleted.
type Session struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	VisitorID      uint      `gorm:"index;not null"`
	StartedAt      time.Time `gorm:"index;not null"`
	EndedAt        *time.Time
	LastActivityAt time.Time `gorm:"index;not null"`
	EntryPage      string
	ExitPage       string
	Referrer       string
	UTMSource      string `gorm:"index"`
	UTMMedium      string
	UTMCampaign    string
	PageCount      int  `gorm:"not null;default:0"`
	Duration       int  `gorm:"not null;default:0"`
	Active         bool `gorm:"index;not null;default:true"`
	CreatedAt      time.Time
}

// PageView is one row per page rendered within a session. It receives a
// single post-creation update backfilling TimeOnPage and ScrollDepth.
type PageView struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	SessionID    uint   `gorm:"index;not null"`
	VisitorID    uint   `gorm:"index;not null"`
	Path         string `gorm:"index;not null"`
	Title        string
	ReferrerPath string
	ScrollDepth  int       `gorm:"not null;default:0"`
	TimeOnPage   int       `gorm:"not null;default:0"`
	ViewedAt     time.Time `gorm:"index;not null"`
}

// ClickEvent is an immutable record of a discrete user action.
type ClickEvent struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	SessionID   uint   `gorm:"index"`
	VisitorID   uint   `gorm:"index"`
	PagePath    string `gorm:"index"`
	EventType   string `gorm:"index;not null"`
	ElementID   string
	ElementText string
	Metadata    string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"index"`
}

// RumMetric is an immutable performance observation. Value units vary by
// type: seconds for LCP, unitless for CLS, milliseconds for long tasks,
// interactions and resources.
type RumMetric struct {
	ID          uint    `gorm:"primaryKey;autoIncrement"`
	MetricType  string  `gorm:"index;not null"`
	Value       float64 `gorm:"not null"`
	PagePath    string  `gorm:"index"`
	JourneyID   string  `gorm:"index;size:36"`
	DeviceType  string
	NetworkType string
	Browser     string
	Metadata    string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"index"`
}

// ReplayChunk is a batch of throttled pointer/scroll/click samples for one
// journey, flushed by the tracker on a fixed interval.
type ReplayChunk struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	JourneyID   string    `gorm:"index;size:36;not null"`
	PagePath    string    `gorm:"index"`
	Samples     string    `gorm:"type:text;not null"`
	SampleCount int       `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"index"`
}

// ValidEventType reports whether a click event type is in the allowed set.
func ValidEventType(eventType string) bool {
	switch eventType {
	case EventWhatsappClick, EventFormSubmit, EventFilmPlay, EventGalleryOpen,
		EventServiceView, EventPlanView, EventLinkClick:
		return true
	}
	return false
}
