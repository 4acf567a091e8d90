// Package tracker is the embeddable RUM client: it derives visitor, session
// and journey identity, converts pushed performance entries into metric
// beacons, samples replay events, and ships everything to the ingestion
// endpoint fire-and-forget.
package tracker

import (
	"io"
	"log/slog"
)

// Config wires one Tracker instance. Endpoint may be blank, which turns all
// delivery into a silent no-op.
type Config struct {
	Endpoint       string
	Page           string
	Profile        ClientProfile
	NetworkType    string
	DurableStorage Storage
	TabStorage     Storage
	Logger         *slog.Logger
}

// Tracker is one page-load's tracking context. Construct with New, push
// observations into Vitals and Sampler, and call Shutdown on unload.
// There is no package-level instance; every page load builds its own.
type Tracker struct {
	logger    *slog.Logger
	identity  *Identity
	transport *Transport
	vitals    *Vitals
	sampler   *Sampler

	visitorID string
	journeyID string
}

// New builds a tracker, establishes the identifiers and reports the journey
// start when the journey id is created for the first time in this tab.
func New(cfg Config) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.DurableStorage == nil {
		cfg.DurableStorage = NewMemoryStorage()
	}
	if cfg.TabStorage == nil {
		cfg.TabStorage = NewMemoryStorage()
	}

	identity := NewIdentity(cfg.DurableStorage, cfg.TabStorage)
	visitorID := identity.VisitorID(cfg.Profile)
	journeyID, journeyStarted := identity.JourneyID()

	transport := NewTransport(TransportConfig{
		Endpoint:    cfg.Endpoint,
		JourneyID:   journeyID,
		DeviceType:  cfg.Profile.DeviceType,
		NetworkType: cfg.NetworkType,
		Browser:     cfg.Profile.Browser,
	}, logger)

	t := &Tracker{
		logger:    logger,
		identity:  identity,
		transport: transport,
		vitals:    newVitals(transport, logger, cfg.Page),
		sampler:   newSampler(transport, cfg.Page),
		visitorID: visitorID,
		journeyID: journeyID,
	}

	if journeyStarted {
		transport.Send(Beacon{Action: "JOURNEY_START", Page: cfg.Page})
	}
	return t
}

// Vitals returns the performance collectors.
func (t *Tracker) Vitals() *Vitals {
	return t.vitals
}

// Sampler returns the replay sampler.
func (t *Tracker) Sampler() *Sampler {
	return t.sampler
}

// VisitorID returns the durable visitor identifier.
func (t *Tracker) VisitorID() string {
	return t.visitorID
}

// JourneyID returns the tab-scoped journey identifier.
func (t *Tracker) JourneyID() string {
	return t.journeyID
}

// TrackEvent reports a discrete user action as a journey event.
func (t *Tracker) TrackEvent(name string, metadata map[string]interface{}) {
	t.identity.Touch()
	t.transport.Send(Beacon{
		Action:     "JOURNEY_EVENT",
		MetricType: name,
		Metadata:   metadata,
	})
}

// Shutdown flushes the replay buffer and queued beacons, then stops the
// background goroutines. Wire it to the page unload lifecycle.
func (t *Tracker) Shutdown() {
	t.sampler.Stop()
	t.transport.Close()
}
