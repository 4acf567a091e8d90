package tracker

import (
	"log/slog"
	"sync"
)

// Collector thresholds.
const (
	resourceDurationMinMs = 500.0
	interactionMinMs      = 16.0
	millisecondsPerSecond = 1000.0
)

// LayoutShiftEntry mirrors a layout-shift performance entry.
type LayoutShiftEntry struct {
	Value          float64
	HadRecentInput bool
}

// LongTaskEntry mirrors a longtask performance entry; Duration is in ms.
type LongTaskEntry struct {
	Duration    float64
	Attribution string
}

// InteractionEntry mirrors an event-timing performance entry; times in ms.
type InteractionEntry struct {
	InteractionID   string
	Duration        float64
	StartTime       float64
	ProcessingStart float64
}

// ResourceEntry mirrors a resource-timing performance entry; Duration in ms.
type ResourceEntry struct {
	Name          string
	InitiatorType string
	Duration      float64
	TransferSize  int64
}

// Vitals converts pushed performance entries into metric beacons. Every
// observation is best-effort: nothing here returns an error to the caller.
type Vitals struct {
	transport *Transport
	logger    *slog.Logger
	page      string

	mu  sync.Mutex
	cls float64
}

func newVitals(transport *Transport, logger *slog.Logger, page string) *Vitals {
	return &Vitals{transport: transport, logger: logger, page: page}
}

// ObserveLCP records a largest-contentful-paint observation. The entry time
// arrives in milliseconds and is reported in seconds.
func (v *Vitals) ObserveLCP(renderTimeMs float64) {
	v.transport.Send(Beacon{
		Action:     "RUM_METRIC",
		MetricType: "LCP",
		Value:      renderTimeMs / millisecondsPerSecond,
		Page:       v.page,
	})
}

// ObserveLayoutShift accumulates cumulative layout shift. Shifts caused by
// recent user input never contribute.
func (v *Vitals) ObserveLayoutShift(entry LayoutShiftEntry) {
	if entry.HadRecentInput {
		return
	}
	v.mu.Lock()
	v.cls += entry.Value
	current := v.cls
	v.mu.Unlock()

	v.transport.Send(Beacon{
		Action:     "RUM_METRIC",
		MetricType: "CLS",
		Value:      current,
		Page:       v.page,
	})
}

// CLS returns the accumulated cumulative layout shift.
func (v *Vitals) CLS() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cls
}

// ObserveLongTask records a long task with its attribution serialized into
// the metadata.
func (v *Vitals) ObserveLongTask(entry LongTaskEntry) {
	metadata := map[string]interface{}{}
	if entry.Attribution != "" {
		metadata["attribution"] = entry.Attribution
	}
	v.transport.Send(Beacon{
		Action:     "RUM_METRIC",
		MetricType: "LONG_TASK",
		Value:      entry.Duration,
		Page:       v.page,
		Metadata:   metadata,
	})
}

// ObserveInteraction records an event-timing entry. Entries below one frame
// (16ms) or without an interaction id are dropped; input delay is derived as
// processingStart - startTime.
func (v *Vitals) ObserveInteraction(entry InteractionEntry) {
	if entry.Duration < interactionMinMs || entry.InteractionID == "" {
		return
	}
	v.transport.Send(Beacon{
		Action:     "RUM_METRIC",
		MetricType: "INTERACTION",
		Value:      entry.Duration,
		Page:       v.page,
		Metadata: map[string]interface{}{
			"input_delay": entry.ProcessingStart - entry.StartTime,
		},
	})
}

// ObserveResource records a resource-timing entry. Only resources slower
// than 500ms are sampled; transferSize zero marks a cache hit.
func (v *Vitals) ObserveResource(entry ResourceEntry) {
	if entry.Duration <= resourceDurationMinMs {
		return
	}
	v.transport.Send(Beacon{
		Action:     "RESOURCE_METRIC",
		MetricType: "RESOURCE",
		Value:      entry.Duration,
		Page:       v.page,
		Metadata: map[string]interface{}{
			"name":           entry.Name,
			"initiator_type": entry.InitiatorType,
			"transfer_size":  entry.TransferSize,
			"cache_hit":      entry.TransferSize == 0,
		},
	})
}
