package tracker

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingVitals(t *testing.T) (*Vitals, *beaconRecorder, func() []Beacon) {
	t.Helper()
	recorder := &beaconRecorder{}
	server := httptest.NewServer(recorder)
	t.Cleanup(server.Close)

	transport := NewTransport(TransportConfig{Endpoint: server.URL, JourneyID: "j1"}, testLogger())
	vitals := newVitals(transport, testLogger(), "/films")

	flush := func() []Beacon {
		transport.Close()
		return recorder.All()
	}
	return vitals, recorder, flush
}

func TestObserveLCP(t *testing.T) {
	vitals, _, flush := recordingVitals(t)

	vitals.ObserveLCP(2500)

	beacons := flush()
	require.Len(t, beacons, 1)
	assert.Equal(t, "LCP", beacons[0].MetricType)
	assert.InDelta(t, 2.5, beacons[0].Value, 0.0001)
	assert.Equal(t, "/films", beacons[0].Page)
}

func TestObserveLayoutShift(t *testing.T) {
	vitals, _, flush := recordingVitals(t)

	vitals.ObserveLayoutShift(LayoutShiftEntry{Value: 0.1})
	vitals.ObserveLayoutShift(LayoutShiftEntry{Value: 0.2, HadRecentInput: true})
	vitals.ObserveLayoutShift(LayoutShiftEntry{Value: 0.05})

	assert.InDelta(t, 0.15, vitals.CLS(), 0.0001)

	beacons := flush()
	require.Len(t, beacons, 2)
	assert.InDelta(t, 0.1, beacons[0].Value, 0.0001)
	assert.InDelta(t, 0.15, beacons[1].Value, 0.0001)
}

func TestObserveInteraction(t *testing.T) {
	vitals, _, flush := recordingVitals(t)

	// Below one frame: dropped.
	vitals.ObserveInteraction(InteractionEntry{InteractionID: "i1", Duration: 15.9})
	// Missing interaction id: dropped.
	vitals.ObserveInteraction(InteractionEntry{Duration: 40})
	// Kept.
	vitals.ObserveInteraction(InteractionEntry{
		InteractionID:   "i2",
		Duration:        48,
		StartTime:       100,
		ProcessingStart: 112,
	})

	beacons := flush()
	require.Len(t, beacons, 1)
	assert.Equal(t, "INTERACTION", beacons[0].MetricType)
	assert.InDelta(t, 48, beacons[0].Value, 0.0001)
	assert.InDelta(t, 12.0, beacons[0].Metadata["input_delay"].(float64), 0.0001)
}

func TestObserveResource(t *testing.T) {
	vitals, _, flush := recordingVitals(t)

	vitals.ObserveResource(ResourceEntry{Name: "fast.js", Duration: 499, TransferSize: 1024})
	vitals.ObserveResource(ResourceEntry{Name: "boundary.js", Duration: 500, TransferSize: 1024})
	vitals.ObserveResource(ResourceEntry{Name: "slow.js", InitiatorType: "script", Duration: 501, TransferSize: 0})

	beacons := flush()
	require.Len(t, beacons, 1)
	assert.Equal(t, "RESOURCE_METRIC", beacons[0].Action)
	assert.Equal(t, "slow.js", beacons[0].Metadata["name"])
	assert.Equal(t, "script", beacons[0].Metadata["initiator_type"])
	assert.Equal(t, true, beacons[0].Metadata["cache_hit"])
}

func TestObserveLongTask(t *testing.T) {
	vitals, _, flush := recordingVitals(t)

	vitals.ObserveLongTask(LongTaskEntry{Duration: 120, Attribution: "self"})

	beacons := flush()
	require.Len(t, beacons, 1)
	assert.Equal(t, "LONG_TASK", beacons[0].MetricType)
	assert.InDelta(t, 120, beacons[0].Value, 0.0001)
	assert.Equal(t, "self", beacons[0].Metadata["attribution"])
}
