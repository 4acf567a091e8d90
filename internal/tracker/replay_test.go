package tracker

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingSampler(t *testing.T) (*Sampler, *beaconRecorder, *Transport) {
	t.Helper()
	recorder := &beaconRecorder{}
	server := httptest.NewServer(recorder)
	t.Cleanup(server.Close)

	transport := NewTransport(TransportConfig{Endpoint: server.URL, JourneyID: "j1"}, testLogger())
	sampler := newSampler(transport, "/films")
	t.Cleanup(sampler.Stop)
	return sampler, recorder, transport
}

func TestSamplerThrottling(t *testing.T) {
	sampler, _, _ := recordingSampler(t)

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	current := base
	sampler.now = func() time.Time { return current }

	// Scroll: second sample inside the 500ms window is dropped.
	sampler.RecordScroll(100)
	current = base.Add(200 * time.Millisecond)
	sampler.RecordScroll(200)
	current = base.Add(700 * time.Millisecond)
	sampler.RecordScroll(300)
	assert.Equal(t, 2, sampler.Len())

	// Pointer: 200ms window.
	current = base.Add(time.Second)
	sampler.RecordPointer(10, 10)
	current = base.Add(time.Second + 100*time.Millisecond)
	sampler.RecordPointer(20, 20)
	current = base.Add(time.Second + 300*time.Millisecond)
	sampler.RecordPointer(30, 30)
	assert.Equal(t, 4, sampler.Len())

	// Clicks are never throttled.
	sampler.RecordClick(1, 1)
	sampler.RecordClick(2, 2)
	sampler.RecordClick(3, 3)
	assert.Equal(t, 7, sampler.Len())
}

func TestSamplerFlush(t *testing.T) {
	t.Run("empty buffer never flushes", func(t *testing.T) {
		sampler, recorder, transport := recordingSampler(t)

		sampler.Flush()
		sampler.Stop()
		transport.Close()
		assert.Empty(t, recorder.All())
	})

	t.Run("flush ships the buffer as one chunk and clears it", func(t *testing.T) {
		sampler, recorder, transport := recordingSampler(t)

		sampler.RecordClick(5, 9)
		sampler.RecordScroll(120)
		require.Equal(t, 2, sampler.Len())

		sampler.Flush()
		assert.Equal(t, 0, sampler.Len())
		transport.Close()

		beacons := recorder.All()
		require.Len(t, beacons, 1)
		assert.Equal(t, "REPLAY_CHUNK", beacons[0].Action)
		assert.Equal(t, "/films", beacons[0].Page)
		require.Len(t, beacons[0].Samples, 2)
		assert.Equal(t, "click", beacons[0].Samples[0].Type)
		assert.Equal(t, "scroll", beacons[0].Samples[1].Type)
	})

	t.Run("stop flushes whatever remains", func(t *testing.T) {
		sampler, recorder, transport := recordingSampler(t)

		sampler.RecordClick(1, 2)
		sampler.Stop()
		transport.Close()

		beacons := recorder.All()
		require.Len(t, beacons, 1)
		require.Len(t, beacons[0].Samples, 1)
		assert.Equal(t, "click", beacons[0].Samples[0].Type)
	})
}
