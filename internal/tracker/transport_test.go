package tracker

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// beaconRecorder is an httptest handler that captures delivered beacons.
type beaconRecorder struct {
	mu      sync.Mutex
	beacons []Beacon
}

func (r *beaconRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	var beacon Beacon
	if err := json.Unmarshal(body, &beacon); err == nil {
		r.mu.Lock()
		r.beacons = append(r.beacons, beacon)
		r.mu.Unlock()
	}
	w.WriteHeader(http.StatusAccepted)
}

func (r *beaconRecorder) All() []Beacon {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Beacon(nil), r.beacons...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTransportSend(t *testing.T) {
	t.Run("delivers with enrichment fields stamped", func(t *testing.T) {
		recorder := &beaconRecorder{}
		server := httptest.NewServer(recorder)
		defer server.Close()

		transport := NewTransport(TransportConfig{
			Endpoint:   server.URL,
			JourneyID:  "journey-42",
			DeviceType: "mobile",
			Browser:    "Safari",
		}, testLogger())

		transport.Send(Beacon{Action: "RUM_METRIC", MetricType: "LCP", Value: 2.5, Page: "/films"})
		transport.Close()

		beacons := recorder.All()
		require.Len(t, beacons, 1)
		assert.Equal(t, "RUM_METRIC", beacons[0].Action)
		assert.Equal(t, "journey-42", beacons[0].JourneyID)
		assert.Equal(t, "mobile", beacons[0].DeviceType)
		assert.Equal(t, "Safari", beacons[0].Browser)
		assert.Equal(t, "unknown", beacons[0].NetworkType)
		assert.NotNil(t, beacons[0].Metadata)
	})

	t.Run("blank endpoint is a silent no-op", func(t *testing.T) {
		transport := NewTransport(TransportConfig{}, testLogger())
		transport.Send(Beacon{Action: "RUM_METRIC"})
		transport.Close()
		transport.Close()
	})

	t.Run("unreachable endpoint drops without error", func(t *testing.T) {
		transport := NewTransport(TransportConfig{
			Endpoint: "http://127.0.0.1:1/track",
		}, testLogger())
		transport.Send(Beacon{Action: "RUM_METRIC"})
		transport.Close()
	})
}
