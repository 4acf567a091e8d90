package tracker

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Beacon is one outbound telemetry payload. Transport fills the enrichment
// fields (journey id, device, network, browser) before send.
type Beacon struct {
	Action      string                 `json:"action"`
	MetricType  string                 `json:"metric_type,omitempty"`
	Value       float64                `json:"value,omitempty"`
	Page        string                 `json:"page,omitempty"`
	JourneyID   string                 `json:"journey_id,omitempty"`
	DeviceType  string                 `json:"device_type,omitempty"`
	NetworkType string                 `json:"network_type,omitempty"`
	Browser     string                 `json:"browser,omitempty"`
	Samples     []Sample               `json:"samples,omitempty"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// Transport delivers beacons fire-and-forget: sends never block the caller,
// failures are logged and dropped, and a blank endpoint is a silent no-op.
// At-most-once delivery; there is no retry path.
type Transport struct {
	endpoint   string
	logger     *slog.Logger
	httpClient *http.Client

	journeyID   string
	deviceType  string
	networkType string
	browser     string

	queue chan Beacon
	done  chan struct{}
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// TransportConfig carries the enrichment defaults stamped onto every beacon.
type TransportConfig struct {
	Endpoint    string
	JourneyID   string
	DeviceType  string
	NetworkType string
	Browser     string
}

func NewTransport(cfg TransportConfig, logger *slog.Logger) *Transport {
	t := &Transport{
		endpoint:    cfg.Endpoint,
		logger:      logger,
		httpClient:  &http.Client{Timeout: 3 * time.Second},
		journeyID:   cfg.JourneyID,
		deviceType:  cfg.DeviceType,
		networkType: cfg.NetworkType,
		browser:     cfg.Browser,
		queue:       make(chan Beacon, 64),
		done:        make(chan struct{}),
	}
	if t.networkType == "" {
		t.networkType = "unknown"
	}
	if t.endpoint != "" {
		t.wg.Add(1)
		go t.deliver()
	}
	return t
}

// Send enqueues a beacon without blocking. With no endpoint configured or a
// full queue the beacon is dropped; telemetry is best-effort.
func (t *Transport) Send(beacon Beacon) {
	if t.endpoint == "" {
		return
	}

	beacon.JourneyID = t.journeyID
	beacon.DeviceType = t.deviceType
	beacon.NetworkType = t.networkType
	beacon.Browser = t.browser
	if beacon.Metadata == nil {
		beacon.Metadata = map[string]interface{}{}
	}

	select {
	case t.queue <- beacon:
	default:
		t.logger.Debug("Beacon queue full, dropping", slog.String("action", beacon.Action))
	}
}

func (t *Transport) deliver() {
	defer t.wg.Done()
	for {
		select {
		case beacon := <-t.queue:
			t.post(beacon)
		case <-t.done:
			// Drain what is already queued before stopping.
			for {
				select {
				case beacon := <-t.queue:
					t.post(beacon)
				default:
					return
				}
			}
		}
	}
}

func (t *Transport) post(beacon Beacon) {
	payload, err := json.Marshal(beacon)
	if err != nil {
		t.logger.Debug("Failed to encode beacon", slog.Any("error", err))
		return
	}

	resp, err := t.httpClient.Post(t.endpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.logger.Debug("Beacon delivery failed",
			slog.Any("error", err),
			slog.String("action", beacon.Action))
		return
	}
	resp.Body.Close()
}

// Close flushes queued beacons and stops the delivery goroutine.
func (t *Transport) Close() {
	if t.endpoint == "" {
		return
	}
	t.closeOnce.Do(func() {
		close(t.done)
		t.wg.Wait()
	})
}
