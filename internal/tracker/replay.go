package tracker

import (
	"sync"
	"time"
)

// Sampler throttling and flush settings.
const (
	scrollMinInterval  = 500 * time.Millisecond // max ~2 samples/sec
	pointerMinInterval = 200 * time.Millisecond // max ~5 samples/sec
	replayFlushEvery   = 5 * time.Second
)

// Sample is one compact replay record.
type Sample struct {
	At   int64  `json:"t"`
	Type string `json:"type"`
	X    int    `json:"x,omitempty"`
	Y    int    `json:"y,omitempty"`
}

// Sampler buffers throttled scroll/pointer samples and unthrottled clicks,
// flushing the buffer as one replay chunk on a fixed interval. Empty buffers
// are never flushed.
type Sampler struct {
	transport *Transport
	page      string
	now       func() time.Time

	mu          sync.Mutex
	buffer      []Sample
	lastScroll  time.Time
	lastPointer time.Time

	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func newSampler(transport *Transport, page string) *Sampler {
	s := &Sampler{
		transport: transport,
		page:      page,
		now:       func() time.Time { return time.Now().UTC() },
		done:      make(chan struct{}),
	}
	s.ticker = time.NewTicker(replayFlushEvery)
	s.wg.Add(1)
	go s.loop()
	return s
}

func (s *Sampler) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			s.Flush()
		case <-s.done:
			return
		}
	}
}

// RecordScroll samples a scroll position, throttled to ~2 per second.
func (s *Sampler) RecordScroll(y int) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastScroll) < scrollMinInterval {
		return
	}
	s.lastScroll = now
	s.buffer = append(s.buffer, Sample{At: now.UnixMilli(), Type: "scroll", Y: y})
}

// RecordPointer samples a pointer position, throttled to ~5 per second.
func (s *Sampler) RecordPointer(x, y int) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastPointer) < pointerMinInterval {
		return
	}
	s.lastPointer = now
	s.buffer = append(s.buffer, Sample{At: now.UnixMilli(), Type: "pointer", X: x, Y: y})
}

// RecordClick samples a click. Clicks are never throttled.
func (s *Sampler) RecordClick(x, y int) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(s.buffer, Sample{At: now.UnixMilli(), Type: "click", X: x, Y: y})
}

// Len returns the number of buffered samples.
func (s *Sampler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Flush sends the buffered samples as one replay chunk and clears the
// buffer. A no-op when the buffer is empty.
func (s *Sampler) Flush() {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return
	}
	samples := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	s.transport.Send(Beacon{
		Action:  "REPLAY_CHUNK",
		Page:    s.page,
		Samples: samples,
	})
}

// Stop flushes remaining samples and halts the flush loop.
func (s *Sampler) Stop() {
	s.once.Do(func() {
		s.ticker.Stop()
		close(s.done)
		s.wg.Wait()
		s.Flush()
	})
}
