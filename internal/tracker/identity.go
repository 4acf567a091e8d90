package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Storage abstracts the persistence behind identity. A durable store keeps
// the visitor id across visits; a tab-scoped store holds the journey id and
// the session bookkeeping for one tab lifetime.
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
}

// MemoryStorage is a thread-safe in-memory Storage, used by embedded
// trackers and tests.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (s *MemoryStorage) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *MemoryStorage) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *MemoryStorage) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// ClientProfile is the fixed tuple the visitor fingerprint derives from.
type ClientProfile struct {
	UserAgent           string
	Language            string
	TimezoneOffset      int
	ScreenWidth         int
	ScreenHeight        int
	ColorDepth          int
	HardwareConcurrency int
	MaxTouchPoints      int
	DeviceType          string
	Browser             string
	OperatingSystem     string
}

const (
	visitorIDKey          = "sm_visitor_id"
	sessionIDKey          = "sm_session_id"
	sessionLastActivity   = "sm_session_last_activity"
	journeyIDKey          = "sm_journey_id"
	defaultSessionTimeout = 30 * time.Minute
)

// Identity derives and persists the visitor, session and journey
// identifiers. Get-or-create operations are idempotent within their storage
// scope: without an intervening expiry or clear they always return the same id.
type Identity struct {
	durable Storage
	tab     Storage
	timeout time.Duration
	now     func() time.Time
}

func NewIdentity(durable, tab Storage) *Identity {
	return &Identity{
		durable: durable,
		tab:     tab,
		timeout: defaultSessionTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// fingerprint hashes the profile tuple into a short hex string.
func fingerprint(profile ClientProfile) string {
	material := fmt.Sprintf("%s|%s|%d|%dx%d|%d|%d|%d",
		profile.UserAgent, profile.Language, profile.TimezoneOffset,
		profile.ScreenWidth, profile.ScreenHeight, profile.ColorDepth,
		profile.HardwareConcurrency, profile.MaxTouchPoints)
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])[:16]
}

// VisitorID returns the stored visitor id, deriving and persisting one from
// the profile on first call. The time suffix makes ids unpredictable across
// browsers sharing an identical profile tuple.
func (i *Identity) VisitorID(profile ClientProfile) string {
	if id, ok := i.durable.Get(visitorIDKey); ok && id != "" {
		return id
	}
	id := fingerprint(profile) + "-" + strconv.FormatInt(i.now().UnixMilli(), 36)
	i.durable.Set(visitorIDKey, id)
	return id
}

// SessionID returns the current session id, starting a new one when none
// exists or the inactivity window has lapsed. The boundary is exclusive:
// a gap of exactly the timeout keeps the session alive.
func (i *Identity) SessionID() (string, bool) {
	now := i.now()
	id, hasID := i.tab.Get(sessionIDKey)
	raw, hasStamp := i.tab.Get(sessionLastActivity)

	if hasID && id != "" && hasStamp {
		if millis, err := strconv.ParseInt(raw, 10, 64); err == nil {
			last := time.UnixMilli(millis).UTC()
			if now.Sub(last) <= i.timeout {
				i.tab.Set(sessionLastActivity, strconv.FormatInt(now.UnixMilli(), 10))
				return id, false
			}
		}
		i.tab.Delete(sessionIDKey)
		i.tab.Delete(sessionLastActivity)
	}

	id = uuid.NewString()
	i.tab.Set(sessionIDKey, id)
	i.tab.Set(sessionLastActivity, strconv.FormatInt(now.UnixMilli(), 10))
	return id, true
}

// Touch records activity on the current session without rotating it.
func (i *Identity) Touch() {
	i.tab.Set(sessionLastActivity, strconv.FormatInt(i.now().UnixMilli(), 10))
}

// JourneyID returns the tab-scoped journey id, creating it on first call.
// The second return value reports creation so the caller can emit the
// journey-start beacon exactly once.
func (i *Identity) JourneyID() (string, bool) {
	if id, ok := i.tab.Get(journeyIDKey); ok && id != "" {
		return id, false
	}
	id := uuid.NewString()
	i.tab.Set(journeyIDKey, id)
	return id, true
}
