package events

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"studiometrics/internal/config"
)

// Expired reports whether a session with the given last activity time has
// lapsed at `now`. The boundary is exclusive: a gap of exactly the timeout
// is still active, only a strictly greater gap expires the session.
func Expired(lastActivity, now time.Time, timeout time.Duration) bool {
	return now.Sub(lastActivity) > timeout
}

// SessionTimeout returns the configured inactivity window.
func SessionTimeout() time.Duration {
	return time.Duration(config.GetConfig().GetSessionTimeout()) * time.Second
}

// StartSessionInput carries the attribution captured on a session's first activity.
type StartSessionInput struct {
	VisitorID   uint
	EntryPage   string
	Referrer    string
	UTMSource   string
	UTMMedium   string
	UTMCampaign string
}

// StartSession creates a fresh active session for a visitor.
func StartSession(dbManager cartridge.DBManager, logger *slog.Logger, input *StartSessionInput) (*Session, error) {
	now := time.Now().UTC()
	session := &Session{
		VisitorID:      input.VisitorID,
		StartedAt:      now,
		LastActivityAt: now,
		EntryPage:      input.EntryPage,
		ExitPage:       input.EntryPage,
		Referrer:       input.Referrer,
		UTMSource:      input.UTMSource,
		UTMMedium:      input.UTMMedium,
		UTMCampaign:    input.UTMCampaign,
		Active:         true,
		CreatedAt:      now,
	}

	db := dbManager.GetConnection()
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(session).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// ResolveSession returns the session for the given id if it is still inside
// the inactivity window, or starts a replacement session for the same visitor
// when it has lapsed. A zero id always starts a new session.
func ResolveSession(dbManager cartridge.DBManager, logger *slog.Logger, sessionID uint, input *StartSessionInput) (*Session, error) {
	db := dbManager.GetConnection()

	if sessionID != 0 {
		var session Session
		err := db.First(&session, sessionID).Error
		if err == nil {
			if session.Active && !Expired(session.LastActivityAt, time.Now().UTC(), SessionTimeout()) {
				return &session, nil
			}
			if err := closeSession(dbManager, logger, &session); err != nil {
				logger.Warn("Failed to close lapsed session",
					slog.Any("error", err),
					slog.Uint64("session_id", uint64(session.ID)))
			}
		} else if err != gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
	}

	return StartSession(dbManager, logger, input)
}

// Touch records activity on a session: bumps last-activity, duration and the
// exit page, and optionally the page count.
func Touch(dbManager cartridge.DBManager, logger *slog.Logger, session *Session, pagePath string, countPage bool) error {
	now := time.Now().UTC()
	session.LastActivityAt = now
	session.Duration = int(now.Sub(session.StartedAt).Seconds())
	if pagePath != "" {
		session.ExitPage = pagePath
	}
	if countPage {
		session.PageCount++
	}

	db := dbManager.GetConnection()
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Model(&Session{}).Where("id = ?", session.ID).Updates(map[string]interface{}{
			"last_activity_at": session.LastActivityAt,
			"duration":         session.Duration,
			"exit_page":        session.ExitPage,
			"page_count":       session.PageCount,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func closeSession(dbManager cartridge.DBManager, logger *slog.Logger, session *Session) error {
	endedAt := session.LastActivityAt
	db := dbManager.GetConnection()
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Model(&Session{}).Where("id = ?", session.ID).Updates(map[string]interface{}{
			"active":   false,
			"ended_at": endedAt,
		}).Error
	})
}

// CloseExpiredSessions marks every active session whose inactivity gap has
// exceeded the timeout as closed. Run periodically so realtime reads stay
// consistent. Returns the number of sessions closed.
func CloseExpiredSessions(dbManager cartridge.DBManager, logger *slog.Logger) (int64, error) {
	cutoff := time.Now().UTC().Add(-SessionTimeout())
	db := dbManager.GetConnection()

	var closed int64
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Model(&Session{}).
			Where("active = ? AND last_activity_at < ?", true, cutoff).
			Updates(map[string]interface{}{
				"active":   false,
				"ended_at": gorm.Expr("last_activity_at"),
			})
		closed = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to close expired sessions: %w", err)
	}
	if closed > 0 {
		logger.Debug("Closed expired sessions", slog.Int64("count", closed))
	}
	return closed, nil
}
