package jobs

import (
	"log/slog"

	"studiometrics/internal/database"
	"studiometrics/internal/events"
)

// SessionCloseJob marks sessions whose inactivity window has lapsed as
// closed, keeping realtime reads consistent.
type SessionCloseJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
}

func NewSessionCloseJob(dbManager *database.DBManager, logger *slog.Logger) *SessionCloseJob {
	return &SessionCloseJob{dbManager: dbManager, logger: logger}
}

func (j *SessionCloseJob) Run() error {
	closed, err := events.CloseExpiredSessions(j.dbManager, j.logger)
	if err != nil {
		return err
	}
	if closed > 0 {
		j.logger.Info("Closed expired sessions", slog.Int64("count", closed))
	}
	return nil
}
