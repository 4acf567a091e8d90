package events

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// PruneReplayChunks deletes replay chunks older than the retention window.
// Raw page views, click events and metrics are never pruned here; replay
// data is the only high-volume, low-value table.
func PruneReplayChunks(dbManager cartridge.DBManager, logger *slog.Logger, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	db := dbManager.GetConnection()

	var deleted int64
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Where("created_at < ?", cutoff).Delete(&ReplayChunk{})
		deleted = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune replay chunks: %w", err)
	}
	return deleted, nil
}

// ActiveSessionCount returns the number of sessions with activity inside the
// inactivity window that are still marked active.
func ActiveSessionCount(db *gorm.DB) (int64, error) {
	cutoff := time.Now().UTC().Add(-SessionTimeout())
	var count int64
	err := db.Model(&Session{}).
		Where("active = ? AND last_activity_at >= ?", true, cutoff).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}
	return count, nil
}

// RecentPageViews returns the most recent page views, newest first.
func RecentPageViews(db *gorm.DB, limit int) ([]PageView, error) {
	var views []PageView
	err := db.Order("viewed_at DESC").Limit(limit).Find(&views).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recent page views: %w", err)
	}
	return views, nil
}

// RecentClickEvents returns the most recent click events, newest first.
func RecentClickEvents(db *gorm.DB, limit int) ([]ClickEvent, error) {
	var clicks []ClickEvent
	err := db.Order("created_at DESC").Limit(limit).Find(&clicks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recent click events: %w", err)
	}
	return clicks, nil
}
