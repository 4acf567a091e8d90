package aggregation

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// AnalyticsCache holds the last computed payload per (metric_type, date_range).
// At most one row per key; overwritten, never appended.
type AnalyticsCache struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	MetricType string `gorm:"uniqueIndex:idx_analytics_cache_key;not null"`
	DateRange  string `gorm:"uniqueIndex:idx_analytics_cache_key;not null"`
	Payload    string `gorm:"type:text;not null"`
	FetchedAt  time.Time
}

// SEOCache mirrors AnalyticsCache for search-console results, keyed the same way.
type SEOCache struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	MetricType string `gorm:"uniqueIndex:idx_seo_cache_key;not null"`
	DateRange  string `gorm:"uniqueIndex:idx_seo_cache_key;not null"`
	Payload    string `gorm:"type:text;not null"`
	FetchedAt  time.Time
}

// SEOKeywordRow is one persisted keyword breakdown row, replaced wholesale
// per date_range on each successful external SEO fetch. The insight
// generator's keyword rule reads these.
type SEOKeywordRow struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	DateRange   string `gorm:"index;not null"`
	Keyword     string `gorm:"index;not null"`
	Clicks      int
	Impressions int
	CTR         float64
	Position    float64
	PageURL     string
	FetchedAt   time.Time
}

// SEOPageRow is one persisted page breakdown row, replaced per date_range
// alongside SEOKeywordRow.
type SEOPageRow struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	DateRange   string `gorm:"index;not null"`
	PageURL     string `gorm:"index;not null"`
	Clicks      int
	Impressions int
	Position    float64
	Indexed     bool
	Status      string
	FetchedAt   time.Time
}

// LookupCache returns the stored payload for a key, if any. Existence is the
// only freshness criterion.
func LookupCache(db *gorm.DB, metricType string, dateRange DateRange) (string, bool, error) {
	var row AnalyticsCache
	err := db.Where("metric_type = ? AND date_range = ?", metricType, string(dateRange)).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read analytics cache: %w", err)
	}
	return row.Payload, true, nil
}

// StoreCache upserts a payload for a key. Concurrent writers race benignly;
// last writer wins.
func StoreCache(dbManager cartridge.DBManager, logger *slog.Logger, metricType string, dateRange DateRange, payload string) error {
	db := dbManager.GetConnection()
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Exec(`
			INSERT INTO analytics_caches (metric_type, date_range, payload, fetched_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(metric_type, date_range) DO UPDATE SET
				payload = excluded.payload,
				fetched_at = excluded.fetched_at
		`, metricType, string(dateRange), payload, time.Now().UTC()).Error
	})
	if err != nil {
		return fmt.Errorf("failed to store analytics cache: %w", err)
	}
	return nil
}

// StoreSEOCache upserts the seo payload into the SEO-specific cache table.
func StoreSEOCache(dbManager cartridge.DBManager, logger *slog.Logger, dateRange DateRange, payload string) error {
	db := dbManager.GetConnection()
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Exec(`
			INSERT INTO seo_caches (metric_type, date_range, payload, fetched_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(metric_type, date_range) DO UPDATE SET
				payload = excluded.payload,
				fetched_at = excluded.fetched_at
		`, MetricSEO, string(dateRange), payload, time.Now().UTC()).Error
	})
	if err != nil {
		return fmt.Errorf("failed to store seo cache: %w", err)
	}
	return nil
}

// ReplaceSEOBreakdown swaps the keyword and page breakdown rows for a
// date_range in one transaction.
func ReplaceSEOBreakdown(dbManager cartridge.DBManager, logger *slog.Logger, dateRange DateRange, report *SEOReport) error {
	now := time.Now().UTC()
	db := dbManager.GetConnection()

	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		if err := tx.Where("date_range = ?", string(dateRange)).Delete(&SEOKeywordRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("date_range = ?", string(dateRange)).Delete(&SEOPageRow{}).Error; err != nil {
			return err
		}
		for _, kw := range report.Keywords {
			row := SEOKeywordRow{
				DateRange:   string(dateRange),
				Keyword:     kw.Keyword,
				Clicks:      kw.Clicks,
				Impressions: kw.Impressions,
				CTR:         kw.CTR,
				Position:    kw.Position,
				PageURL:     kw.PageURL,
				FetchedAt:   now,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		for _, page := range report.Pages {
			row := SEOPageRow{
				DateRange:   string(dateRange),
				PageURL:     page.PageURL,
				Clicks:      page.Clicks,
				Impressions: page.Impressions,
				Position:    page.Position,
				Indexed:     page.Indexed,
				Status:      page.Status,
				FetchedAt:   now,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace seo breakdown rows: %w", err)
	}
	return nil
}
