// Package insights evaluates fixed threshold rules against recent traffic,
// performance and search data and records actionable recommendations.
package insights

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"studiometrics/internal/events"
)

// Insight priorities.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Insight statuses. Operators move insights from new onwards; the generator
// only ever creates them as new.
const (
	StatusNew     = "new"
	StatusViewed  = "viewed"
	StatusApplied = "applied"
)

// Rule thresholds.
const (
	mobileShareThreshold  = 40.0
	mobileScoreThreshold  = 60
	keywordImpressionsMin = 500
	keywordCTRThreshold   = 2.0
)

// DecisionInsight is a persisted recommendation. Never auto-deleted; status
// transitions are operator actions.
type DecisionInsight struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	Type            string `gorm:"index;not null"`
	Title           string `gorm:"index;not null"`
	Description     string `gorm:"type:text"`
	Priority        string `gorm:"not null"`
	SuggestedAction string `gorm:"type:text"`
	Status          string `gorm:"index;not null;default:new"`
	CreatedAt       time.Time
}

// Definition is the outward-facing shape of a generated insight, returned
// inline so consumers need no second fetch.
type Definition struct {
	Type            string `json:"type"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Priority        string `json:"priority"`
	SuggestedAction string `json:"suggested_action"`
}

// Result is the generate_insights response shape.
type Result struct {
	InsightsGenerated int          `json:"insights_generated"`
	Details           []Definition `json:"details"`
}

// Generator runs the rule set. Safe to invoke repeatedly: duplicates are
// suppressed by the title+new-status check.
type Generator struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
}

func NewGenerator(dbManager cartridge.DBManager, logger *slog.Logger) *Generator {
	return &Generator{dbManager: dbManager, logger: logger}
}

// Run evaluates every rule and inserts the insights that are not already
// open. Returns the newly generated definitions.
func (g *Generator) Run() (*Result, error) {
	db := g.dbManager.GetConnection()

	candidates := []Definition{}
	if insight, ok := g.mobileExperienceRule(db); ok {
		candidates = append(candidates, insight)
	}
	keywordInsights, err := g.seoOpportunityRule(db)
	if err != nil {
		g.logger.Warn("SEO opportunity rule failed", slog.Any("error", err))
	} else {
		candidates = append(candidates, keywordInsights...)
	}

	result := &Result{Details: []Definition{}}
	for _, candidate := range candidates {
		inserted, err := g.insertIfAbsent(candidate)
		if err != nil {
			return nil, err
		}
		if inserted {
			result.InsightsGenerated++
			result.Details = append(result.Details, candidate)
		}
	}
	return result, nil
}

// mobileExperienceRule fires when mobile visitors dominate but the recorded
// mobile performance score is poor.
func (g *Generator) mobileExperienceRule(db *gorm.DB) (Definition, bool) {
	rangeStart := time.Now().UTC().AddDate(0, 0, -30)

	var total, mobile int64
	if err := db.Model(&events.Visitor{}).Where("last_seen_at >= ?", rangeStart).Count(&total).Error; err != nil {
		g.logger.Warn("Mobile experience rule: visitor count failed", slog.Any("error", err))
		return Definition{}, false
	}
	if total == 0 {
		return Definition{}, false
	}
	if err := db.Model(&events.Visitor{}).
		Where("last_seen_at >= ? AND device_type = ?", rangeStart, "mobile").
		Count(&mobile).Error; err != nil {
		g.logger.Warn("Mobile experience rule: mobile count failed", slog.Any("error", err))
		return Definition{}, false
	}

	share := float64(mobile) / float64(total) * 100
	score, ok := latestMobileScore(db)
	if !ok {
		return Definition{}, false
	}
	if share <= mobileShareThreshold || score >= mobileScoreThreshold {
		return Definition{}, false
	}

	return Definition{
		Type:     "mobile_experience",
		Title:    "Mobile experience needs attention",
		Priority: PriorityHigh,
		Description: fmt.Sprintf(
			"%.0f%% of recent visitors are on mobile, but the mobile performance score is %d.",
			share, score),
		SuggestedAction: "Audit the heaviest mobile pages and reduce render-blocking work.",
	}, true
}

// latestMobileScore reads the most recent cached performance payload. The
// table is queried by name to keep this package independent of the
// aggregation types.
func latestMobileScore(db *gorm.DB) (int, bool) {
	var row struct {
		Payload string
	}
	err := db.Table("analytics_caches").
		Select("payload").
		Where("metric_type = ?", "performance").
		Order("fetched_at DESC").
		Limit(1).
		Scan(&row).Error
	if err != nil || row.Payload == "" {
		return 0, false
	}

	var report struct {
		MobileScore int `json:"mobileScore"`
	}
	if err := json.Unmarshal([]byte(row.Payload), &report); err != nil {
		return 0, false
	}
	if report.MobileScore == 0 {
		return 0, false
	}
	return report.MobileScore, true
}

// seoOpportunityRule flags keywords with plenty of impressions but a weak
// click-through rate.
func (g *Generator) seoOpportunityRule(db *gorm.DB) ([]Definition, error) {
	var rows []struct {
		Keyword     string
		Impressions int
		CTR         float64
	}
	err := db.Table("seo_keyword_rows").
		Select("keyword, impressions, ctr").
		Where("impressions > ? AND ctr < ?", keywordImpressionsMin, keywordCTRThreshold).
		Order("impressions DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan keyword rows: %w", err)
	}

	insights := make([]Definition, 0, len(rows))
	for _, row := range rows {
		insights = append(insights, Definition{
			Type:     "seo_opportunity",
			Title:    fmt.Sprintf("Low CTR for keyword %q", row.Keyword),
			Priority: PriorityMedium,
			Description: fmt.Sprintf(
				"Keyword %q has %d impressions but only %.1f%% click-through.",
				row.Keyword, row.Impressions, row.CTR),
			SuggestedAction: "Rework the title and meta description for the ranking page.",
		})
	}
	return insights, nil
}

// insertIfAbsent inserts the insight unless one with the same title is still
// open, so repeated runs do not accumulate duplicates.
func (g *Generator) insertIfAbsent(candidate Definition) (bool, error) {
	db := g.dbManager.GetConnection()

	var existing int64
	err := db.Model(&DecisionInsight{}).
		Where("title = ? AND status = ?", candidate.Title, StatusNew).
		Count(&existing).Error
	if err != nil {
		return false, fmt.Errorf("failed to check for duplicate insight: %w", err)
	}
	if existing > 0 {
		return false, nil
	}

	insight := &DecisionInsight{
		Type:            candidate.Type,
		Title:           candidate.Title,
		Description:     candidate.Description,
		Priority:        candidate.Priority,
		SuggestedAction: candidate.SuggestedAction,
		Status:          StatusNew,
		CreatedAt:       time.Now().UTC(),
	}
	err = sqlite.PerformWrite(g.logger, db, func(tx *gorm.DB) error {
		return tx.Create(insight).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to store insight: %w", err)
	}
	return true, nil
}

// UpdateStatus applies an operator status transition.
func (g *Generator) UpdateStatus(insightID uint, status string) error {
	if status != StatusNew && status != StatusViewed && status != StatusApplied {
		return fmt.Errorf("unknown insight status: %s", status)
	}
	db := g.dbManager.GetConnection()
	err := sqlite.PerformWrite(g.logger, db, func(tx *gorm.DB) error {
		return tx.Model(&DecisionInsight{}).Where("id = ?", insightID).
			Update("status", status).Error
	})
	if err != nil {
		return fmt.Errorf("failed to update insight status: %w", err)
	}
	return nil
}
