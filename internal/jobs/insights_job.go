package jobs

import (
	"log/slog"

	"studiometrics/internal/insights"
)

// InsightsJob re-evaluates the insight rules on a schedule. The generator's
// dedup keeps repeated runs from accumulating duplicates.
type InsightsJob struct {
	generator *insights.Generator
	logger    *slog.Logger
}

func NewInsightsJob(generator *insights.Generator, logger *slog.Logger) *InsightsJob {
	return &InsightsJob{generator: generator, logger: logger}
}

func (j *InsightsJob) Run() error {
	result, err := j.generator.Run()
	if err != nil {
		return err
	}
	if result.InsightsGenerated > 0 {
		j.logger.Info("Generated insights", slog.Int("count", result.InsightsGenerated))
	}
	return nil
}
