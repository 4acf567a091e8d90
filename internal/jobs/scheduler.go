// Package jobs runs the background maintenance work: session close-out,
// scheduled insight generation, replay retention cleanup and GeoLite
// database refresh.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"studiometrics/internal/config"
	"studiometrics/internal/database"
	"studiometrics/internal/insights"
)

// Scheduler is responsible for running background jobs.
type Scheduler struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	enabled   bool
	isRunning bool
	cfg       *config.Config

	// Mutex to prevent concurrent job executions
	processingMutex sync.Mutex
	isProcessing    bool

	sessionJob  *SessionCloseJob
	insightsJob *InsightsJob
	cleanupJob  *CleanupJob
	geoliteJob  *GeoLiteJob

	sessionTicker  *time.Ticker
	insightsTicker *time.Ticker
	cleanupTicker  *time.Ticker
	geoliteTicker  *time.Ticker
}

func NewScheduler(dbManager *database.DBManager, logger *slog.Logger, generator *insights.Generator) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := config.GetConfig()

	s := &Scheduler{
		dbManager: dbManager,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		enabled:   true,
		cfg:       cfg,
	}

	s.sessionJob = NewSessionCloseJob(dbManager, logger)
	s.insightsJob = NewInsightsJob(generator, logger)
	s.cleanupJob = NewCleanupJob(dbManager, logger, cfg)
	s.geoliteJob = NewGeoLiteJob(logger, cfg)

	return s, nil
}

// executeJobSafely runs a job only if no other job is currently executing.
func (s *Scheduler) executeJobSafely(jobName string, jobFunc func() error) {
	s.processingMutex.Lock()
	if s.isProcessing {
		s.logger.Debug("Skipping job execution - previous job still running", slog.String("job", jobName))
		s.processingMutex.Unlock()
		return
	}
	s.isProcessing = true
	s.processingMutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
		}

		s.processingMutex.Lock()
		s.isProcessing = false
		s.processingMutex.Unlock()
	}()

	if err := jobFunc(); err != nil {
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
	}
}

// Start begins all background jobs.
func (s *Scheduler) Start() error {
	if !s.enabled {
		s.logger.Info("Background jobs are disabled.")
		return nil
	}
	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	s.logger.Info("Starting background jobs...")
	s.isRunning = true

	s.startSessionCloseJob()
	s.startInsightsJob()
	s.startCleanupJob()
	s.startGeoLiteJob()

	s.logger.Info("Background jobs started",
		slog.Bool("enabled", s.enabled),
		slog.Bool("isRunning", s.isRunning))
	return nil
}

func (s *Scheduler) startSessionCloseJob() {
	interval := time.Duration(s.cfg.JobIntervalSeconds) * time.Second
	s.logger.Info("Starting session close-out job", slog.Duration("interval", interval))
	s.sessionTicker = time.NewTicker(interval)

	go func() {
		s.executeJobSafely("session_close", s.sessionJob.Run)
		for {
			select {
			case <-s.sessionTicker.C:
				s.executeJobSafely("session_close", s.sessionJob.Run)
			case <-s.ctx.Done():
				s.logger.Info("Session close-out job stopped")
				return
			}
		}
	}()
}

func (s *Scheduler) startInsightsJob() {
	interval := time.Duration(s.cfg.InsightIntervalSeconds) * time.Second
	s.logger.Info("Starting insight generation job", slog.Duration("interval", interval))
	s.insightsTicker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-s.insightsTicker.C:
				s.executeJobSafely("insights", s.insightsJob.Run)
			case <-s.ctx.Done():
				s.logger.Info("Insight generation job stopped")
				return
			}
		}
	}()
}

func (s *Scheduler) startCleanupJob() {
	interval := 24 * time.Hour
	s.logger.Info("Starting cleanup job", slog.Duration("interval", interval))
	s.cleanupTicker = time.NewTicker(interval)

	go func() {
		s.executeJobSafely("cleanup", s.cleanupJob.Run)
		for {
			select {
			case <-s.cleanupTicker.C:
				s.executeJobSafely("cleanup", s.cleanupJob.Run)
			case <-s.ctx.Done():
				s.logger.Info("Cleanup job stopped")
				return
			}
		}
	}()
}

func (s *Scheduler) startGeoLiteJob() {
	// The job itself skips the download while the file is fresh, so a daily
	// check is enough to track MaxMind's weekly releases.
	interval := 24 * time.Hour
	s.logger.Info("Starting GeoLite update job", slog.Duration("interval", interval))
	s.geoliteTicker = time.NewTicker(interval)

	go func() {
		s.executeJobSafely("geolite_update", s.geoliteJob.Run)
		for {
			select {
			case <-s.geoliteTicker.C:
				s.executeJobSafely("geolite_update", s.geoliteJob.Run)
			case <-s.ctx.Done():
				s.logger.Info("GeoLite update job stopped")
				return
			}
		}
	}()
}

// Stop halts all background jobs.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	s.enabled = false

	if s.sessionTicker != nil {
		s.sessionTicker.Stop()
	}
	if s.insightsTicker != nil {
		s.insightsTicker.Stop()
	}
	if s.cleanupTicker != nil {
		s.cleanupTicker.Stop()
	}
	if s.geoliteTicker != nil {
		s.geoliteTicker.Stop()
	}

	s.cancel()
	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running.
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}
