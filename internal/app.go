// Package internal wires the application together.
package internal

import (
	"fmt"

	"github.com/karloscodes/cartridge"

	"studiometrics/internal/aggregation"
	"studiometrics/internal/config"
	"studiometrics/internal/database"
	"studiometrics/internal/google"
	"studiometrics/internal/insights"
	"studiometrics/internal/jobs"
	"studiometrics/internal/pkg/geoip"
)

// Application wraps cartridge.Application with the studiometrics components.
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager
	Service   *aggregation.Service
}

// NewApp creates the application with the singleton configuration.
func NewApp() (*Application, error) {
	return NewAppWithConfig(config.GetConfig())
}

// NewAppWithConfig builds the full dependency graph: database, geo lookups,
// the external provider (when credentials exist), the aggregation service,
// and the background jobs.
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := dbManager.MigrateDatabase(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	geoip.InitLogger(logger)

	generator := insights.NewGenerator(dbManager, logger)

	// A nil provider simply disables the external branch.
	var provider aggregation.Provider
	if client := google.NewClient(cfg, logger); client != nil {
		provider = client
	}
	service := aggregation.NewService(dbManager, logger, provider, generator)

	scheduler, err := jobs.NewScheduler(dbManager, logger, generator)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize jobs: %w", err)
	}

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:            cfg,
		Logger:            logger,
		DBManager:         dbManager,
		RouteMountFunc:    MountRoutes(service),
		BackgroundWorkers: []cartridge.BackgroundWorker{scheduler},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		Service:     service,
	}, nil
}
