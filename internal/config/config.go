// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Database types
const (
	SQLiteDatabase = "sqlite"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName               string   `mapstructure:"appname"`
	AppPort               string   `mapstructure:"appport"`
	Environment           string   `mapstructure:"environment"`
	LogLevel              LogLevel `mapstructure:"loglevel"`
	PrivateKey            string   `mapstructure:"privatekey"`
	SessionTimeoutSeconds int      `mapstructure:"sessiontimeoutseconds"`
	Domain                string   `mapstructure:"domain"`

	// File paths
	DatabasePath    string `mapstructure:"storagepath"`
	DatabaseName    string `mapstructure:"-"` // Derived from other settings
	GeoDBPath       string `mapstructure:"geodbpath"`
	PublicDirectory string `mapstructure:"publicdir"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseType         string `mapstructure:"dbtype"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`

	// Google provider credentials. All optional: when missing, the aggregation
	// service never takes the external branch and serves first-party data only.
	GAPropertyID         string `mapstructure:"gapropertyid"`
	ServiceAccountEmail  string `mapstructure:"serviceaccountemail"`
	ServiceAccountKey    string `mapstructure:"serviceaccountkey"`
	PageSpeedAPIKey      string `mapstructure:"pagespeedapikey"`
	SearchConsoleSiteURL string `mapstructure:"searchconsolesiteurl"`

	// Job scheduling settings
	JobIntervalSeconds     int `mapstructure:"jobintervalseconds"`
	InsightIntervalSeconds int `mapstructure:"insightintervalseconds"`

	// Data retention settings
	ReplayRetentionDays int `mapstructure:"replayretentiondays"`

	// MaxMind license key for scheduled GeoLite2 refreshes. Optional: without
	// it the refresh job is a no-op and lookups use whatever file is on disk.
	GeoLiteLicenseKey string `mapstructure:"geolitelicensekey"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		// Set defaults
		v.SetDefault("appname", "studiometrics")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("privatekey", "88888888888888888888888888888888")
		v.SetDefault("sessiontimeoutseconds", 1800)
		v.SetDefault("storagepath", "storage")
		v.SetDefault("geodbpath", "storage/GeoLite2-City.mmdb")
		v.SetDefault("publicdir", "public")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbtype", SQLiteDatabase)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("jobintervalseconds", 60)
		v.SetDefault("insightintervalseconds", 3600)
		v.SetDefault("replayretentiondays", 30)

		// Bind environment variables
		v.BindEnv("appname", "STUDIOMETRICS_APP_NAME")
		v.BindEnv("appport", "STUDIOMETRICS_APP_PORT")
		v.BindEnv("environment", "STUDIOMETRICS_ENV")
		v.BindEnv("loglevel", "STUDIOMETRICS_LOG_LEVEL")
		v.BindEnv("privatekey", "STUDIOMETRICS_PRIVATE_KEY")
		v.BindEnv("sessiontimeoutseconds", "STUDIOMETRICS_SESSION_TIMEOUT_SECONDS")
		v.BindEnv("domain", "STUDIOMETRICS_DOMAIN")
		v.BindEnv("storagepath", "STUDIOMETRICS_STORAGE_PATH")
		v.BindEnv("geodbpath", "STUDIOMETRICS_GEO_DB_PATH")
		v.BindEnv("publicdir", "STUDIOMETRICS_PUBLIC_DIR")
		v.BindEnv("logsdir", "STUDIOMETRICS_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "STUDIOMETRICS_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "STUDIOMETRICS_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "STUDIOMETRICS_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbtype", "STUDIOMETRICS_DB_TYPE")
		v.BindEnv("dbmaxopenconns", "STUDIOMETRICS_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "STUDIOMETRICS_DB_MAX_IDLE_CONNS")
		v.BindEnv("gapropertyid", "STUDIOMETRICS_GA_PROPERTY_ID")
		v.BindEnv("serviceaccountemail", "STUDIOMETRICS_SERVICE_ACCOUNT_EMAIL")
		v.BindEnv("serviceaccountkey", "STUDIOMETRICS_SERVICE_ACCOUNT_KEY")
		v.BindEnv("pagespeedapikey", "STUDIOMETRICS_PAGESPEED_API_KEY")
		v.BindEnv("searchconsolesiteurl", "STUDIOMETRICS_SEARCH_CONSOLE_SITE_URL")
		v.BindEnv("jobintervalseconds", "STUDIOMETRICS_JOB_INTERVAL_SECONDS")
		v.BindEnv("insightintervalseconds", "STUDIOMETRICS_INSIGHT_INTERVAL_SECONDS")
		v.BindEnv("replayretentiondays", "STUDIOMETRICS_REPLAY_RETENTION_DAYS")
		v.BindEnv("geolitelicensekey", "STUDIOMETRICS_GEOLITE_LICENSE_KEY")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		// Validate
		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		// Set derived values
		cfg.DatabaseName = cfg.GetDatabasePath()

		// Validate private key - in production, must be explicitly set (not empty, not default)
		defaultKey := "88888888888888888888888888888888"
		if cfg.PrivateKey == "" {
			log.Fatal("Private key is required")
		}
		if cfg.IsProduction() && cfg.PrivateKey == defaultKey {
			log.Fatal("Production requires a unique STUDIOMETRICS_PRIVATE_KEY (cannot use default)")
		}
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validDBTypes := map[string]bool{
		SQLiteDatabase: true,
	}
	if !validDBTypes[c.DatabaseType] {
		return fmt.Errorf("invalid database type: %s", c.DatabaseType)
	}

	return nil
}

// HasAnalyticsCredentials reports whether the Analytics Data API branch can be
// attempted. Missing credentials are a normal state, not an error.
func (c *Config) HasAnalyticsCredentials() bool {
	return c.GAPropertyID != "" && c.ServiceAccountEmail != "" && strings.TrimSpace(c.ServiceAccountKey) != ""
}

// HasSearchConsoleCredentials reports whether Search Console queries can be attempted.
func (c *Config) HasSearchConsoleCredentials() bool {
	return c.SearchConsoleSiteURL != "" && c.ServiceAccountEmail != "" && strings.TrimSpace(c.ServiceAccountKey) != ""
}

// HasPageSpeedCredentials reports whether PageSpeed audits can be attempted.
func (c *Config) HasPageSpeedCredentials() bool {
	return c.PageSpeedAPIKey != ""
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return "/"
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// GetSessionTimeout returns the visitor session timeout in seconds.
// A session expires once the gap since its last activity exceeds this value.
func (c *Config) GetSessionTimeout() int {
	return c.SessionTimeoutSeconds
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment.
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1 (required for E2E test stability)
// - Development/Production: 10 (allows concurrent reads for parallel dashboard queries)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment.
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
