// Package geoip wraps the optional GeoLite2 City database. Lookups are
// best-effort: a missing or unreadable database disables geo enrichment
// without failing ingestion.
package geoip

import (
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/oschwald/geoip2-golang"

	"studiometrics/internal/config"
)

// Location is the geo hint attached to visitors at ingest time.
// Any field may be empty when the database has no data for the address.
type Location struct {
	CountryCode string
	CountryName string
	Region      string
	City        string
}

var (
	reader *geoip2.Reader
	once   sync.Once
	mu     sync.RWMutex
	logger *slog.Logger
)

// InitLogger sets the logger for the geoip package.
func InitLogger(l *slog.Logger) {
	logger = l
}

func openDB() *geoip2.Reader {
	cfg := config.GetConfig()
	if cfg.GeoDBPath == "" {
		if logger != nil {
			logger.Debug("GeoIP database path not configured - geo enrichment disabled")
		}
		return nil
	}

	if _, err := os.Stat(cfg.GeoDBPath); os.IsNotExist(err) {
		if logger != nil {
			logger.Info("GeoLite2 database not found - geo enrichment disabled",
				slog.String("path", cfg.GeoDBPath),
				slog.String("hint", "Download from https://www.maxmind.com/en/geolite2/signup"))
		}
		return nil
	} else if err != nil {
		if logger != nil {
			logger.Warn("Error checking GeoLite2 database file",
				slog.String("path", cfg.GeoDBPath),
				slog.Any("error", err))
		}
		return nil
	}

	db, err := geoip2.Open(cfg.GeoDBPath)
	if err != nil {
		if logger != nil {
			logger.Error("Failed to open GeoLite2 database",
				slog.String("path", cfg.GeoDBPath),
				slog.Any("error", err))
		}
		return nil
	}

	if logger != nil {
		logger.Info("GeoLite2 database initialized",
			slog.String("path", cfg.GeoDBPath))
	}
	return db
}

func getReader() *geoip2.Reader {
	once.Do(func() {
		mu.Lock()
		reader = openDB()
		mu.Unlock()
	})
	mu.RLock()
	defer mu.RUnlock()
	return reader
}

// Lookup resolves a client address into a Location. It returns ok=false when
// the database is unavailable, the address does not parse, or the lookup fails.
func Lookup(ipAddress string) (Location, bool) {
	db := getReader()
	if db == nil {
		return Location{}, false
	}

	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return Location{}, false
	}

	record, err := db.City(ip)
	if err != nil {
		if logger != nil {
			logger.Debug("GeoIP lookup failed",
				slog.String("ip", ipAddress),
				slog.Any("error", err))
		}
		return Location{}, false
	}

	loc := Location{
		CountryCode: record.Country.IsoCode,
		CountryName: record.Country.Names["en"],
		City:        record.City.Names["en"],
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].Names["en"]
	}
	if loc.CountryCode == "" && loc.City == "" {
		return Location{}, false
	}
	return loc, true
}

// Reload reopens the database from disk. Call after replacing the mmdb file.
func Reload() {
	mu.Lock()
	defer mu.Unlock()
	if reader != nil {
		reader.Close()
	}
	reader = openDB()
}
