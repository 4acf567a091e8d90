package jobs

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"studiometrics/internal/config"
	"studiometrics/internal/pkg/geoip"
)

const (
	// MaxMind publishes GeoLite2 updates weekly.
	geoLiteUpdateInterval = 7 * 24 * time.Hour
	maxMindDownloadURL    = "https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-City&license_key=%s&suffix=tar.gz"
)

// GeoLiteJob refreshes the GeoLite2 City database used for ingest-time geo
// enrichment. Without a license key the job is a no-op and lookups keep using
// whatever database file is already on disk.
type GeoLiteJob struct {
	logger *slog.Logger
	cfg    *config.Config
}

func NewGeoLiteJob(logger *slog.Logger, cfg *config.Config) *GeoLiteJob {
	return &GeoLiteJob{logger: logger, cfg: cfg}
}

func (j *GeoLiteJob) Run() error {
	if j.cfg.GeoLiteLicenseKey == "" {
		j.logger.Debug("GeoLite license key not configured, skipping update")
		return nil
	}
	if j.cfg.GeoDBPath == "" {
		j.logger.Debug("GeoLite database path not configured, skipping update")
		return nil
	}

	// Freshness is tracked through the database file's modification time.
	if info, err := os.Stat(j.cfg.GeoDBPath); err == nil {
		if age := time.Since(info.ModTime()); age < geoLiteUpdateInterval {
			j.logger.Debug("GeoLite database is up to date",
				slog.String("path", j.cfg.GeoDBPath),
				slog.Duration("age", age))
			return nil
		}
	}

	j.logger.Info("Starting GeoLite database update", slog.String("path", j.cfg.GeoDBPath))
	if err := j.downloadDatabase(); err != nil {
		return err
	}

	// Reopen the in-memory reader so ingestion picks up the new file.
	geoip.Reload()
	j.logger.Info("GeoLite database updated", slog.String("path", j.cfg.GeoDBPath))
	return nil
}

func (j *GeoLiteJob) downloadDatabase() error {
	if err := os.MkdirAll(filepath.Dir(j.cfg.GeoDBPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	resp, err := http.Get(fmt.Sprintf(maxMindDownloadURL, j.cfg.GeoLiteLicenseKey))
	if err != nil {
		return fmt.Errorf("failed to download GeoLite database: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GeoLite download failed with status %d", resp.StatusCode)
	}

	tempFile, err := os.CreateTemp("", "geolite-*.tar.gz")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tempFile.Name())
	defer tempFile.Close()

	if _, err := io.Copy(tempFile, resp.Body); err != nil {
		return fmt.Errorf("failed to save download: %w", err)
	}
	if _, err := tempFile.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to rewind download: %w", err)
	}

	return j.extractDatabase(tempFile, j.cfg.GeoDBPath)
}

// extractDatabase pulls the .mmdb entry out of the MaxMind tar.gz archive.
func (j *GeoLiteJob) extractDatabase(archive *os.File, destPath string) error {
	gzr, err := gzip.NewReader(archive)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read archive: %w", err)
		}
		if !strings.HasSuffix(header.Name, ".mmdb") {
			continue
		}

		outFile, err := os.Create(destPath)
		if err != nil {
			return fmt.Errorf("failed to create database file: %w", err)
		}
		defer outFile.Close()

		if _, err := io.Copy(outFile, tr); err != nil {
			return fmt.Errorf("failed to extract database: %w", err)
		}
		return nil
	}

	return fmt.Errorf("no .mmdb file found in archive")
}
