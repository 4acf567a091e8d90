package jobs

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studiometrics/internal/config"
)

func geoliteTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeGeoLiteArchive(t *testing.T, entries map[string]string) *os.File {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "geolite-*.tar.gz")
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	gzw := gzip.NewWriter(f)
	tw := tar.NewWriter(gzw)
	for name, body := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(body))}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gzw.Close())

	_, err = f.Seek(0, 0)
	require.NoError(t, err)
	return f
}

func TestGeoLiteJobRun(t *testing.T) {
	t.Run("no-op without a license key", func(t *testing.T) {
		job := NewGeoLiteJob(geoliteTestLogger(), &config.Config{GeoDBPath: filepath.Join(t.TempDir(), "GeoLite2-City.mmdb")})
		assert.NoError(t, job.Run())
	})

	t.Run("skips the download while the file is fresh", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "GeoLite2-City.mmdb")
		require.NoError(t, os.WriteFile(dbPath, []byte("current"), 0644))

		job := NewGeoLiteJob(geoliteTestLogger(), &config.Config{GeoLiteLicenseKey: "key", GeoDBPath: dbPath})
		assert.NoError(t, job.Run())

		content, err := os.ReadFile(dbPath)
		require.NoError(t, err)
		assert.Equal(t, "current", string(content))
	})
}

func TestGeoLiteJobExtractDatabase(t *testing.T) {
	t.Run("extracts the mmdb entry", func(t *testing.T) {
		archive := writeGeoLiteArchive(t, map[string]string{
			"GeoLite2-City_20260831/COPYRIGHT.txt":      "copyright",
			"GeoLite2-City_20260831/GeoLite2-City.mmdb": "mmdb-bytes",
		})
		dest := filepath.Join(t.TempDir(), "GeoLite2-City.mmdb")

		job := NewGeoLiteJob(geoliteTestLogger(), &config.Config{})
		require.NoError(t, job.extractDatabase(archive, dest))

		content, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, "mmdb-bytes", string(content))
	})

	t.Run("errors when the archive has no mmdb", func(t *testing.T) {
		archive := writeGeoLiteArchive(t, map[string]string{"README.txt": "docs"})

		job := NewGeoLiteJob(geoliteTestLogger(), &config.Config{})
		err := job.extractDatabase(archive, filepath.Join(t.TempDir(), "out.mmdb"))
		assert.Error(t, err)
	})
}
