package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCredentialPredicates(t *testing.T) {
	t.Run("analytics needs property, email and key", func(t *testing.T) {
		c := &Config{GAPropertyID: "123", ServiceAccountEmail: "sa@example.com", ServiceAccountKey: "key"}
		assert.True(t, c.HasAnalyticsCredentials())

		assert.False(t, (&Config{GAPropertyID: "123", ServiceAccountEmail: "sa@example.com"}).HasAnalyticsCredentials())
		assert.False(t, (&Config{GAPropertyID: "123", ServiceAccountKey: "key"}).HasAnalyticsCredentials())

		// Whitespace-only keys do not count.
		c.ServiceAccountKey = "   "
		assert.False(t, c.HasAnalyticsCredentials())
	})

	t.Run("search console needs site url, email and key", func(t *testing.T) {
		c := &Config{SearchConsoleSiteURL: "https://example.com/", ServiceAccountEmail: "sa@example.com", ServiceAccountKey: "key"}
		assert.True(t, c.HasSearchConsoleCredentials())
		assert.False(t, (&Config{SearchConsoleSiteURL: "https://example.com/"}).HasSearchConsoleCredentials())
	})

	t.Run("pagespeed needs only the api key", func(t *testing.T) {
		assert.True(t, (&Config{PageSpeedAPIKey: "key"}).HasPageSpeedCredentials())
		assert.False(t, (&Config{}).HasPageSpeedCredentials())
	})
}

func TestEnvironmentHelpers(t *testing.T) {
	assert.True(t, (&Config{Environment: Test}).IsTest())
	assert.True(t, (&Config{Environment: Production}).IsProduction())
	assert.True(t, (&Config{Environment: Development}).IsDevelopment())
	assert.False(t, (&Config{Environment: Test}).IsProduction())
}

func TestConnectionPoolDefaults(t *testing.T) {
	// Test runs force a single connection for the shared in-memory database.
	assert.Equal(t, 1, (&Config{Environment: Test}).GetMaxOpenConns())
	assert.Equal(t, 1, (&Config{Environment: Test}).GetMaxIdleConns())

	assert.Equal(t, 10, (&Config{Environment: Production}).GetMaxOpenConns())
	assert.Equal(t, 5, (&Config{Environment: Production}).GetMaxIdleConns())

	// Explicit settings win over the environment defaults.
	assert.Equal(t, 25, (&Config{Environment: Test, DatabaseMaxOpenConns: 25}).GetMaxOpenConns())
}

func TestValidate(t *testing.T) {
	valid := &Config{Environment: Development, DatabaseType: SQLiteDatabase}
	assert.NoError(t, valid.validate())

	assert.Error(t, (&Config{Environment: "staging", DatabaseType: SQLiteDatabase}).validate())
	assert.Error(t, (&Config{Environment: Development, DatabaseType: "postgres"}).validate())
}
