package v1_test

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studiometrics/internal/testsupport"
)

func TestAggregateHandler(t *testing.T) {
	t.Run("serves the overview shape", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)
		app := testsupport.CreateMinimalTestApp(t, db)

		now := time.Now().UTC()
		for _, pageCount := range []int{1, 2} {
			testsupport.CreateTestSession(t, db, 1, pageCount, 40, now)
		}

		req := postJSON(t, "/api/v1/analytics", map[string]interface{}{
			"metric_type": "overview",
			"date_range":  "7d",
		})
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		var report map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &report))
		assert.Equal(t, float64(40), report["avgSessionDuration"])
		assert.Equal(t, "50", report["bounceRate"])
	})

	t.Run("unknown metric type is a 500", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)
		app := testsupport.CreateMinimalTestApp(t, db)

		req := postJSON(t, "/api/v1/analytics", map[string]interface{}{
			"metric_type": "revenue",
			"date_range":  "7d",
		})
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		var parsed map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &parsed))
		assert.NotEmpty(t, parsed["error"])
	})

	t.Run("empty date range defaults to the weekly window", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)
		app := testsupport.CreateMinimalTestApp(t, db)

		req := postJSON(t, "/api/v1/analytics", map[string]interface{}{
			"metric_type": "pages",
		})
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		var report map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &report))
		assert.Equal(t, float64(0), report["totalPages"])
	})
}
