package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mail-aggregator/internal/store"
)

func TestStatsOverviewEmpty(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/stats/overview", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)

	totals := body["totals"].(map[string]interface{})
	assert.Equal(t, float64(0), totals["emails"])
	assert.Equal(t, float64(0), totals["unread"])
	assert.Equal(t, float64(0), totals["accounts"])
	assert.Nil(t, totals["oldest_received_at"])
	assert.Nil(t, totals["newest_received_at"])

	trend := body["trend"].(map[string]interface{})
	daily := trend["daily"].([]interface{})
	assert.Len(t, daily, 30)
	for _, d := range daily {
		assert.Equal(t, float64(0), d.(map[string]interface{})["count"])
	}

	assert.Equal(t, []interface{}{}, body["by_account"])

	db := body["db"].(map[string]interface{})
	assert.Equal(t, ":memory:", db["path"])
}

func TestStatsOverviewTrend(t *testing.T) {
	a := newTestAPI(t)
	id := accountID(t, a.createAccount(t, "box@example.com"))

	now := time.Now().UTC()
	a.seedEmailAt(t, id, "today one", "s@example.com", "x", now)
	a.seedEmailAt(t, id, "today two", "s@example.com", "x", now)
	a.seedEmailAt(t, id, "earlier", "s@example.com", "x", now.AddDate(0, 0, -3))

	rec := a.do(t, http.MethodGet, "/api/stats/overview?days=7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)

	totals := body["totals"].(map[string]interface{})
	assert.Equal(t, float64(3), totals["emails"])
	assert.Equal(t, float64(3), totals["unread"])
	assert.Equal(t, float64(1), totals["accounts"])

	_, err := time.Parse(time.RFC3339, totals["oldest_received_at"].(string))
	assert.NoError(t, err)

	trend := body["trend"].(map[string]interface{})
	daily := trend["daily"].([]interface{})
	require.Len(t, daily, 7)
	last := daily[6].(map[string]interface{})
	assert.Equal(t, now.Format("2006-01-02"), last["date"])
	assert.Equal(t, float64(2), last["count"])

	var dailySum, weeklySum float64
	for _, d := range daily {
		dailySum += d.(map[string]interface{})["count"].(float64)
	}
	for _, wk := range trend["weekly"].([]interface{}) {
		weeklySum += wk.(map[string]interface{})["count"].(float64)
	}
	assert.Equal(t, float64(3), dailySum)
	assert.Equal(t, dailySum, weeklySum)

	byAccount := body["by_account"].([]interface{})
	require.Len(t, byAccount, 1)
	first := byAccount[0].(map[string]interface{})
	assert.Equal(t, "box@example.com", first["account_email"])
	assert.Equal(t, float64(3), first["total"])
	assert.Equal(t, float64(1), first["share"])
}

func TestStatsOverviewClampsDays(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/stats/overview?days=0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trend := decodeMap(t, rec)["trend"].(map[string]interface{})
	assert.Len(t, trend["daily"].([]interface{}), 1)

	rec = a.do(t, http.MethodGet, "/api/stats/overview?days=100000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trend = decodeMap(t, rec)["trend"].(map[string]interface{})
	assert.Len(t, trend["daily"].([]interface{}), 365)
}

func TestCleanupDryRunThenReal(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()
	id := accountID(t, a.createAccount(t, "box@example.com"))
	a.seedEmailAt(t, id, "ancient", "s@example.com", "x", time.Now().UTC().AddDate(0, 0, -40))
	a.seedEmail(t, id, "fresh", "s@example.com", "x")

	rec := a.do(t, http.MethodPost, "/api/stats/cleanup", map[string]interface{}{"keep_days": 30})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, true, body["dry_run"])
	assert.Equal(t, float64(30), body["keep_days"])
	assert.Nil(t, body["keep_per_account"])
	assert.Equal(t, float64(1), body["would_delete"])
	assert.NotContains(t, body, "deleted")
	details := body["details"].(map[string]interface{})
	assert.Equal(t, float64(1), details["by_days"])

	// Dry run deleted nothing.
	_, total, err := a.store.ListMessages(ctx, store.MessageQuery{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	rec = a.do(t, http.MethodPost, "/api/stats/cleanup", map[string]interface{}{
		"keep_days": 30, "dry_run": false, "vacuum": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeMap(t, rec)
	assert.Equal(t, false, body["dry_run"])
	assert.Equal(t, float64(1), body["deleted"])
	assert.Equal(t, true, body["vacuumed"])

	_, total, err = a.store.ListMessages(ctx, store.MessageQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestCleanupFallsBackToSettings(t *testing.T) {
	a := newTestAPI(t)
	id := accountID(t, a.createAccount(t, "box@example.com"))
	a.seedEmailAt(t, id, "ancient", "s@example.com", "x", time.Now().UTC().AddDate(0, 0, -40))

	rec := a.do(t, http.MethodPatch, "/api/settings", map[string]interface{}{"retention_keep_days": 30})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/stats/cleanup", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, float64(30), body["keep_days"])
	assert.Equal(t, float64(1), body["would_delete"])

	// Opting out of the settings fallback leaves no bounds at all.
	rec = a.do(t, http.MethodPost, "/api/stats/cleanup", map[string]interface{}{
		"use_settings_defaults": false,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCleanupValidation(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/stats/cleanup", map[string]interface{}{"keep_days": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/stats/cleanup", map[string]interface{}{"keep_per_account": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// No explicit bounds and no retention settings configured.
	rec = a.do(t, http.MethodPost, "/api/stats/cleanup", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestArchiveEndpointAndDownload(t *testing.T) {
	a := newTestAPI(t)
	id := accountID(t, a.createAccount(t, "box@example.com"))
	a.seedEmailAt(t, id, "ancient", "s@example.com", "x", time.Now().UTC().AddDate(0, 0, -200))
	a.seedEmail(t, id, "fresh", "s@example.com", "x")

	rec := a.do(t, http.MethodPost, "/api/stats/archive", map[string]interface{}{"older_than_days": 180})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, float64(1), body["count"])
	require.NotNil(t, body["file_name"])
	name := body["file_name"].(string)
	assert.Equal(t, "/api/stats/archive/"+name, body["download_url"])

	rec = a.do(t, http.MethodGet, "/api/stats/archive/"+name, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/jsonl", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), name)
	assert.Contains(t, rec.Body.String(), "ancient")
}

func TestArchiveValidation(t *testing.T) {
	a := newTestAPI(t)

	// older_than_days has no default.
	rec := a.do(t, http.MethodPost, "/api/stats/archive", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/stats/archive", map[string]interface{}{"older_than_days": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/stats/archive", map[string]interface{}{"older_than_days": 36501})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/stats/archive", map[string]interface{}{
		"older_than_days": 30, "limit": -1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/stats/archive/a..b.jsonl", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/stats/archive/absent.jsonl", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArchiveNothingOld(t *testing.T) {
	a := newTestAPI(t)
	id := accountID(t, a.createAccount(t, "box@example.com"))
	a.seedEmail(t, id, "fresh", "s@example.com", "x")

	rec := a.do(t, http.MethodPost, "/api/stats/archive", map[string]interface{}{"older_than_days": 30})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, float64(0), body["count"])
	assert.Nil(t, body["file_name"])
	assert.Nil(t, body["download_url"])
}
