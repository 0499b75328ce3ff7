package v1_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulseboard/internal/testsupport"
	"pulseboard/internal/tracking"
)

const firefoxUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0"

func track(t *testing.T, app *fiber.App, body string, headers map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/api/analytics/track", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(raw)
}

func TestTrackHandler_BeaconTextPlain(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	testsupport.CleanAllTables(db)
	app := testsupport.CreateMinimalTestApp(t, db)

	status, body := track(t, app,
		`{"siteId":"acme","sessionId":"beacon-1","eventType":"page_view","pageUrl":"https://acme.test/"}`,
		map[string]string{"Content-Type": "text/plain;charset=UTF-8", "User-Agent": firefoxUA})
	require.Equal(t, fiber.StatusOK, status, body)
	assert.JSONEq(t, `{"success":true}`, body)

	var visitor tracking.Visitor
	require.NoError(t, db.Where("session_id = ?", "beacon-1").First(&visitor).Error)
	assert.Equal(t, "acme", visitor.SiteID)
	assert.Equal(t, firefoxUA, visitor.UserAgent)
	assert.Equal(t, "desktop", visitor.DeviceType)
}

func TestTrackHandler_UserAgentSources(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	testsupport.CleanAllTables(db)
	app := testsupport.CreateMinimalTestApp(t, db)

	// Server-side relays forward the browser's agent in a dedicated header.
	status, _ := track(t, app,
		`{"siteId":"acme","sessionId":"relay-1","eventType":"page_view","pageUrl":"/"}`,
		map[string]string{
			"Content-Type":           "application/json",
			"User-Agent":             "Go-http-client/1.1",
			"X-Forwarded-User-Agent": firefoxUA,
		})
	require.Equal(t, fiber.StatusOK, status)

	// A payload agent wins over headers.
	status, _ = track(t, app,
		`{"siteId":"acme","sessionId":"relay-2","eventType":"page_view","pageUrl":"/","userAgent":"`+firefoxUA+`"}`,
		map[string]string{"Content-Type": "application/json", "User-Agent": "curl/8.0"})
	require.Equal(t, fiber.StatusOK, status)

	var visitors []tracking.Visitor
	require.NoError(t, db.Order("session_id").Find(&visitors).Error)
	require.Len(t, visitors, 2)
	for _, v := range visitors {
		assert.Equal(t, firefoxUA, v.UserAgent, v.SessionID)
	}
}

func TestTrackHandler_BotsAcceptedButNotStored(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	testsupport.CleanAllTables(db)
	app := testsupport.CreateMinimalTestApp(t, db)

	status, body := track(t, app,
		`{"siteId":"acme","sessionId":"bot-1","eventType":"page_view","pageUrl":"/"}`,
		map[string]string{"Content-Type": "application/json", "User-Agent": "Googlebot/2.1 (+http://www.google.com/bot.html)"})
	require.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"success":true}`, body)

	var count int64
	db.Model(&tracking.PageView{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestTrackHandler_SessionOwnedByAnotherSite(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	testsupport.CleanAllTables(db)
	app := testsupport.CreateMinimalTestApp(t, db)

	headers := map[string]string{"Content-Type": "application/json", "User-Agent": firefoxUA}

	status, _ := track(t, app, `{"siteId":"acme","sessionId":"shared","eventType":"page_view","pageUrl":"/"}`, headers)
	require.Equal(t, fiber.StatusOK, status)

	status, body := track(t, app, `{"siteId":"globex","sessionId":"shared","eventType":"page_view","pageUrl":"/"}`, headers)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body, "sessionId")

	var count int64
	db.Model(&tracking.PageView{}).Where("site_id = ?", "globex").Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestTrackHandler_ForwardedClientIPIsHashed(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	testsupport.CleanAllTables(db)
	app := testsupport.CreateMinimalTestApp(t, db)

	status, _ := track(t, app,
		`{"siteId":"acme","sessionId":"ip-1","eventType":"page_view","pageUrl":"/"}`,
		map[string]string{
			"Content-Type":    "application/json",
			"User-Agent":      firefoxUA,
			"X-Forwarded-For": "203.0.113.9, 10.0.0.1",
		})
	require.Equal(t, fiber.StatusOK, status)

	var visitor tracking.Visitor
	require.NoError(t, db.Where("session_id = ?", "ip-1").First(&visitor).Error)
	assert.Len(t, visitor.IPHash, 64)
	assert.NotContains(t, visitor.IPHash, "203.0.113.9")
}
