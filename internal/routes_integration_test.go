package internal_test

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulseboard/internal/config"
	"pulseboard/internal/testsupport"
	"pulseboard/internal/tracking"
)

const chromeUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func postHit(t *testing.T, app *fiber.App, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/api/analytics/track", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", chromeUA)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func getJSON(t *testing.T, app *fiber.App, path string, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	raw, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return resp.StatusCode, out
}

func TestTrackRouteRateLimited(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	var trackRoute *fiber.Route
	routes := app.GetRoutes(true)
	for idx := range routes {
		if routes[idx].Method == fiber.MethodPost && routes[idx].Path == "/api/analytics/track" {
			trackRoute = &routes[idx]
			break
		}
	}
	require.NotNil(t, trackRoute, "expected track route to be registered")

	// The limiter is wrapped so it only applies in production; the wrapper is still mounted.
	hasRateLimiter := false
	var handlerNames []string
	for _, handler := range trackRoute.Handlers {
		name := runtime.FuncForPC(reflect.ValueOf(handler).Pointer()).Name()
		handlerNames = append(handlerNames, name)
		if strings.Contains(name, "middleware/limiter") || strings.Contains(name, "MountAppRoutes.func") {
			hasRateLimiter = true
			break
		}
	}
	require.Truef(t, hasRateLimiter, "expected rate limiter middleware for track route, handlers: %v", handlerNames)
}

func TestRoutesRegistered(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	registered := map[string]bool{}
	for _, route := range app.GetRoutes(true) {
		registered[route.Method+" "+route.Path] = true
	}

	for _, key := range []string{
		"GET /_health",
		"HEAD /_health",
		"POST /api/analytics/track",
		"OPTIONS /api/analytics/track",
		"GET /api/analytics/tracker.js",
		"GET /api/analytics",
		"OPTIONS /api/analytics",
		"GET /api/settings/excluded-ips",
		"PUT /api/settings/excluded-ips",
	} {
		assert.Truef(t, registered[key], "expected route %s", key)
	}
}

func TestTrackThenReport(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	testsupport.CleanAllTables(db)
	app := testsupport.CreateMinimalTestApp(t, db)

	status, body := postHit(t, app, `{"siteId":"acme","sessionId":"s1","eventType":"page_view","pageUrl":"https://acme.test/pricing?utm_source=newsletter","referrer":"https://www.google.com/"}`)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, true, body["success"])

	status, _ = postHit(t, app, `{"siteId":"acme","sessionId":"s1","eventType":"page_view","pageUrl":"https://acme.test/signup"}`)
	require.Equal(t, fiber.StatusOK, status)

	status, _ = postHit(t, app, `{"siteId":"acme","sessionId":"s1","eventType":"event","eventData":{"name":"signup"}}`)
	require.Equal(t, fiber.StatusOK, status)

	// Other tenant's traffic must not leak into acme's report.
	status, _ = postHit(t, app, `{"siteId":"globex","sessionId":"g1","eventType":"page_view","pageUrl":"https://globex.test/"}`)
	require.Equal(t, fiber.StatusOK, status)

	status, report := getJSON(t, app, "/api/analytics?siteId=acme&days=7", nil)
	require.Equal(t, fiber.StatusOK, status, report)

	assert.Equal(t, float64(2), report["pageViews"])
	assert.Equal(t, float64(1), report["sessions"])
	assert.Equal(t, float64(1), report["uniqueVisitors"])
	assert.Equal(t, float64(1), report["eventsCount"])
	assert.Equal(t, float64(0), report["bounceRate"])
	assert.Equal(t, true, report["hasEverBeenTracked"])
}

func TestTrackValidation(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	testsupport.CleanAllTables(db)
	app := testsupport.CreateMinimalTestApp(t, db)

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{"siteId":`},
		{name: "missing site", body: `{"sessionId":"s1","eventType":"page_view","pageUrl":"/"}`},
		{name: "missing session", body: `{"siteId":"acme","eventType":"page_view","pageUrl":"/"}`},
		{name: "unknown type", body: `{"siteId":"acme","sessionId":"s1","eventType":"scroll"}`},
		{name: "page view without url", body: `{"siteId":"acme","sessionId":"s1","eventType":"page_view"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := postHit(t, app, tt.body)
			assert.Equal(t, fiber.StatusBadRequest, status)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestReportValidation(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	tests := []struct {
		name string
		path string
	}{
		{name: "missing site", path: "/api/analytics?days=7"},
		{name: "non numeric days", path: "/api/analytics?siteId=acme&days=week"},
		{name: "zero days", path: "/api/analytics?siteId=acme&days=0"},
		{name: "too many days", path: "/api/analytics?siteId=acme&days=366"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := getJSON(t, app, tt.path, nil)
			assert.Equal(t, fiber.StatusBadRequest, status)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestReportAPIKey(t *testing.T) {
	cfg := config.GetConfig()
	previous := cfg.ReportAPIKey
	cfg.ReportAPIKey = "secret-key"
	t.Cleanup(func() { cfg.ReportAPIKey = previous })

	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	status, _ := getJSON(t, app, "/api/analytics?siteId=acme", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = getJSON(t, app, "/api/analytics?siteId=acme", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = getJSON(t, app, "/api/analytics?siteId=acme", map[string]string{"Authorization": "Bearer secret-key"})
	assert.Equal(t, fiber.StatusOK, status)

	// Ingestion stays open.
	status, _ = postHit(t, app, `{"siteId":"acme","sessionId":"s1","eventType":"page_view","pageUrl":"/"}`)
	assert.Equal(t, fiber.StatusOK, status)
}

func TestCORSAndPreflight(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	req := httptest.NewRequest(fiber.MethodOptions, "/api/analytics/track", nil)
	req.Header.Set("Origin", "https://customer.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(fiber.MethodGet, "/api/analytics?siteId=acme", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestTrackerScript(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/analytics/tracker.js", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/javascript", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "/api/analytics/track")

	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(fiber.MethodGet, "/api/analytics/tracker.js", nil)
	req.Header.Set("If-None-Match", etag)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotModified, resp.StatusCode)
}

func TestTrackerScriptUsesPublicURL(t *testing.T) {
	cfg := config.GetConfig()
	previous := cfg.PublicURL
	cfg.PublicURL = "https://stats.example/"
	t.Cleanup(func() { cfg.PublicURL = previous })

	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	req := httptest.NewRequest(fiber.MethodGet, "/api/analytics/tracker.js", nil)
	req.Host = "attacker.test"
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"https://stats.example/api/analytics/track"`)
	assert.NotContains(t, string(body), "attacker.test")
}

func TestHealth(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	status, body := getJSON(t, app, "/_health", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["db_status"])
}

func putExcludedIPs(t *testing.T, app *fiber.App, body string, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPut, "/api/settings/excluded-ips", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	raw, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return resp.StatusCode, out
}

func TestExcludedIPsSettings(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	testsupport.CleanAllTables(db)
	app := testsupport.CreateMinimalTestApp(t, db)

	status, body := getJSON(t, app, "/api/settings/excluded-ips", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, body["excludedIps"])

	status, body = putExcludedIPs(t, app, `{"excludedIps":["203.0.113.0/24"," 198.51.100.7 ",""]}`, nil)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, []interface{}{"203.0.113.0/24", "198.51.100.7"}, body["excludedIps"])

	status, body = getJSON(t, app, "/api/settings/excluded-ips", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, []interface{}{"203.0.113.0/24", "198.51.100.7"}, body["excludedIps"])

	status, body = putExcludedIPs(t, app, `{"excludedIps":["not-an-ip"]}`, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body["error"], "not-an-ip")

	// Hits from an excluded address are accepted but not stored.
	for _, ip := range []string{"203.0.113.9", "192.0.2.44"} {
		req := httptest.NewRequest(fiber.MethodPost, "/api/analytics/track",
			strings.NewReader(`{"siteId":"acme","sessionId":"s-`+ip+`","eventType":"page_view","pageUrl":"/"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", chromeUA)
		req.Header.Set("X-Forwarded-For", ip)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}

	var sessions []string
	require.NoError(t, db.Model(&tracking.Visitor{}).Pluck("session_id", &sessions).Error)
	assert.Equal(t, []string{"s-192.0.2.44"}, sessions)
}

func TestExcludedIPsSettingsRequireAPIKey(t *testing.T) {
	cfg := config.GetConfig()
	previous := cfg.ReportAPIKey
	cfg.ReportAPIKey = "secret-key"
	t.Cleanup(func() { cfg.ReportAPIKey = previous })

	db := testsupport.SetupTestDB(t)
	testsupport.CleanAllTables(db)
	app := testsupport.CreateMinimalTestApp(t, db)

	status, _ := putExcludedIPs(t, app, `{"excludedIps":["203.0.113.9"]}`, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = getJSON(t, app, "/api/settings/excluded-ips", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = putExcludedIPs(t, app, `{"excludedIps":["203.0.113.9"]}`,
		map[string]string{"Authorization": "Bearer secret-key"})
	assert.Equal(t, fiber.StatusOK, status)
}
