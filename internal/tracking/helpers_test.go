package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	ua "pulseboard/internal/pkg/user_agent"
)

func TestNormalizeReferrer(t *testing.T) {
	tests := []struct {
		name     string
		referrer string
		pageURL  string
		want     string
	}{
		{"empty", "", "https://example.com/", ""},
		{"external", "https://google.com/", "https://example.com/", "https://google.com/"},
		{"same host", "https://example.com/a", "https://example.com/b", ""},
		{"www is ignored", "https://www.example.com/a", "https://example.com/b", ""},
		{"relative page url keeps referrer", "https://example.com/a", "/b", "https://example.com/a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeReferrer(tt.referrer, tt.pageURL))
		})
	}
}

func TestDeviceAndBrowser(t *testing.T) {
	parsed := ua.UserAgent{Browser: "Chrome Mobile", DeviceType: ua.DeviceMobile}

	device, browser := deviceAndBrowser(DeviceInfo{}, parsed, true)
	assert.Equal(t, ua.DeviceMobile, device)
	assert.Equal(t, "chrome", browser)

	device, browser = deviceAndBrowser(DeviceInfo{DeviceType: "Tablet", Browser: "Firefox"}, parsed, true)
	assert.Equal(t, ua.DeviceTablet, device)
	assert.Equal(t, "firefox", browser)

	device, browser = deviceAndBrowser(DeviceInfo{}, ua.UserAgent{}, false)
	assert.Equal(t, ua.Unknown, device)
	assert.Equal(t, ua.Unknown, browser)
}

func TestVisitorUpdates(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	visitor := &Visitor{DeviceType: ua.Unknown, Browser: "safari", LastVisit: now}

	t.Run("event does not touch attribution", func(t *testing.T) {
		hit := &EventHit{HitBase: HitBase{Timestamp: now.Add(time.Minute), UTM: UTMParams{Source: "x"}}}
		updates := visitorUpdates(visitor, hit, "https://google.com", "desktop", "chrome", now)
		assert.Equal(t, now.Add(time.Minute), updates["last_visit"])
		assert.NotContains(t, updates, "utm_source")
		assert.NotContains(t, updates, "referrer")
		assert.Equal(t, "desktop", updates["device_type"])
		assert.NotContains(t, updates, "browser")
		assert.NotContains(t, updates, "first_visit")
	})

	t.Run("page view refreshes attribution", func(t *testing.T) {
		hit := &PageViewHit{HitBase: HitBase{Timestamp: now, UTM: UTMParams{Source: "x"}}}
		updates := visitorUpdates(visitor, hit, "https://google.com", ua.Unknown, ua.Unknown, now)
		assert.NotContains(t, updates, "last_visit")
		assert.Equal(t, "x", updates["utm_source"])
		assert.Equal(t, "https://google.com", updates["referrer"])
	})

	t.Run("nothing to change", func(t *testing.T) {
		hit := &EventHit{HitBase: HitBase{Timestamp: now.Add(-time.Hour)}}
		assert.Empty(t, visitorUpdates(visitor, hit, "", ua.Unknown, ua.Unknown, now))
	})
}
