package tracking

import (
	"net/url"
	"strings"

	ua "pulseboard/internal/pkg/user_agent"
)

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// hostOf returns the lowercase host of a URL without the www. prefix, or "".
func hostOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
}

// normalizeReferrer drops self-referrals so internal navigation is not counted as referred traffic.
func normalizeReferrer(referrer, pageURL string) string {
	referrer = strings.TrimSpace(referrer)
	if referrer == "" {
		return ""
	}
	refHost := hostOf(referrer)
	if refHost != "" && refHost == hostOf(pageURL) {
		return ""
	}
	return referrer
}

// deviceAndBrowser prefers the client's own device info and falls back to the parsed user agent.
func deviceAndBrowser(info DeviceInfo, parsed ua.UserAgent, haveParsed bool) (string, string) {
	deviceType := ua.Unknown
	browser := ua.Unknown

	if strings.TrimSpace(info.DeviceType) != "" {
		deviceType = ua.NormalizeDeviceType(info.DeviceType)
	} else if haveParsed {
		deviceType = parsed.DeviceType
	}

	if strings.TrimSpace(info.Browser) != "" {
		browser = ua.NormalizeBrowser(info.Browser)
	} else if haveParsed {
		browser = ua.NormalizeBrowser(parsed.Browser)
	}

	return deviceType, browser
}
