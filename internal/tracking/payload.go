package tracking

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"
)

// Kind identifies the payload variant sent by the tracking snippet.
type Kind string

const (
	KindPageView Kind = "page_view"
	KindEvent    Kind = "event"
)

// DefaultEventName is stored when a custom event payload does not name itself.
const DefaultEventName = "custom"

// maxClockSkew bounds how far in the future a client timestamp may be before it is replaced by server time.
const maxClockSkew = 5 * time.Minute

// maxBackdate bounds how far in the past a client timestamp may be. It covers
// the widest report window so queued and imported hits still land in range.
const maxBackdate = 366 * 24 * time.Hour

// ValidationError is returned for payloads that must be rejected with 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// TrackRequest is the JSON body accepted by the ingestion endpoint.
type TrackRequest struct {
	SiteID     string                 `json:"siteId"`
	SessionID  string                 `json:"sessionId"`
	EventType  string                 `json:"eventType"`
	PageURL    string                 `json:"pageUrl"`
	UserAgent  string                 `json:"userAgent"`
	Referrer   string                 `json:"referrer"`
	UTMParams  UTMParams              `json:"utmParams"`
	DeviceInfo DeviceInfo             `json:"deviceInfo"`
	EventData  map[string]interface{} `json:"eventData"`
}

// UTMParams carries campaign attribution.
type UTMParams struct {
	Source   string `json:"utm_source"`
	Medium   string `json:"utm_medium"`
	Campaign string `json:"utm_campaign"`
}

// UnmarshalJSON accepts both the short ("source") and prefixed ("utm_source") key spellings.
func (u *UTMParams) UnmarshalJSON(data []byte) error {
	var raw struct {
		Source      string `json:"source"`
		Medium      string `json:"medium"`
		Campaign    string `json:"campaign"`
		UTMSource   string `json:"utm_source"`
		UTMMedium   string `json:"utm_medium"`
		UTMCampaign string `json:"utm_campaign"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	u.Source = firstNonEmpty(raw.UTMSource, raw.Source)
	u.Medium = firstNonEmpty(raw.UTMMedium, raw.Medium)
	u.Campaign = firstNonEmpty(raw.UTMCampaign, raw.Campaign)
	return nil
}

// IsEmpty reports whether no UTM field is set.
func (u UTMParams) IsEmpty() bool {
	return u.Source == "" && u.Medium == "" && u.Campaign == ""
}

// DeviceInfo is the client's own view of its device.
type DeviceInfo struct {
	DeviceType string `json:"deviceType"`
	Browser    string `json:"browser"`
}

// Hit is the validated, closed set of payload shapes. Implemented by *PageViewHit and *EventHit.
type Hit interface {
	Kind() Kind
	Base() *HitBase
}

// HitBase holds the fields shared by every payload variant.
type HitBase struct {
	SiteID     string
	SessionID  string
	UserAgent  string
	Referrer   string
	UTM        UTMParams
	DeviceInfo DeviceInfo
	Timestamp  time.Time
}

// PageViewHit is a page load.
type PageViewHit struct {
	HitBase
	PageURL string
}

func (h *PageViewHit) Kind() Kind     { return KindPageView }
func (h *PageViewHit) Base() *HitBase { return &h.HitBase }

// EventHit is a custom interaction.
type EventHit struct {
	HitBase
	PageURL string
	Name    string
	Data    map[string]interface{}
}

func (h *EventHit) Kind() Kind     { return KindEvent }
func (h *EventHit) Base() *HitBase { return &h.HitBase }

// ParseHit validates a TrackRequest and converts it to its concrete Hit variant.
// now is used when the client timestamp is missing, unparseable or too far in the future.
func ParseHit(req *TrackRequest, now time.Time) (Hit, error) {
	siteID := strings.TrimSpace(req.SiteID)
	if siteID == "" {
		return nil, newValidationError("siteId", "is required")
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return nil, newValidationError("sessionId", "is required")
	}
	if strings.TrimSpace(req.EventType) == "" {
		return nil, newValidationError("eventType", "is required")
	}
	if len(siteID) > 128 || len(sessionID) > 128 {
		return nil, newValidationError("", "siteId and sessionId must be at most 128 characters")
	}

	utm := req.UTMParams
	if utm.IsEmpty() {
		utm = utmFromURL(req.PageURL)
	}

	base := HitBase{
		SiteID:     siteID,
		SessionID:  sessionID,
		UserAgent:  strings.TrimSpace(req.UserAgent),
		Referrer:   strings.TrimSpace(req.Referrer),
		UTM:        utm,
		DeviceInfo: req.DeviceInfo,
		Timestamp:  timestampFromEventData(req.EventData, now),
	}

	switch Kind(req.EventType) {
	case KindPageView:
		if strings.TrimSpace(req.PageURL) == "" {
			return nil, newValidationError("pageUrl", "is required for page_view")
		}
		return &PageViewHit{HitBase: base, PageURL: strings.TrimSpace(req.PageURL)}, nil
	case KindEvent:
		return &EventHit{
			HitBase: base,
			PageURL: strings.TrimSpace(req.PageURL),
			Name:    eventName(req.EventData),
			Data:    req.EventData,
		}, nil
	default:
		return nil, newValidationError("eventType", fmt.Sprintf("unknown type %q", req.EventType))
	}
}

// timestampFromEventData reads eventData.timestamp as RFC3339 text or epoch milliseconds.
func timestampFromEventData(data map[string]interface{}, now time.Time) time.Time {
	raw, ok := data["timestamp"]
	if !ok || raw == nil {
		return now.UTC()
	}

	var ts time.Time
	switch v := raw.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return now.UTC()
		}
		ts = parsed
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 || v > float64(now.Add(maxClockSkew).UnixMilli()) {
			return now.UTC()
		}
		ts = time.UnixMilli(int64(v))
	case json.Number:
		ms, err := v.Int64()
		if err != nil || ms <= 0 || ms > now.Add(maxClockSkew).UnixMilli() {
			return now.UTC()
		}
		ts = time.UnixMilli(ms)
	default:
		return now.UTC()
	}

	if ts.IsZero() || ts.After(now.Add(maxClockSkew)) || ts.Before(now.Add(-maxBackdate)) {
		return now.UTC()
	}
	return ts.UTC()
}

func eventName(data map[string]interface{}) string {
	for _, key := range []string{"name", "eventName", "event"} {
		if v, ok := data[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return DefaultEventName
}

func utmFromURL(rawURL string) UTMParams {
	if rawURL == "" {
		return UTMParams{}
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return UTMParams{}
	}
	q := parsed.Query()
	return UTMParams{
		Source:   q.Get("utm_source"),
		Medium:   q.Get("utm_medium"),
		Campaign: q.Get("utm_campaign"),
	}
}

// encodeEventData serializes the opaque payload; failures store an empty document.
func encodeEventData(data map[string]interface{}) string {
	if len(data) == 0 {
		return ""
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return string(encoded)
}
