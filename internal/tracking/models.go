package tracking

import "time"

// PageView is one page load reported by the tracking snippet. Rows are append-only.
type PageView struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID   string    `gorm:"index;size:128;not null" json:"session_id"`
	SiteID      string    `gorm:"index:idx_page_views_site_time;size:128;not null" json:"site_id"`
	PageURL     string    `gorm:"not null" json:"page_url"`
	Referrer    string    `json:"referrer,omitempty"`
	UTMSource   string    `gorm:"index" json:"utm_source,omitempty"`
	UTMMedium   string    `json:"utm_medium,omitempty"`
	UTMCampaign string    `json:"utm_campaign,omitempty"`
	DeviceType  string    `json:"device_type,omitempty"`
	Browser     string    `json:"browser,omitempty"`
	ViewedAt    time.Time `gorm:"index:idx_page_views_site_time;not null" json:"viewed_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Event is a custom interaction reported by the tracking snippet. Rows are append-only.
type Event struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID  string    `gorm:"index;size:128;not null" json:"session_id"`
	SiteID     string    `gorm:"index:idx_events_site_time;size:128;not null" json:"site_id"`
	EventType  string    `gorm:"index;size:128;not null" json:"event_type"`
	EventData  string    `gorm:"type:text" json:"event_data,omitempty"`
	OccurredAt time.Time `gorm:"index:idx_events_site_time;not null" json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Visitor is the per-session record. One row per session id, created on the
// session's first hit and refreshed by later hits.
type Visitor struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID   string    `gorm:"uniqueIndex;size:128;not null" json:"session_id"`
	SiteID      string    `gorm:"index;size:128;not null" json:"site_id"`
	IPHash      string    `gorm:"size:64" json:"ip_hash,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	Referrer    string    `json:"referrer,omitempty"`
	UTMSource   string    `json:"utm_source,omitempty"`
	UTMMedium   string    `json:"utm_medium,omitempty"`
	UTMCampaign string    `json:"utm_campaign,omitempty"`
	DeviceType  string    `json:"device_type,omitempty"`
	Browser     string    `json:"browser,omitempty"`
	CountryCode *string   `gorm:"index;size:2" json:"country_code"`
	Region      string    `json:"region,omitempty"`
	City        string    `json:"city,omitempty"`
	FirstVisit  time.Time `gorm:"not null" json:"first_visit"`
	LastVisit   time.Time `gorm:"index;not null" json:"last_visit"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
