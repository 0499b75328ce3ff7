package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"pulseboard/internal/pkg/geoip"
	ua "pulseboard/internal/pkg/user_agent"
	"pulseboard/internal/visitors"
)

// Outcome describes what Collect did with a hit.
type Outcome string

const (
	OutcomeStored     Outcome = "stored"
	OutcomeExcludedIP Outcome = "excluded_ip"
	OutcomeBot        Outcome = "bot"
)

// Locator resolves client addresses to a location.
type Locator interface {
	Locate(ipAddress string) (geoip.Location, error)
}

// IPExclusions reports whether traffic from an address must be dropped.
type IPExclusions interface {
	IsIPExcluded(ip string) (bool, error)
}

// Collector writes validated hits: it upserts the session's Visitor row and appends the raw row.
type Collector struct {
	dbManager  cartridge.DBManager
	logger     *slog.Logger
	salt       string
	locator    Locator
	exclusions IPExclusions
	now        func() time.Time
}

// CollectorOption customizes a Collector.
type CollectorOption func(*Collector)

// WithLocator sets the geolocation source. Without one, visitors have no location.
func WithLocator(l Locator) CollectorOption {
	return func(c *Collector) { c.locator = l }
}

// WithExclusions sets the excluded address list.
func WithExclusions(e IPExclusions) CollectorOption {
	return func(c *Collector) { c.exclusions = e }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) CollectorOption {
	return func(c *Collector) { c.now = now }
}

// NewCollector builds a Collector. salt keys the visitor IP hash.
func NewCollector(dbManager cartridge.DBManager, logger *slog.Logger, salt string, opts ...CollectorOption) *Collector {
	c := &Collector{
		dbManager: dbManager,
		logger:    logger,
		salt:      salt,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the collector's current time.
func (c *Collector) Now() time.Time {
	return c.now()
}

// Collect stores a hit sent from clientIP. Bots and excluded addresses are
// skipped without error. A session id already owned by another site is a ValidationError.
func (c *Collector) Collect(ctx context.Context, hit Hit, clientIP string) (Outcome, error) {
	base := hit.Base()

	if c.exclusions != nil && clientIP != "" {
		excluded, err := c.exclusions.IsIPExcluded(clientIP)
		if err != nil {
			c.logger.Warn("Error checking IP exclusion", slog.Any("error", err))
		} else if excluded {
			c.logger.Debug("Skipping hit for excluded IP", slog.String("site_id", base.SiteID))
			return OutcomeExcludedIP, nil
		}
	}

	var parsed ua.UserAgent
	haveParsed := base.UserAgent != ""
	if haveParsed {
		parsed = ua.ParseUserAgent(base.UserAgent)
		if parsed.Bot {
			c.logger.Debug("Skipping bot hit",
				slog.String("site_id", base.SiteID),
				slog.String("bot", parsed.BotName))
			return OutcomeBot, nil
		}
	}

	deviceType, browser := deviceAndBrowser(base.DeviceInfo, parsed, haveParsed)

	pageURL := ""
	switch h := hit.(type) {
	case *PageViewHit:
		pageURL = h.PageURL
	case *EventHit:
		pageURL = h.PageURL
	}
	referrer := normalizeReferrer(base.Referrer, pageURL)

	db := c.dbManager.GetConnection().WithContext(ctx)

	var siteConflict string
	err := sqlite.PerformWrite(c.logger, db, func(tx *gorm.DB) error {
		siteConflict = ""

		var visitor Visitor
		err := tx.Where("session_id = ?", base.SessionID).First(&visitor).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			visitor = c.newVisitor(base, clientIP, referrer, deviceType, browser)
			if err := tx.Create(&visitor).Error; err != nil {
				return fmt.Errorf("create visitor: %w", err)
			}
		case err != nil:
			return fmt.Errorf("load visitor: %w", err)
		case visitor.SiteID != base.SiteID:
			siteConflict = visitor.SiteID
			return errSessionSiteConflict
		default:
			updates := visitorUpdates(&visitor, hit, referrer, deviceType, browser, c.now().UTC())
			if len(updates) > 0 {
				if err := tx.Model(&visitor).Updates(updates).Error; err != nil {
					return fmt.Errorf("update visitor: %w", err)
				}
			}
		}

		switch h := hit.(type) {
		case *PageViewHit:
			row := &PageView{
				SessionID:   base.SessionID,
				SiteID:      base.SiteID,
				PageURL:     h.PageURL,
				Referrer:    referrer,
				UTMSource:   base.UTM.Source,
				UTMMedium:   base.UTM.Medium,
				UTMCampaign: base.UTM.Campaign,
				DeviceType:  deviceType,
				Browser:     browser,
				ViewedAt:    base.Timestamp,
			}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("insert page view: %w", err)
			}
		case *EventHit:
			row := &Event{
				SessionID:  base.SessionID,
				SiteID:     base.SiteID,
				EventType:  h.Name,
				EventData:  encodeEventData(h.Data),
				OccurredAt: base.Timestamp,
			}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("insert event: %w", err)
			}
		default:
			return fmt.Errorf("unsupported hit kind %q", hit.Kind())
		}
		return nil
	})

	if siteConflict != "" {
		c.logger.Warn("Rejected hit for session owned by another site",
			slog.String("site_id", base.SiteID),
			slog.String("owner_site_id", siteConflict))
		return "", newValidationError("sessionId", "belongs to a different site")
	}
	if err != nil {
		c.logger.Error("Failed to store hit",
			slog.String("site_id", base.SiteID),
			slog.String("kind", string(hit.Kind())),
			slog.Any("error", err))
		return "", fmt.Errorf("failed to store hit: %w", err)
	}
	return OutcomeStored, nil
}

var errSessionSiteConflict = errors.New("session belongs to another site")

func (c *Collector) newVisitor(base *HitBase, clientIP, referrer, deviceType, browser string) Visitor {
	visitor := Visitor{
		SessionID:   base.SessionID,
		SiteID:      base.SiteID,
		IPHash:      visitors.HashIP(base.SiteID, clientIP, c.salt),
		UserAgent:   base.UserAgent,
		Referrer:    referrer,
		UTMSource:   base.UTM.Source,
		UTMMedium:   base.UTM.Medium,
		UTMCampaign: base.UTM.Campaign,
		DeviceType:  deviceType,
		Browser:     browser,
		FirstVisit:  base.Timestamp,
		LastVisit:   base.Timestamp,
	}

	if c.locator != nil && clientIP != "" {
		loc, err := c.locator.Locate(clientIP)
		switch {
		case errors.Is(err, geoip.ErrUnavailable):
			// GeoIP is optional
		case err != nil:
			c.logger.Debug("Geolocation failed", slog.String("site_id", base.SiteID), slog.Any("error", err))
		default:
			if loc.CountryCode != "" {
				code := loc.CountryCode
				visitor.CountryCode = &code
			}
			visitor.Region = loc.Region
			visitor.City = loc.City
		}
	}
	return visitor
}

// visitorUpdates computes the changes a later hit makes to an existing session.
// first_visit is never touched; last_visit only moves forward. Attribution is
// refreshed from page views that carry it.
func visitorUpdates(visitor *Visitor, hit Hit, referrer, deviceType, browser string, now time.Time) map[string]interface{} {
	base := hit.Base()
	updates := map[string]interface{}{}

	if base.Timestamp.After(visitor.LastVisit) {
		updates["last_visit"] = base.Timestamp
	}

	if hit.Kind() == KindPageView {
		if referrer != "" {
			updates["referrer"] = referrer
		}
		if !base.UTM.IsEmpty() {
			updates["utm_source"] = base.UTM.Source
			updates["utm_medium"] = base.UTM.Medium
			updates["utm_campaign"] = base.UTM.Campaign
		}
	}

	if (visitor.DeviceType == "" || visitor.DeviceType == ua.Unknown) && deviceType != ua.Unknown {
		updates["device_type"] = deviceType
	}
	if (visitor.Browser == "" || visitor.Browser == ua.Unknown) && browser != ua.Unknown {
		updates["browser"] = browser
	}

	if len(updates) > 0 {
		updates["updated_at"] = now
	}
	return updates
}
