package seeder

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"time"

	"github.com/karloscodes/cartridge"

	"pulseboard/internal/tracking"
)

// Seeder generates realistic demo traffic. Every hit goes through the
// regular ingestion path, so seeded data looks exactly like tracked data.
type Seeder struct {
	DBManager  cartridge.DBManager
	Logger     *slog.Logger
	EventCount int
	Days       int

	collector *tracking.Collector
}

// NewSeeder creates a new seeder instance
func NewSeeder(dbManager cartridge.DBManager, logger *slog.Logger, eventCount int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		DBManager:  dbManager,
		Logger:     logger,
		EventCount: eventCount,
		Days:       30,
		collector:  tracking.NewCollector(dbManager, logger, "seed"),
	}
}

// DefaultSites are seeded by Run.
var DefaultSites = []string{"demo-site", "docs-site", "shop-site"}

// Run seeds every default site, splitting the event budget between them.
func (s *Seeder) Run(ctx context.Context) error {
	start := time.Now()
	s.Logger.Info("Seeding default sites...", slog.Int("eventCount", s.EventCount))

	perSite := s.EventCount / len(DefaultSites)
	for _, siteID := range DefaultSites {
		if _, err := s.seed(ctx, siteID, perSite); err != nil {
			return fmt.Errorf("failed to seed %s: %w", siteID, err)
		}
	}

	s.Logger.Info("Seeding completed successfully", slog.Duration("elapsed", time.Since(start)))
	return nil
}

// SeedSite seeds a single site with the full event budget and returns the
// number of stored hits.
func (s *Seeder) SeedSite(ctx context.Context, siteID string) (int, error) {
	start := time.Now()
	s.Logger.Info("Seeding specific site...", slog.String("site_id", siteID), slog.Int("eventCount", s.EventCount))

	stored, err := s.seed(ctx, siteID, s.EventCount)
	if err != nil {
		return stored, err
	}

	s.Logger.Info("Site seeding completed successfully",
		slog.String("site_id", siteID),
		slog.Int("stored", stored),
		slog.Duration("elapsed", time.Since(start)))
	return stored, nil
}

var journeyTemplates = [][]string{
	{"/", "/about", "/contact"},
	{"/", "/features", "/pricing", "/signup"},
	{"/", "/blog", "/blog/article-1", "/signup"},
	{"/pricing", "/features", "/signup"},
	{"/", "/products", "/products/widget-a", "/products/gadget-b", "/pricing"},
	{"/", "/docs", "/docs/getting-started", "/docs/api-reference"},
	{"/", "/blog", "/blog/article-1", "/blog/article-2"},
	{"/"},
	{"/pricing"},
	{"/", "/signup"},
	{"/blog/article-1"},
	{"/", "/about", "/features", "/pricing", "/docs/getting-started", "/signup"},
}

var goalEvents = []struct {
	name string
	data map[string]interface{}
}{
	{name: "newsletter_signup", data: map[string]interface{}{"source": "footer"}},
	{name: "demo_requested", data: map[string]interface{}{"plan": "enterprise"}},
	{name: "account_created", data: map[string]interface{}{"plan": "free"}},
	{name: "download_started", data: map[string]interface{}{"filename": "whitepaper.pdf"}},
	{name: "free_trial_started", data: map[string]interface{}{"plan": "pro"}},
}

func (s *Seeder) seed(ctx context.Context, siteID string, targetHits int) (int, error) {
	ipPool := generateIPPool(100)
	userAgents := getUserAgents()
	referrers := getReferrers()
	now := time.Now().UTC()
	baseURL := "https://" + siteID + ".example.com"

	days := s.Days
	if days <= 0 {
		days = 30
	}

	avgHitsPerSession := 3
	numSessions := targetHits / avgHitsPerSession
	if numSessions < 10 {
		numSessions = 10
	}

	stored := 0
	for session := 0; session < numSessions; session++ {
		if ctx.Err() != nil {
			return stored, ctx.Err()
		}

		journey := journeyTemplates[rand.IntN(len(journeyTemplates))]
		ip := ipPool[rand.IntN(len(ipPool))]
		userAgent := userAgents[rand.IntN(len(userAgents))]
		referrer := referrers[rand.IntN(len(referrers))]
		sessionID := fmt.Sprintf("seed-%s-%d-%d", siteID, now.Unix(), session)

		at := now.Add(-time.Duration(rand.IntN(days*24*60*60)) * time.Second)

		for pageIndex, path := range journey {
			pageURL := baseURL + path
			if pageIndex == 0 {
				pageURL = addUTMParams(addQueryParams(pageURL))
			}
			req := &tracking.TrackRequest{
				SiteID:    siteID,
				SessionID: sessionID,
				EventType: string(tracking.KindPageView),
				PageURL:   pageURL,
				UserAgent: userAgent,
				EventData: map[string]interface{}{"timestamp": at.Format(time.RFC3339)},
			}
			if pageIndex == 0 {
				req.Referrer = referrer
			}

			ok, err := s.collect(ctx, req, ip)
			if err != nil {
				return stored, err
			}
			if !ok {
				// Bot or excluded traffic is dropped for the whole session.
				break
			}
			stored++
			at = at.Add(time.Duration(rand.IntN(180)+10) * time.Second)
			if at.After(now) {
				at = now
			}
		}

		if rand.IntN(5) == 0 {
			goal := goalEvents[rand.IntN(len(goalEvents))]
			data := map[string]interface{}{
				"name":      goal.name,
				"timestamp": at.Format(time.RFC3339),
			}
			for k, v := range goal.data {
				data[k] = v
			}
			ok, err := s.collect(ctx, &tracking.TrackRequest{
				SiteID:    siteID,
				SessionID: sessionID,
				EventType: string(tracking.KindEvent),
				PageURL:   baseURL + journey[len(journey)-1],
				UserAgent: userAgent,
				EventData: data,
			}, ip)
			if err != nil {
				return stored, err
			}
			if ok {
				stored++
			}
		}

		if session > 0 && session%100 == 0 {
			s.Logger.Info("Seeding progress",
				slog.String("site_id", siteID),
				slog.Int("sessions", session),
				slog.Int("stored", stored))
		}
	}

	return stored, nil
}

func (s *Seeder) collect(ctx context.Context, req *tracking.TrackRequest, ip string) (bool, error) {
	hit, err := tracking.ParseHit(req, s.collector.Now())
	if err != nil {
		return false, fmt.Errorf("invalid seed hit: %w", err)
	}
	outcome, err := s.collector.Collect(ctx, hit, ip)
	if err != nil {
		return false, err
	}
	return outcome == tracking.OutcomeStored, nil
}

// generateIPPool creates a pool of unique IPv4 addresses
func generateIPPool(count int) []string {
	ipPool := make(map[string]bool)
	var ips []string
	for len(ips) < count {
		ip := fmt.Sprintf("%d.%d.%d.%d", rand.IntN(223)+1, rand.IntN(256), rand.IntN(256), rand.IntN(256))
		if !ipPool[ip] {
			ipPool[ip] = true
			ips = append(ips, ip)
		}
	}
	return ips
}

// getUserAgents returns a list of common user agent strings
func getUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_1_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Mobile/15E148 Safari/605.1",
		"Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36",
		"Mozilla/5.0 (iPad; CPU OS 16_1_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Mobile/15E148 Safari/605.1",
		"Googlebot/2.1 (+http://www.google.com/bot.html)",
	}
}

// getReferrers returns a list of common referrer URLs
func getReferrers() []string {
	return []string{
		"", // Direct visit
		"",
		"https://www.google.com/",
		"https://www.bing.com/",
		"https://duckduckgo.com/",
		"https://www.facebook.com/",
		"https://twitter.com/",
		"https://www.linkedin.com/",
		"https://github.com/",
		"https://some-other-website.com/blog/post",
	}
}

// addQueryParams adds random query parameters to a URL
func addQueryParams(rawURL string) string {
	// Only add params sometimes (30% chance)
	if rand.IntN(10) < 7 {
		return rawURL
	}

	params := url.Values{}
	possibleParams := []string{"ref", "id", "query", "page"}
	for i := 0; i < rand.IntN(3)+1; i++ {
		key := possibleParams[rand.IntN(len(possibleParams))]
		params.Add(key, fmt.Sprintf("value%d", rand.IntN(100)))
	}
	return rawURL + "?" + params.Encode()
}

// addUTMParams adds UTM tracking parameters randomly
func addUTMParams(rawURL string) string {
	// Only add UTM params sometimes (20% chance)
	if rand.IntN(10) < 8 {
		return rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		log.Printf("Warning: Failed to parse url for UTM params: %v", err)
		return rawURL
	}
	params := u.Query()

	utms := []struct {
		key   string
		value []string
	}{
		{"utm_source", []string{"google", "facebook", "newsletter", "twitter", "linkedin"}},
		{"utm_medium", []string{"cpc", "social", "email", "organic", "referral"}},
		{"utm_campaign", []string{"spring_sale", "product_launch", "dev_outreach", "q4_promo"}},
	}
	for _, utm := range utms {
		params.Set(utm.key, utm.value[rand.IntN(len(utm.value))])
	}

	u.RawQuery = params.Encode()
	return u.String()
}
