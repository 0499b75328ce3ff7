package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "pulseboard/api/v1"
	"pulseboard/internal/analytics"
	"pulseboard/internal/config"
	"pulseboard/internal/http"
	"pulseboard/internal/http/middleware"
	"pulseboard/internal/pkg/geoip"
	"pulseboard/internal/settings"
	"pulseboard/internal/tracking"
)

// publicCORSConfig is shared by every analytics endpoint: the tracker posts
// from arbitrary customer origins and dashboards fetch reports cross-origin.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization, Referrer, User-Agent",
}

// Services are the long-lived objects the handlers share. Built once per server.
type Services struct {
	Collector  *tracking.Collector
	Exclusions *settings.ExclusionList
	Store      *analytics.GormStore
	Snapshots  *analytics.SnapshotWriter
	Aggregator *analytics.Aggregator
}

// NewServices wires ingestion and reporting over the server's database.
func NewServices(srv *cartridge.Server, cfg *config.Config) *Services {
	dbManager := srv.GetDBManager()
	logger := srv.GetLogger()

	exclusions := settings.NewExclusionList(logger, dbManager.GetConnection(), settings.DefaultCacheTTL)
	collector := tracking.NewCollector(dbManager, logger, cfg.PrivateKey,
		tracking.WithLocator(geoip.Locator{}),
		tracking.WithExclusions(exclusions),
	)

	store := analytics.NewGormStore(dbManager, logger)
	snapshots := analytics.NewSnapshotWriter(store, logger)
	aggregator := analytics.NewAggregator(store, snapshots, logger, analytics.OptionsFromConfig(cfg))

	return &Services{
		Collector:  collector,
		Exclusions: exclusions,
		Store:      store,
		Snapshots:  snapshots,
		Aggregator: aggregator,
	}
}

// MountAppRoutes mounts all application routes using cartridge's route API
func MountAppRoutes(srv *cartridge.Server) {
	cfg := config.GetConfig()
	services := NewServices(srv, cfg)

	// Rate limiting only applies in production; it would interfere with tests.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// 70 requests per minute per IP for ingestion
	publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(70),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// The tracker posts from customer sites and server-side relays, so
	// Sec-Fetch-Site validation is off for the analytics API.
	trackConfig := &cartridge.RouteConfig{
		EnableCORS:         true,
		WriteConcurrency:   false,
		CustomMiddleware:   []fiber.Handler{publicRateLimiter},
		CORSConfig:         publicCORSConfig,
		EnableSecFetchSite: cartridge.Bool(false),
	}

	reportConfig := &cartridge.RouteConfig{
		EnableCORS:         true,
		CustomMiddleware:   []fiber.Handler{middleware.ReportAPIKeyAuth(cfg.ReportAPIKey, srv.GetLogger())},
		CORSConfig:         publicCORSConfig,
		EnableSecFetchSite: cartridge.Bool(false),
	}

	// Admin only: guarded by the report key and not exposed cross-origin.
	settingsConfig := &cartridge.RouteConfig{
		CustomMiddleware:   []fiber.Handler{middleware.ReportAPIKeyAuth(cfg.ReportAPIKey, srv.GetLogger())},
		EnableSecFetchSite: cartridge.Bool(false),
	}

	trackerConfig := &cartridge.RouteConfig{
		EnableCORS:         true,
		CustomMiddleware:   []fiber.Handler{publicRateLimiter},
		CORSConfig:         publicCORSConfig,
		EnableSecFetchSite: cartridge.Bool(false),
	}

	noContent := func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}

	// Health check endpoint
	srv.Get("/_health", http.HealthIndexAction)
	srv.Head("/_health", http.HealthIndexAction)

	// === INGESTION ===
	srv.Post("/api/analytics/track", v1.TrackHandler(services.Collector), trackConfig)
	srv.Options("/api/analytics/track", noContent, trackConfig)

	// === TRACKER SCRIPT ===
	srv.Get("/api/analytics/tracker.js", v1.GetTrackerAction, trackerConfig)

	// === REPORTS ===
	srv.Get("/api/analytics", http.AnalyticsReportAction(services.Aggregator, cfg.DefaultReportDays), reportConfig)
	srv.Options("/api/analytics", noContent, reportConfig)

	// === SETTINGS ===
	srv.Get("/api/settings/excluded-ips", http.ExcludedIPsIndexAction(services.Exclusions), settingsConfig)
	srv.Put("/api/settings/excluded-ips", http.ExcludedIPsUpdateAction(services.Exclusions), settingsConfig)
}
