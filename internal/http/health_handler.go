package http

import (
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"

	"pulseboard/internal/pkg/geoip"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	DBStatus    string    `json:"db_status"`
	GeoIPStatus string    `json:"geoip_status"`
}

// HealthIndexAction reports database connectivity. A missing GeoIP database
// is reported but does not degrade the service, since geolocation is optional.
func HealthIndexAction(ctx *cartridge.Context) error {
	dbStatus := "ok"

	db := ctx.DBManager.GetConnection()
	if db == nil {
		dbStatus = "error"
		ctx.Logger.Error("Database connection unavailable")
	} else {
		sqlDB, err := db.DB()
		if err != nil {
			dbStatus = "error"
			ctx.Logger.Error("Database connection error", slog.Any("error", err))
		} else if err := sqlDB.PingContext(ctx.UserContext()); err != nil {
			dbStatus = "error"
			ctx.Logger.Error("Database ping failed", slog.Any("error", err))
		}
	}

	geoStatus := "ok"
	if !geoip.Available() {
		geoStatus = "unavailable"
	}

	health := HealthStatus{
		Status:      "ok",
		Timestamp:   time.Now().UTC(),
		DBStatus:    dbStatus,
		GeoIPStatus: geoStatus,
	}

	if dbStatus != "ok" {
		health.Status = "degraded"
	}

	return ctx.JSON(health)
}
