package geoip

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"

	"pulseboard/internal/config"
)

// ErrUnavailable is returned when no GeoLite2 database is loaded.
var ErrUnavailable = errors.New("geoip database unavailable")

// Location is the best-effort position of an address. Empty fields are unknown.
type Location struct {
	CountryCode string
	Region      string
	City        string
}

var (
	geoDB  *geoip2.Reader
	once   sync.Once
	mu     sync.RWMutex
	logger *slog.Logger
)

// InitLogger sets the logger for the geoip package.
func InitLogger(l *slog.Logger) {
	logger = l
}

// InitGeoDB opens the GeoLite2 City database.
// Returns nil if the database is not configured or not found (GeoIP is optional).
func InitGeoDB() *geoip2.Reader {
	cfg := config.GetConfig()
	if cfg.GeoDBPath == "" {
		if logger != nil {
			logger.Debug("GeoIP database path not configured - GeoIP features disabled")
		}
		return nil
	}

	if _, err := os.Stat(cfg.GeoDBPath); os.IsNotExist(err) {
		if logger != nil {
			logger.Info("GeoLite2 database not found - GeoIP features disabled",
				slog.String("path", cfg.GeoDBPath),
				slog.String("hint", "Download GeoLite2-City from https://www.maxmind.com/en/geolite2/signup"))
		}
		return nil
	} else if err != nil {
		if logger != nil {
			logger.Warn("Error checking GeoLite2 database file",
				slog.String("path", cfg.GeoDBPath),
				slog.Any("error", err))
		}
		return nil
	}

	db, err := geoip2.Open(cfg.GeoDBPath)
	if err != nil {
		if logger != nil {
			logger.Error("Failed to open GeoLite2 database",
				slog.String("path", cfg.GeoDBPath),
				slog.Any("error", err))
		}
		return nil
	}

	if logger != nil {
		logger.Info("GeoLite2 database initialized",
			slog.String("path", cfg.GeoDBPath),
			slog.String("db_type", db.Metadata().DatabaseType))
	}
	return db
}

// GetGeoDB returns the GeoLite2 database reader, initializing it if necessary.
func GetGeoDB() *geoip2.Reader {
	once.Do(func() {
		mu.Lock()
		geoDB = InitGeoDB()
		mu.Unlock()
	})
	mu.RLock()
	defer mu.RUnlock()
	return geoDB
}

// ReloadGeoDB reopens the database from disk after it has been replaced.
func ReloadGeoDB() {
	GetGeoDB()

	mu.Lock()
	defer mu.Unlock()
	if geoDB != nil {
		geoDB.Close()
	}
	geoDB = InitGeoDB()
}

// Locate resolves an address to country, region and city.
// Country codes are upper-case ISO 3166-1 alpha-2.
func Locate(ipAddress string) (Location, error) {
	ip := net.ParseIP(strings.TrimSpace(ipAddress))
	if ip == nil {
		return Location{}, fmt.Errorf("invalid ip address %q", ipAddress)
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
		return Location{}, nil
	}

	db := GetGeoDB()
	if db == nil {
		return Location{}, ErrUnavailable
	}

	record, err := db.City(ip)
	if err != nil {
		return Location{}, fmt.Errorf("city lookup: %w", err)
	}

	loc := Location{
		City: record.City.Names["en"],
	}
	if code := strings.ToUpper(record.Country.IsoCode); code != "" && code != "--" {
		loc.CountryCode = code
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].Names["en"]
	}
	return loc, nil
}

// Locator adapts Locate to an injectable dependency.
type Locator struct{}

// Locate implements tracking's geo lookup contract.
func (Locator) Locate(ipAddress string) (Location, error) {
	return Locate(ipAddress)
}

// Available reports whether a database is loaded.
func Available() bool {
	return GetGeoDB() != nil
}
