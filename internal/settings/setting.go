package settings

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/cache"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// Setting keys
const (
	KeyExcludedIPs = "excluded_ips"
)

// ErrInvalidEntry is returned when an excluded address is neither an IP nor a CIDR range.
var ErrInvalidEntry = errors.New("invalid excluded IP entry")

// DefaultCacheTTL is how long a loaded exclusion list is trusted before it is re-read.
const DefaultCacheTTL = 5 * time.Minute

// Setting represents a configuration item in the database
type Setting struct {
	ID        uint      `gorm:"primaryKey"`
	Key       string    `gorm:"uniqueIndex;not null"`
	Value     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:milli"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:milli"`
}

// SetupDefaultSettings inserts missing default settings.
func SetupDefaultSettings(logger *slog.Logger, dbConn *gorm.DB) error {
	defaults := []Setting{
		{Key: KeyExcludedIPs, Value: ""},
	}
	return sqlite.PerformWrite(logger, dbConn, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, setting := range defaults {
			err := tx.Exec(`
                INSERT INTO settings (key, value, created_at, updated_at)
                VALUES (?, ?, ?, ?)
                ON CONFLICT(key) DO NOTHING
            `, setting.Key, setting.Value, now, now).Error
			if err != nil {
				logger.Error("Failed to insert default setting", slog.String("key", setting.Key), slog.Any("error", err))
				return fmt.Errorf("failed to insert default setting %s: %w", setting.Key, err)
			}
		}
		return nil
	})
}

// GetSetting retrieves a setting value. Missing keys return gorm.ErrRecordNotFound.
func GetSetting(dbConn *gorm.DB, key string) (string, error) {
	var setting Setting
	if err := dbConn.Where("key = ?", key).First(&setting).Error; err != nil {
		return "", err
	}
	return setting.Value, nil
}

// UpdateSetting creates or replaces a setting value.
func UpdateSetting(logger *slog.Logger, dbConn *gorm.DB, key string, value string) error {
	return sqlite.PerformWrite(logger, dbConn, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		err := tx.Exec(`
            INSERT INTO settings (key, value, created_at, updated_at)
            VALUES (?, ?, ?, ?)
            ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
        `, key, value, now, now).Error
		if err != nil {
			return fmt.Errorf("failed to update setting %s: %w", key, err)
		}
		return nil
	})
}

// ParseIPList splits a comma separated list, dropping blanks.
func ParseIPList(value string) []string {
	var entries []string
	for _, entry := range strings.Split(value, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			entries = append(entries, entry)
		}
	}
	return entries
}

// ExclusionList answers whether traffic from an address should be dropped.
// Entries are exact addresses or CIDR ranges. Owned by the application and
// injected into the ingestion path.
type ExclusionList struct {
	db     *gorm.DB
	logger *slog.Logger
	cache  *cache.Cache[string, []string]
}

// NewExclusionList builds an exclusion list backed by the settings table.
func NewExclusionList(logger *slog.Logger, dbConn *gorm.DB, ttl time.Duration) *ExclusionList {
	e := &ExclusionList{db: dbConn, logger: logger}
	fetchFunc := func(key string) ([]string, error) {
		var value string
		err := dbConn.WithContext(context.Background()).
			Raw("SELECT value FROM settings WHERE key = ? LIMIT 1", key).
			Scan(&value).Error
		if err != nil {
			return nil, err
		}
		return ParseIPList(value), nil
	}
	e.cache = cache.NewCache[string, []string](logger, ttl, fetchFunc)
	return e
}

// IsIPExcluded reports whether ip matches any configured entry.
func (e *ExclusionList) IsIPExcluded(ip string) (bool, error) {
	addr := net.ParseIP(strings.TrimSpace(ip))
	if addr == nil {
		return false, nil
	}

	entries, err := e.cache.Get(KeyExcludedIPs)
	if err != nil {
		return false, fmt.Errorf("failed to check excluded IPs: %w", err)
	}

	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				e.logger.Warn("Ignoring invalid excluded range", slog.String("entry", entry))
				continue
			}
			if network.Contains(addr) {
				return true, nil
			}
			continue
		}
		if excluded := net.ParseIP(entry); excluded != nil && excluded.Equal(addr) {
			return true, nil
		}
	}
	return false, nil
}

// SetExcludedIPs validates and stores the list, then drops the cached copy.
func (e *ExclusionList) SetExcludedIPs(entries []string) error {
	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				return fmt.Errorf("%w: CIDR %q: %v", ErrInvalidEntry, entry, err)
			}
			continue
		}
		if net.ParseIP(entry) == nil {
			return fmt.Errorf("%w: address %q", ErrInvalidEntry, entry)
		}
	}

	if err := UpdateSetting(e.logger, e.db, KeyExcludedIPs, strings.Join(entries, ",")); err != nil {
		return err
	}
	e.cache.Clear()
	return nil
}

// ExcludedIPs returns the stored list, bypassing the cache.
func (e *ExclusionList) ExcludedIPs() ([]string, error) {
	value, err := GetSetting(e.db, KeyExcludedIPs)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseIPList(value), nil
}
