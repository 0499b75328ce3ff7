package jobs

import (
	"log/slog"
	"os"
	"time"

	"pulseboard/internal/pkg/geoip"
)

// GeoIPReloadJob reopens the GeoLite2 database when the file on disk changes,
// so an externally refreshed database is picked up without a restart.
type GeoIPReloadJob struct {
	path     string
	logger   *slog.Logger
	lastSeen time.Time
	reload   func()
}

func NewGeoIPReloadJob(path string, logger *slog.Logger) *GeoIPReloadJob {
	return &GeoIPReloadJob{
		path:   path,
		logger: logger,
		reload: geoip.ReloadGeoDB,
	}
}

// Run compares the file's modification time with the last one seen.
// The first run only records it.
func (j *GeoIPReloadJob) Run() error {
	if j.path == "" {
		return nil
	}

	info, err := os.Stat(j.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	modified := info.ModTime()
	if j.lastSeen.IsZero() {
		j.lastSeen = modified
		return nil
	}
	if !modified.After(j.lastSeen) {
		return nil
	}

	j.logger.Info("GeoLite2 database changed on disk, reloading",
		slog.String("path", j.path),
		slog.Time("modified", modified))
	j.reload()
	j.lastSeen = modified
	return nil
}
