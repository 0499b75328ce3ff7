// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Database types
const (
	SQLiteDatabase = "sqlite"
)

// Snapshot modes decide which values are persisted as the daily baseline.
const (
	// SnapshotModeDaily always computes a fixed trailing 1-day window for the snapshot.
	SnapshotModeDaily = "daily"
	// SnapshotModeWindow stores the requested report window's totals.
	SnapshotModeWindow = "window"
)

const defaultPrivateKey = "88888888888888888888888888888888"

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`
	PrivateKey  string   `mapstructure:"privatekey"`

	// File paths
	DatabasePath    string `mapstructure:"storagepath"`
	DatabaseName    string `mapstructure:"-"` // Derived from other settings
	GeoDBPath       string `mapstructure:"geodbpath"`
	PublicDirectory string `mapstructure:"publicdir"`
	AssetsURLPrefix string `mapstructure:"publicassetsurlprefix"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseType         string `mapstructure:"dbtype"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`

	// Report settings
	SnapshotMode              string `mapstructure:"snapshotmode"`
	MaxSessionDurationSeconds int    `mapstructure:"maxsessiondurationseconds"`
	RecentSampleLimit         int    `mapstructure:"recentsamplelimit"`
	TopNLimit                 int    `mapstructure:"topnlimit"`
	DefaultReportDays         int    `mapstructure:"defaultreportdays"`
	MaxReportDays             int    `mapstructure:"maxreportdays"`
	ReportAPIKey              string `mapstructure:"reportapikey"`
	PublicURL                 string `mapstructure:"publicurl"` // origin the tracker script posts to; request host when empty

	// Job scheduling settings
	JobIntervalSeconds int `mapstructure:"jobintervalseconds"`

	// Data retention settings, 0 keeps raw rows forever
	RawDataRetentionDays int `mapstructure:"rawdataretentiondays"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		v.SetDefault("appname", "pulseboard")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("privatekey", defaultPrivateKey)
		v.SetDefault("storagepath", "storage")
		v.SetDefault("geodbpath", "storage/GeoLite2-City.mmdb")
		v.SetDefault("publicdir", "public")
		v.SetDefault("publicassetsurlprefix", "/")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbtype", SQLiteDatabase)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("snapshotmode", SnapshotModeDaily)
		v.SetDefault("maxsessiondurationseconds", 28800) // 8 hours
		v.SetDefault("recentsamplelimit", 50)
		v.SetDefault("topnlimit", 10)
		v.SetDefault("defaultreportdays", 30)
		v.SetDefault("maxreportdays", 365)
		v.SetDefault("jobintervalseconds", 3600)
		v.SetDefault("rawdataretentiondays", 0)

		v.BindEnv("appname", "PULSEBOARD_APP_NAME")
		v.BindEnv("appport", "PULSEBOARD_APP_PORT")
		v.BindEnv("environment", "PULSEBOARD_ENV")
		v.BindEnv("loglevel", "PULSEBOARD_LOG_LEVEL")
		v.BindEnv("privatekey", "PULSEBOARD_PRIVATE_KEY")
		v.BindEnv("storagepath", "PULSEBOARD_STORAGE_PATH")
		v.BindEnv("geodbpath", "PULSEBOARD_GEO_DB_PATH")
		v.BindEnv("publicdir", "PULSEBOARD_PUBLIC_DIR")
		v.BindEnv("publicassetsurlprefix", "PULSEBOARD_PUBLIC_ASSETS_URL_PREFIX")
		v.BindEnv("logsdir", "PULSEBOARD_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "PULSEBOARD_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "PULSEBOARD_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "PULSEBOARD_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbtype", "PULSEBOARD_DB_TYPE")
		v.BindEnv("dbmaxopenconns", "PULSEBOARD_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "PULSEBOARD_DB_MAX_IDLE_CONNS")
		v.BindEnv("snapshotmode", "PULSEBOARD_SNAPSHOT_MODE")
		v.BindEnv("maxsessiondurationseconds", "PULSEBOARD_MAX_SESSION_DURATION_SECONDS")
		v.BindEnv("recentsamplelimit", "PULSEBOARD_RECENT_SAMPLE_LIMIT")
		v.BindEnv("topnlimit", "PULSEBOARD_TOP_N_LIMIT")
		v.BindEnv("defaultreportdays", "PULSEBOARD_DEFAULT_REPORT_DAYS")
		v.BindEnv("maxreportdays", "PULSEBOARD_MAX_REPORT_DAYS")
		v.BindEnv("reportapikey", "PULSEBOARD_REPORT_API_KEY")
		v.BindEnv("publicurl", "PULSEBOARD_PUBLIC_URL")
		v.BindEnv("jobintervalseconds", "PULSEBOARD_JOB_INTERVAL_SECONDS")
		v.BindEnv("rawdataretentiondays", "PULSEBOARD_RAW_DATA_RETENTION_DAYS")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		cfg.DatabaseName = cfg.GetDatabasePath()
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validDBTypes := map[string]bool{
		SQLiteDatabase: true,
	}
	if !validDBTypes[c.DatabaseType] {
		return fmt.Errorf("invalid database type: %s", c.DatabaseType)
	}

	if c.SnapshotMode != SnapshotModeDaily && c.SnapshotMode != SnapshotModeWindow {
		return fmt.Errorf("invalid snapshot mode: %s", c.SnapshotMode)
	}

	if c.MaxSessionDurationSeconds <= 0 {
		return fmt.Errorf("max session duration must be positive, got %d", c.MaxSessionDurationSeconds)
	}

	if c.DefaultReportDays < 1 || c.DefaultReportDays > c.MaxReportDays {
		return fmt.Errorf("default report days %d outside 1..%d", c.DefaultReportDays, c.MaxReportDays)
	}

	// The private key salts visitor IP hashes; production must not use the shipped default
	if c.PrivateKey == "" {
		return fmt.Errorf("private key is required")
	}
	if c.IsProduction() && c.PrivateKey == defaultPrivateKey {
		return fmt.Errorf("production requires a unique PULSEBOARD_PRIVATE_KEY (cannot use default)")
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.AssetsURLPrefix
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment.
// Test uses a single connection; otherwise 10 so report reads can run in parallel.
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
