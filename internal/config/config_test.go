package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		AppName:                   "pulseboard",
		Environment:               Development,
		DatabaseType:              SQLiteDatabase,
		PrivateKey:                defaultPrivateKey,
		SnapshotMode:              SnapshotModeDaily,
		MaxSessionDurationSeconds: 28800,
		DefaultReportDays:         30,
		MaxReportDays:             365,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "window snapshot mode", mutate: func(c *Config) { c.SnapshotMode = SnapshotModeWindow }},
		{name: "unknown environment", mutate: func(c *Config) { c.Environment = "staging" }, wantErr: "invalid environment"},
		{name: "unknown database", mutate: func(c *Config) { c.DatabaseType = "postgres" }, wantErr: "invalid database type"},
		{name: "unknown snapshot mode", mutate: func(c *Config) { c.SnapshotMode = "weekly" }, wantErr: "invalid snapshot mode"},
		{name: "zero session cap", mutate: func(c *Config) { c.MaxSessionDurationSeconds = 0 }, wantErr: "max session duration"},
		{name: "default days above max", mutate: func(c *Config) { c.DefaultReportDays = 400 }, wantErr: "default report days"},
		{name: "default days zero", mutate: func(c *Config) { c.DefaultReportDays = 0 }, wantErr: "default report days"},
		{name: "empty private key", mutate: func(c *Config) { c.PrivateKey = "" }, wantErr: "private key is required"},
		{
			name: "production with default key",
			mutate: func(c *Config) {
				c.Environment = Production
			},
			wantErr: "PULSEBOARD_PRIVATE_KEY",
		},
		{
			name: "production with own key",
			mutate: func(c *Config) {
				c.Environment = Production
				c.PrivateKey = "a-real-secret"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetDatabasePath(t *testing.T) {
	c := validConfig()
	c.DatabasePath = "storage"
	c.Environment = Test

	assert.Equal(t, filepath.Join("storage", "pulseboard-test.db"), c.GetDatabasePath())

	c.DatabaseName = "custom.db"
	assert.Equal(t, "custom.db", c.GetDatabasePath())
}

func TestConnectionLimits(t *testing.T) {
	c := validConfig()
	assert.Equal(t, 10, c.GetMaxOpenConns())
	assert.Equal(t, 5, c.GetMaxIdleConns())

	c.Environment = Test
	assert.Equal(t, 1, c.GetMaxOpenConns())
	assert.Equal(t, 1, c.GetMaxIdleConns())

	c.DatabaseMaxOpenConns = 4
	c.DatabaseMaxIdleConns = 2
	assert.Equal(t, 4, c.GetMaxOpenConns())
	assert.Equal(t, 2, c.GetMaxIdleConns())
}

func TestGetConfigFromEnvironment(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	t.Setenv("PULSEBOARD_ENV", Test)
	t.Setenv("PULSEBOARD_SNAPSHOT_MODE", SnapshotModeWindow)
	t.Setenv("PULSEBOARD_DEFAULT_REPORT_DAYS", "7")
	t.Setenv("PULSEBOARD_RAW_DATA_RETENTION_DAYS", "90")
	t.Setenv("PULSEBOARD_REPORT_API_KEY", "k")
	t.Setenv("PULSEBOARD_STORAGE_PATH", t.TempDir())

	c := GetConfig()
	assert.True(t, c.IsTest())
	assert.Equal(t, SnapshotModeWindow, c.SnapshotMode)
	assert.Equal(t, 7, c.DefaultReportDays)
	assert.Equal(t, 365, c.MaxReportDays)
	assert.Equal(t, 90, c.RawDataRetentionDays)
	assert.Equal(t, "k", c.ReportAPIKey)
	assert.Equal(t, 28800, c.MaxSessionDurationSeconds)
	assert.NotEmpty(t, c.DatabaseName)

	assert.Same(t, c, GetConfig())
}
