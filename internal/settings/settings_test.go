package settings_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulseboard/internal/settings"
	"pulseboard/internal/testsupport"
)

func TestIsIPExcluded(t *testing.T) {
	t.Run("excludes exact IP match", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)
		require.NoError(t, settings.SetupDefaultSettings(logger, db))

		require.NoError(t, settings.UpdateSetting(logger, db, settings.KeyExcludedIPs, "192.168.1.100"))
		list := settings.NewExclusionList(logger, db, time.Minute)

		isExcluded, err := list.IsIPExcluded("192.168.1.100")
		require.NoError(t, err)
		assert.True(t, isExcluded, "The exact IP in the exclusion list should be excluded")

		isExcluded, err = list.IsIPExcluded("192.168.1.101")
		require.NoError(t, err)
		assert.False(t, isExcluded, "A different IP should not be excluded")
	})

	t.Run("handles IPs with whitespace", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		require.NoError(t, settings.UpdateSetting(logger, db, settings.KeyExcludedIPs, " 192.168.1.100 , 10.0.0.1 "))
		list := settings.NewExclusionList(logger, db, time.Minute)

		for _, ip := range []string{"192.168.1.100", "10.0.0.1"} {
			isExcluded, err := list.IsIPExcluded(ip)
			require.NoError(t, err)
			assert.True(t, isExcluded, ip)
		}
	})

	t.Run("matches CIDR ranges", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		require.NoError(t, settings.UpdateSetting(logger, db, settings.KeyExcludedIPs, "10.0.0.0/8,not-an-ip/99"))
		list := settings.NewExclusionList(logger, db, time.Minute)

		isExcluded, err := list.IsIPExcluded("10.20.30.40")
		require.NoError(t, err)
		assert.True(t, isExcluded)

		isExcluded, err = list.IsIPExcluded("11.0.0.1")
		require.NoError(t, err)
		assert.False(t, isExcluded)
	})

	t.Run("empty list and unparseable client address", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)
		require.NoError(t, settings.SetupDefaultSettings(logger, db))
		list := settings.NewExclusionList(logger, db, time.Minute)

		isExcluded, err := list.IsIPExcluded("192.168.1.1")
		require.NoError(t, err)
		assert.False(t, isExcluded)

		isExcluded, err = list.IsIPExcluded("garbage")
		require.NoError(t, err)
		assert.False(t, isExcluded)
	})
}

func TestSetExcludedIPs(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)
	require.NoError(t, settings.SetupDefaultSettings(logger, db))
	list := settings.NewExclusionList(logger, db, time.Hour)

	isExcluded, err := list.IsIPExcluded("203.0.113.9")
	require.NoError(t, err)
	assert.False(t, isExcluded)

	require.NoError(t, list.SetExcludedIPs([]string{"203.0.113.0/24"}))

	isExcluded, err = list.IsIPExcluded("203.0.113.9")
	require.NoError(t, err)
	assert.True(t, isExcluded, "the cached list is dropped on update")

	stored, err := list.ExcludedIPs()
	require.NoError(t, err)
	assert.Equal(t, []string{"203.0.113.0/24"}, stored)

	assert.ErrorIs(t, list.SetExcludedIPs([]string{"999.1.1.1"}), settings.ErrInvalidEntry)
	assert.ErrorIs(t, list.SetExcludedIPs([]string{"10.0.0.0/99"}), settings.ErrInvalidEntry)
}

func TestSetupDefaultSettings_KeepsExistingValues(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	require.NoError(t, settings.UpdateSetting(logger, db, settings.KeyExcludedIPs, "1.2.3.4"))
	require.NoError(t, settings.SetupDefaultSettings(logger, db))

	value, err := settings.GetSetting(db, settings.KeyExcludedIPs)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4", value)
}

func TestParseIPList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, settings.ParseIPList(" a, ,b,"))
	assert.Nil(t, settings.ParseIPList(""))
}
