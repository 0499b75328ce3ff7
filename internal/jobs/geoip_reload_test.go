package jobs

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeoIPReloadJob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "GeoLite2-City.mmdb")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	reloads := 0
	job := NewGeoIPReloadJob(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	job.reload = func() { reloads++ }

	// First run records the modification time only.
	require.NoError(t, job.Run())
	assert.Equal(t, 0, reloads)

	require.NoError(t, job.Run())
	assert.Equal(t, 0, reloads, "unchanged file should not reload")

	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))
	require.NoError(t, job.Run())
	assert.Equal(t, 1, reloads)

	require.NoError(t, job.Run())
	assert.Equal(t, 1, reloads)
}

func TestGeoIPReloadJob_MissingFile(t *testing.T) {
	reloads := 0
	job := NewGeoIPReloadJob(filepath.Join(t.TempDir(), "missing.mmdb"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	job.reload = func() { reloads++ }

	require.NoError(t, job.Run())
	assert.Equal(t, 0, reloads)

	empty := NewGeoIPReloadJob("", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, empty.Run())
}
