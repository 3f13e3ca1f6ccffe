package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "camsupd.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, validate(Default()))
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := writeConfig(t, `
[paths]
socket = "/tmp/test.sock"

[watchdog]
stall_seconds = 45
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.sock", cfg.Paths.Socket)
	assert.Equal(t, 45, cfg.Watchdog.StallSeconds)
	// Untouched fields keep their defaults.
	assert.Equal(t, "/var/lib/camsupd/state.json", cfg.Paths.StateFile)
	assert.Equal(t, 5, cfg.Watchdog.IntervalSeconds)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	path := writeConfig(t, `
[degradation]
cpu_warn = 90.0
cpu_degrade = 85.0
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cpu thresholds")
}

func TestValidateRejectsDiskFloorAboveLow(t *testing.T) {
	path := writeConfig(t, `
[watchdog]
disk_low_gb = 1.0
disk_critical_gb = 5.0
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk_critical_gb")
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "5s", cfg.Watchdog.Interval().String())
	assert.Equal(t, "30s", cfg.Watchdog.StallAfter().String())
	assert.Equal(t, "1m0s", cfg.Watchdog.DiskCooldown().String())
	assert.Equal(t, "30s", cfg.Degradation.Dwell().String())
}
