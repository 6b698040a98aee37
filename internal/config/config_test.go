package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MolSSI/QCFractal-sub003/internal/config"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, cfg.HeartbeatTimeout)
	require.False(t, cfg.AutoReset.Enabled)
}

func TestLoadParsesRecognizedKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "qcfractal.toml", `
heartbeat_timeout = "2m"
service_iteration_interval = "5s"
temporary_dir = "/tmp/qcfractal"

[auto_reset]
enabled = true
compute_error = 3
timeout = 1

[api_limits]
get_records = 500
add_records = 250
get_dataset_entries = 100
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 2*time.Minute, cfg.HeartbeatTimeout)
	require.Equal(t, 5*time.Second, cfg.ServiceIterationInterval)
	require.Equal(t, "/tmp/qcfractal", cfg.TemporaryDir)
	require.True(t, cfg.AutoReset.Enabled)
	require.Equal(t, 3, cfg.AutoReset.MaxAttempts["compute_error"])
	require.Equal(t, 1, cfg.AutoReset.MaxAttempts["timeout"])
	require.Equal(t, 500, cfg.APILimits.GetRecords)
	require.Equal(t, 250, cfg.APILimits.AddRecords)
	require.Equal(t, 100, cfg.APILimits.GetDatasetEntries)
}

func TestLoadRejectsUnrecognizedAutoResetKey(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "qcfractal.toml", `
[auto_reset]
enabled = true
bogus_error = 3
`)

	_, err := config.Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "bogus_error")
}

func TestLoadProfilesAndApply(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "profiles.toml", `
[profiles.ci]
heartbeat_timeout = "30s"
auto_reset_enabled = true
get_records_limit = 100
`)

	profiles, err := config.LoadProfiles(path)
	require.NoError(t, err)
	require.Contains(t, profiles, "ci")

	cfg, err := config.Load(filepath.Join(dir, "missing.toml"))
	require.NoError(t, err)
	require.NoError(t, profiles["ci"].Apply(cfg))
	require.Equal(t, 30*time.Second, cfg.HeartbeatTimeout)
	require.True(t, cfg.AutoReset.Enabled)
	require.Equal(t, 100, cfg.APILimits.GetRecords)
}

func TestLoadProfilesMissingFile(t *testing.T) {
	profiles, err := config.LoadProfiles(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	require.Empty(t, profiles)
}
