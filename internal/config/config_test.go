package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testOwnerID = "05" + "aa11bb22cc33dd44ee55ff6600112233445566778899aabbccddeeff00112233"
	testDumpKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

// clearConfigEnv unsets all config env vars so tests start clean.
func clearConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"CONFSYNC_OWNER_ID",
		"CONFSYNC_DB_PATH",
		"CONFSYNC_DUMP_DB_PATH",
		"CONFSYNC_DUMP_KEY",
		"CONFSYNC_DUMP_FLUSH_INTERVAL",
		"CONFSYNC_DURATION_PRESETS",
		"DEVICE_NAME",
		"ENVIRONMENT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// setMinimumEnv sets the minimum env vars for a valid config.
func setMinimumEnv(t *testing.T, dir string) {
	t.Helper()
	t.Setenv("CONFSYNC_OWNER_ID", testOwnerID)
	t.Setenv("CONFSYNC_DUMP_KEY", testDumpKey)
	t.Setenv("CONFSYNC_DB_PATH", filepath.Join(dir, "confsync.db"))
	t.Setenv("CONFSYNC_DUMP_DB_PATH", filepath.Join(dir, "dumps.db"))
}

// --- Load ---

func TestLoad_Minimum(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()
	setMinimumEnv(t, dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, testOwnerID, cfg.OwnerID)
	assert.Equal(t, filepath.Join(dir, "confsync.db"), cfg.DBPath)
	assert.Equal(t, filepath.Join(dir, "dumps.db"), cfg.DumpDBPath)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 30*time.Second, cfg.DumpFlushInterval)
	assert.NotEmpty(t, cfg.DeviceName, "device name should default to hostname")
}

func TestLoad_MissingOwnerID(t *testing.T) {
	clearConfigEnv(t)
	setMinimumEnv(t, t.TempDir())
	os.Unsetenv("CONFSYNC_OWNER_ID")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFSYNC_OWNER_ID")
}

func TestLoad_OwnerID_WrongLength(t *testing.T) {
	clearConfigEnv(t)
	setMinimumEnv(t, t.TempDir())
	t.Setenv("CONFSYNC_OWNER_ID", "05ff")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hex characters")
}

func TestLoad_OwnerID_NonHex(t *testing.T) {
	clearConfigEnv(t)
	setMinimumEnv(t, t.TempDir())
	t.Setenv("CONFSYNC_OWNER_ID", strings.Repeat("zz", 33))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-hex")
}

func TestLoad_MissingDumpKey(t *testing.T) {
	clearConfigEnv(t)
	setMinimumEnv(t, t.TempDir())
	os.Unsetenv("CONFSYNC_DUMP_KEY")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFSYNC_DUMP_KEY")
}

func TestLoad_DumpKey_WrongLength(t *testing.T) {
	clearConfigEnv(t)
	setMinimumEnv(t, t.TempDir())
	t.Setenv("CONFSYNC_DUMP_KEY", "abcd")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "64 hex characters")
}

func TestLoad_NegativeFlushInterval(t *testing.T) {
	clearConfigEnv(t)
	setMinimumEnv(t, t.TempDir())
	t.Setenv("CONFSYNC_DUMP_FLUSH_INTERVAL", "-5s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FLUSH_INTERVAL")
}

func TestLoad_DeviceNameOverride(t *testing.T) {
	clearConfigEnv(t)
	setMinimumEnv(t, t.TempDir())
	t.Setenv("DEVICE_NAME", "test-device")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "test-device", cfg.DeviceName)
}

// --- DumpMasterKey ---

func TestDumpMasterKey(t *testing.T) {
	cfg := &Config{DumpKey: testDumpKey}

	key, err := cfg.DumpMasterKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)
	assert.Equal(t, byte(0x00), key[0])
	assert.Equal(t, byte(0x1f), key[31])
}

// --- IsProduction ---

func TestIsProduction(t *testing.T) {
	assert.True(t, (&Config{Environment: "production"}).IsProduction())
	assert.False(t, (&Config{Environment: "development"}).IsProduction())
	assert.False(t, (&Config{}).IsProduction())
}

// --- LoadPresets ---

func TestLoadPresets_Defaults(t *testing.T) {
	cfg := &Config{}

	presets, err := cfg.LoadPresets()
	require.NoError(t, err)
	assert.Equal(t, int64(12*60*60), presets.AfterReadSeconds)
	assert.Equal(t, int64(24*60*60), presets.AfterSendSeconds)
	assert.Len(t, presets.OptionsSeconds, 4)
}

func TestLoadPresets_FileOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	content := "after_read_seconds: 3600\noptions_seconds: [3600, 7200]\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg := &Config{DurationPresetsFile: path}

	presets, err := cfg.LoadPresets()
	require.NoError(t, err)
	assert.Equal(t, int64(3600), presets.AfterReadSeconds)
	// Unset fields keep the built-in default.
	assert.Equal(t, int64(24*60*60), presets.AfterSendSeconds)
	assert.Equal(t, []int64{3600, 7200}, presets.OptionsSeconds)
}

func TestLoadPresets_MissingFile(t *testing.T) {
	cfg := &Config{DurationPresetsFile: filepath.Join(t.TempDir(), "nope.yaml")}

	_, err := cfg.LoadPresets()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading duration presets")
}

func TestLoadPresets_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("after_read_seconds: [not a number"), 0o600))

	cfg := &Config{DurationPresetsFile: path}

	_, err := cfg.LoadPresets()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing duration presets")
}

func TestLoadPresets_NonPositiveOption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("options_seconds: [3600, 0]\n"), 0o600))

	cfg := &Config{DurationPresetsFile: path}

	_, err := cfg.LoadPresets()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be positive")
}
