package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all environment-based configuration for confsync.
type Config struct {
	// OwnerID is the hex-encoded account identity this device syncs
	// configuration for. Every namespace handle is scoped to it.
	OwnerID string `env:"CONFSYNC_OWNER_ID"`

	// DBPath is the sqlite database holding the relational domain model
	// (contacts, profiles, threads, disappearing-message configs).
	// Defaults to ~/.confsync/confsync.db.
	DBPath string `env:"CONFSYNC_DB_PATH"`

	// DumpDBPath is the bbolt database holding persisted config dumps.
	// Defaults to ~/.confsync/dumps.db.
	DumpDBPath string `env:"CONFSYNC_DUMP_DB_PATH"`

	// DumpKey is the hex-encoded 32-byte master key used to seal dump
	// payloads at rest. Per-namespace keys are derived from it.
	DumpKey string `env:"CONFSYNC_DUMP_KEY"`

	// DeviceName this client identifies as. Defaults to system hostname.
	DeviceName string `env:"DEVICE_NAME"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// DumpFlushInterval is how often the background flusher persists
	// handles whose in-memory state has diverged from the last dump.
	DumpFlushInterval time.Duration `env:"CONFSYNC_DUMP_FLUSH_INTERVAL" envDefault:"30s"`

	// DurationPresetsFile optionally points at a YAML file overriding the
	// built-in disappearing-message duration defaults.
	DurationPresetsFile string `env:"CONFSYNC_DURATION_PRESETS"`
}

const (
	// ownerIDLen is the expected length of a hex-encoded owner identity
	// (33 bytes: one version prefix byte plus a 32-byte public key).
	ownerIDLen = 66

	// dumpKeyLen is the expected length of the hex-encoded dump master key.
	dumpKeyLen = 64
)

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the dump key to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.DeviceName == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "confsync"
		}

		cfg.DeviceName = hostname
	}

	if err := cfg.applyPathDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyPathDefaults() error {
	if c.DBPath != "" && c.DumpDBPath != "" {
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	if c.DBPath == "" {
		c.DBPath = filepath.Join(home, ".confsync", "confsync.db")
	}

	if c.DumpDBPath == "" {
		c.DumpDBPath = filepath.Join(home, ".confsync", "dumps.db")
	}

	return nil
}

func (c *Config) validate() error {
	if c.OwnerID == "" {
		return fmt.Errorf("CONFSYNC_OWNER_ID is required")
	}

	if len(c.OwnerID) != ownerIDLen {
		return fmt.Errorf("CONFSYNC_OWNER_ID must be %d hex characters, got %d", ownerIDLen, len(c.OwnerID))
	}

	if _, err := hex.DecodeString(c.OwnerID); err != nil {
		return fmt.Errorf("CONFSYNC_OWNER_ID contains non-hex characters")
	}

	if c.DumpKey == "" {
		return fmt.Errorf("CONFSYNC_DUMP_KEY is required")
	}

	if len(c.DumpKey) != dumpKeyLen {
		return fmt.Errorf("CONFSYNC_DUMP_KEY must be %d hex characters, got %d", dumpKeyLen, len(c.DumpKey))
	}

	if _, err := hex.DecodeString(c.DumpKey); err != nil {
		return fmt.Errorf("CONFSYNC_DUMP_KEY contains non-hex characters")
	}

	if c.DumpFlushInterval <= 0 {
		return fmt.Errorf("CONFSYNC_DUMP_FLUSH_INTERVAL must be positive")
	}

	return nil
}

// DumpMasterKey decodes the configured dump master key.
func (c *Config) DumpMasterKey() ([]byte, error) {
	key, err := hex.DecodeString(c.DumpKey)
	if err != nil {
		return nil, fmt.Errorf("decoding dump key: %w", err)
	}

	return key, nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// DurationPresets holds the default disappearing-message durations applied
// when an incoming timer update carries no explicit duration, plus the
// duration options offered by the UI layer.
type DurationPresets struct {
	// AfterReadSeconds is the default for read-triggered expiry (12 hours).
	AfterReadSeconds int64 `yaml:"after_read_seconds"`

	// AfterSendSeconds is the default for send-triggered expiry (1 day).
	AfterSendSeconds int64 `yaml:"after_send_seconds"`

	// OptionsSeconds lists the selectable durations, ascending.
	OptionsSeconds []int64 `yaml:"options_seconds"`
}

// DefaultDurationPresets returns the built-in presets.
func DefaultDurationPresets() DurationPresets {
	return DurationPresets{
		AfterReadSeconds: 12 * 60 * 60,
		AfterSendSeconds: 24 * 60 * 60,
		OptionsSeconds: []int64{
			12 * 60 * 60,
			24 * 60 * 60,
			7 * 24 * 60 * 60,
			14 * 24 * 60 * 60,
		},
	}
}

// LoadPresets returns the duration presets, reading the overrides file when
// one is configured. Fields left zero in the file fall back to the built-in
// defaults.
func (c *Config) LoadPresets() (DurationPresets, error) {
	presets := DefaultDurationPresets()

	if c.DurationPresetsFile == "" {
		return presets, nil
	}

	data, err := os.ReadFile(c.DurationPresetsFile)
	if err != nil {
		return presets, fmt.Errorf("reading duration presets: %w", err)
	}

	var override DurationPresets
	if err := yaml.Unmarshal(data, &override); err != nil {
		return presets, fmt.Errorf("parsing duration presets: %w", err)
	}

	if override.AfterReadSeconds > 0 {
		presets.AfterReadSeconds = override.AfterReadSeconds
	}

	if override.AfterSendSeconds > 0 {
		presets.AfterSendSeconds = override.AfterSendSeconds
	}

	if len(override.OptionsSeconds) > 0 {
		presets.OptionsSeconds = override.OptionsSeconds
	}

	for _, opt := range presets.OptionsSeconds {
		if opt <= 0 {
			return presets, fmt.Errorf("duration preset options must be positive, got %d", opt)
		}
	}

	return presets, nil
}
