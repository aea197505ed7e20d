// Package config loads TillPoint sync daemon configuration.
//
// Precedence, lowest first: built-in defaults, an optional YAML config
// file, then TILLPOINT_* environment variables. POS deployments typically
// ship the YAML file with the device image and use environment variables
// only for per-lane overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/tillpoint/pos-core/internal/errors"
)

// Config holds the process-wide, immutable configuration.
type Config struct {
	// Local resources
	DataDir    string // sqlite database directory
	ListenAddr string // loopback diagnostics API address
	LogLevel   string

	// Backend identity
	APIBaseURL string
	DeviceID   string
	APIKey     string

	// Sync engine policy
	MaxRetries        int           // delivery attempts before abandonment
	HeartbeatInterval time.Duration // connectivity probe period
	SyncInterval      time.Duration // full reference-data sync period
	RequestTimeout    time.Duration // per-request bound for backend calls
	SyncOnStart       bool          // run a full sync immediately at startup
	OfflineThreshold  int           // consecutive heartbeat failures before OFFLINE
}

// Default returns the built-in configuration defaults.
func Default() Config {
	return Config{
		DataDir:           "./data",
		ListenAddr:        "127.0.0.1:8475",
		LogLevel:          "info",
		MaxRetries:        5,
		HeartbeatInterval: 30 * time.Second,
		SyncInterval:      5 * time.Minute,
		RequestTimeout:    10 * time.Second,
		SyncOnStart:       true,
		OfflineThreshold:  3,
	}
}

// fileConfig is the YAML shape. Durations are strings ("30s", "5m") so the
// file stays readable; absent keys leave the default untouched.
type fileConfig struct {
	DataDir           *string `yaml:"data_dir"`
	ListenAddr        *string `yaml:"listen_addr"`
	LogLevel          *string `yaml:"log_level"`
	APIBaseURL        *string `yaml:"api_base_url"`
	DeviceID          *string `yaml:"device_id"`
	APIKey            *string `yaml:"api_key"`
	MaxRetries        *int    `yaml:"max_retries"`
	HeartbeatInterval *string `yaml:"heartbeat_interval"`
	SyncInterval      *string `yaml:"sync_interval"`
	RequestTimeout    *string `yaml:"request_timeout"`
	SyncOnStart       *bool   `yaml:"sync_on_start"`
	OfflineThreshold  *int    `yaml:"offline_threshold"`
}

// Load builds the configuration. path may be empty, in which case only
// defaults and environment variables apply; a non-empty path must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrConfig, "could not read config file", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return apperrors.Wrap(apperrors.ErrConfig, "could not parse config file", err)
	}

	setString(&cfg.DataDir, fc.DataDir)
	setString(&cfg.ListenAddr, fc.ListenAddr)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.APIBaseURL, fc.APIBaseURL)
	setString(&cfg.DeviceID, fc.DeviceID)
	setString(&cfg.APIKey, fc.APIKey)
	if fc.MaxRetries != nil {
		cfg.MaxRetries = *fc.MaxRetries
	}
	if fc.OfflineThreshold != nil {
		cfg.OfflineThreshold = *fc.OfflineThreshold
	}
	if fc.SyncOnStart != nil {
		cfg.SyncOnStart = *fc.SyncOnStart
	}
	if err := setDuration(&cfg.HeartbeatInterval, fc.HeartbeatInterval, "heartbeat_interval"); err != nil {
		return err
	}
	if err := setDuration(&cfg.SyncInterval, fc.SyncInterval, "sync_interval"); err != nil {
		return err
	}
	return setDuration(&cfg.RequestTimeout, fc.RequestTimeout, "request_timeout")
}

func applyEnv(cfg *Config) error {
	envString(&cfg.DataDir, "TILLPOINT_DATA_DIR")
	envString(&cfg.ListenAddr, "TILLPOINT_LISTEN_ADDR")
	envString(&cfg.LogLevel, "TILLPOINT_LOG_LEVEL")
	envString(&cfg.APIBaseURL, "TILLPOINT_API_BASE_URL")
	envString(&cfg.DeviceID, "TILLPOINT_DEVICE_ID")
	envString(&cfg.APIKey, "TILLPOINT_API_KEY")

	if err := envInt(&cfg.MaxRetries, "TILLPOINT_MAX_RETRIES"); err != nil {
		return err
	}
	if err := envInt(&cfg.OfflineThreshold, "TILLPOINT_OFFLINE_THRESHOLD"); err != nil {
		return err
	}
	if err := envBool(&cfg.SyncOnStart, "TILLPOINT_SYNC_ON_START"); err != nil {
		return err
	}
	if err := envDuration(&cfg.HeartbeatInterval, "TILLPOINT_HEARTBEAT_INTERVAL"); err != nil {
		return err
	}
	if err := envDuration(&cfg.SyncInterval, "TILLPOINT_SYNC_INTERVAL"); err != nil {
		return err
	}
	return envDuration(&cfg.RequestTimeout, "TILLPOINT_REQUEST_TIMEOUT")
}

// Validate checks invariants that hold for any run mode.
func (c Config) Validate() error {
	if c.MaxRetries < 1 {
		return apperrors.Newf(apperrors.ErrConfig, "max_retries must be >= 1, got %d", c.MaxRetries)
	}
	if c.OfflineThreshold < 1 {
		return apperrors.Newf(apperrors.ErrConfig, "offline_threshold must be >= 1, got %d", c.OfflineThreshold)
	}
	if c.HeartbeatInterval <= 0 || c.SyncInterval <= 0 || c.RequestTimeout <= 0 {
		return apperrors.New(apperrors.ErrConfig, "intervals and timeouts must be positive")
	}
	if c.DataDir == "" {
		return apperrors.New(apperrors.ErrConfig, "data_dir is required")
	}
	return nil
}

// ValidateServe checks the additional settings the daemon needs to reach
// the backend. The offline queue CLI does not need these.
func (c Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIBaseURL == "" {
		return apperrors.New(apperrors.ErrConfig, "api_base_url is required")
	}
	if c.DeviceID == "" {
		return apperrors.New(apperrors.ErrConfig, "device_id is required")
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string, key string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return apperrors.Newf(apperrors.ErrConfig, "invalid duration for %s: %q", key, *src)
	}
	*dst = d
	return nil
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return apperrors.Newf(apperrors.ErrConfig, "invalid integer for %s: %q", key, v)
	}
	*dst = n
	return nil
}

func envBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return apperrors.Newf(apperrors.ErrConfig, "invalid boolean for %s: %q", key, v)
	}
	*dst = b
	return nil
}

func envDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return apperrors.Newf(apperrors.ErrConfig, "invalid duration for %s: %q", key, v)
	}
	*dst = d
	return nil
}

// DatabasePath returns the sqlite file path under DataDir.
func (c Config) DatabasePath() string {
	return fmt.Sprintf("%s/tillpoint.db", c.DataDir)
}
