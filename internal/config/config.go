// Package config manages the natcore daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete natcore daemon configuration.
type Config struct {
	Admin       AdminConfig       `koanf:"admin"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Log         LogConfig         `koanf:"log"`
	STUN        STUNConfig        `koanf:"stun"`
	PseudoTCP   PseudoTCPConfig   `koanf:"ptcp"`
	Mux         MuxConfig         `koanf:"mux"`
	Credentials CredentialsConfig `koanf:"credentials"`
}

// AdminConfig holds the plain-HTTP admin/introspection server's
// configuration (SPEC_FULL.md §6.1).
type AdminConfig struct {
	// Addr is the admin API listen address (e.g., ":8443").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration. The
// metrics endpoint is mounted on the admin server (AdminConfig.Addr)
// alongside the introspection routes (SPEC_FULL.md §6.1), so only the path
// is configurable here.
type MetricsConfig struct {
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// STUNConfig holds the STUN transaction layer's defaults.
type STUNConfig struct {
	// ListenAddrs are the UDP addresses the network manager binds for
	// STUN request/response traffic (e.g., [":3478"]).
	ListenAddrs []string `koanf:"listen_addrs"`
	// Workers is the network manager's decode/dispatch worker pool size.
	Workers int `koanf:"workers"`
}

// PseudoTCPConfig holds the pseudo-TCP engine's defaults.
type PseudoTCPConfig struct {
	// DefaultMTU seeds notify_mtu when the path MTU is not otherwise known.
	DefaultMTU int `koanf:"default_mtu"`
	// AckDelay is the default delayed-ACK deadline.
	AckDelay time.Duration `koanf:"ack_delay"`
	// Nodelay disables Nagling by default when true.
	Nodelay bool `koanf:"nodelay"`
}

// MuxConfig holds the listening-endpoint demultiplexer's defaults.
type MuxConfig struct {
	// ReadTimeout is the per-connection idle discard timeout.
	ReadTimeout time.Duration `koanf:"read_timeout"`
}

// CredentialsConfig points at the long-term credentials store.
type CredentialsConfig struct {
	// File is the path to a YAML long-term-credentials file, loaded once
	// at startup (SPEC_FULL.md §3.1). Empty means no long-term store.
	File string `koanf:"file"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Admin: AdminConfig{
			Addr: ":8443",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		STUN: STUNConfig{
			ListenAddrs: []string{":3478"},
			Workers:     3,
		},
		PseudoTCP: PseudoTCPConfig{
			DefaultMTU: 1492,
			AckDelay:   100 * time.Millisecond,
			Nodelay:    false,
		},
		Mux: MuxConfig{
			ReadTimeout: 5 * time.Second,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for natcore configuration.
// Variables are named NATCORE_<section>_<key>, e.g., NATCORE_ADMIN_ADDR.
const envPrefix = "NATCORE_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (NATCORE_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	NATCORE_ADMIN_ADDR    -> admin.addr
//	NATCORE_METRICS_PATH  -> metrics.path
//	NATCORE_LOG_LEVEL     -> log.level
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults first.
	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	// Load YAML file on top of defaults.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	// Load environment variable overrides on top of YAML.
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms NATCORE_ADMIN_ADDR -> admin.addr.
// Strips the NATCORE_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"admin.addr":        defaults.Admin.Addr,
		"metrics.path":      defaults.Metrics.Path,
		"log.level":         defaults.Log.Level,
		"log.format":        defaults.Log.Format,
		"stun.listen_addrs": defaults.STUN.ListenAddrs,
		"stun.workers":      defaults.STUN.Workers,
		"ptcp.default_mtu":  defaults.PseudoTCP.DefaultMTU,
		"ptcp.ack_delay":    defaults.PseudoTCP.AckDelay.String(),
		"ptcp.nodelay":      defaults.PseudoTCP.Nodelay,
		"mux.read_timeout":  defaults.Mux.ReadTimeout.String(),
		"credentials.file":  defaults.Credentials.File,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyAdminAddr indicates the admin API listen address is empty.
	ErrEmptyAdminAddr = errors.New("admin.addr must not be empty")

	// ErrNoListenAddrs indicates no STUN listen addresses were configured.
	ErrNoListenAddrs = errors.New("stun.listen_addrs must not be empty")

	// ErrInvalidWorkers indicates the worker pool size is not positive.
	ErrInvalidWorkers = errors.New("stun.workers must be >= 1")

	// ErrInvalidDefaultMTU indicates the default MTU is not positive.
	ErrInvalidDefaultMTU = errors.New("ptcp.default_mtu must be > 0")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Admin.Addr == "" {
		return ErrEmptyAdminAddr
	}

	if len(cfg.STUN.ListenAddrs) == 0 {
		return ErrNoListenAddrs
	}

	if cfg.STUN.Workers < 1 {
		return ErrInvalidWorkers
	}

	if cfg.PseudoTCP.DefaultMTU <= 0 {
		return ErrInvalidDefaultMTU
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
