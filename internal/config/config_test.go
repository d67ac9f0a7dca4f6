package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dantte-lp/natcore/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Admin.Addr != ":8443" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":8443")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if len(cfg.STUN.ListenAddrs) != 1 || cfg.STUN.ListenAddrs[0] != ":3478" {
		t.Errorf("STUN.ListenAddrs = %v, want [:3478]", cfg.STUN.ListenAddrs)
	}

	if cfg.STUN.Workers != 3 {
		t.Errorf("STUN.Workers = %d, want 3", cfg.STUN.Workers)
	}

	if cfg.PseudoTCP.DefaultMTU != 1492 {
		t.Errorf("PseudoTCP.DefaultMTU = %d, want 1492", cfg.PseudoTCP.DefaultMTU)
	}

	if cfg.PseudoTCP.AckDelay != 100*time.Millisecond {
		t.Errorf("PseudoTCP.AckDelay = %v, want %v", cfg.PseudoTCP.AckDelay, 100*time.Millisecond)
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
admin:
  addr: ":9443"
metrics:
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
stun:
  listen_addrs: [":4000", ":4001"]
  workers: 5
ptcp:
  default_mtu: 1400
  nodelay: true
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Admin.Addr != ":9443" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":9443")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}

	if len(cfg.STUN.ListenAddrs) != 2 {
		t.Fatalf("STUN.ListenAddrs = %v, want 2 entries", cfg.STUN.ListenAddrs)
	}

	if cfg.STUN.Workers != 5 {
		t.Errorf("STUN.Workers = %d, want 5", cfg.STUN.Workers)
	}

	if cfg.PseudoTCP.DefaultMTU != 1400 {
		t.Errorf("PseudoTCP.DefaultMTU = %d, want 1400", cfg.PseudoTCP.DefaultMTU)
	}

	if !cfg.PseudoTCP.Nodelay {
		t.Error("PseudoTCP.Nodelay = false, want true")
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override admin.addr and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
admin:
  addr: ":7777"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	// Overridden values.
	if cfg.Admin.Addr != ":7777" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":7777")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Default values should be preserved.
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}

	if len(cfg.STUN.ListenAddrs) != 1 || cfg.STUN.ListenAddrs[0] != ":3478" {
		t.Errorf("STUN.ListenAddrs = %v, want default [:3478]", cfg.STUN.ListenAddrs)
	}

	if cfg.STUN.Workers != 3 {
		t.Errorf("STUN.Workers = %d, want default 3", cfg.STUN.Workers)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty admin addr",
			modify: func(cfg *config.Config) {
				cfg.Admin.Addr = ""
			},
			wantErr: config.ErrEmptyAdminAddr,
		},
		{
			name: "no stun listen addrs",
			modify: func(cfg *config.Config) {
				cfg.STUN.ListenAddrs = nil
			},
			wantErr: config.ErrNoListenAddrs,
		},
		{
			name: "zero stun workers",
			modify: func(cfg *config.Config) {
				cfg.STUN.Workers = 0
			},
			wantErr: config.ErrInvalidWorkers,
		},
		{
			name: "negative stun workers",
			modify: func(cfg *config.Config) {
				cfg.STUN.Workers = -1
			},
			wantErr: config.ErrInvalidWorkers,
		},
		{
			name: "zero default mtu",
			modify: func(cfg *config.Config) {
				cfg.PseudoTCP.DefaultMTU = 0
			},
			wantErr: config.ErrInvalidDefaultMTU,
		},
		{
			name: "negative default mtu",
			modify: func(cfg *config.Config) {
				cfg.PseudoTCP.DefaultMTU = -1
			},
			wantErr: config.ErrInvalidDefaultMTU,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
admin:
  addr: ":8443"
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("NATCORE_ADMIN_ADDR", ":6000")
	t.Setenv("NATCORE_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Admin.Addr != ":6000" {
		t.Errorf("Admin.Addr = %q, want %q (from env)", cfg.Admin.Addr, ":6000")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesMetrics(t *testing.T) {
	yamlContent := `
admin:
  addr: ":8443"
metrics:
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("NATCORE_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want %q (from env)", cfg.Metrics.Path, "/custom")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "natcored.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
