package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dantte-lp/gobearer/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.GRPC.Addr != ":50051" {
		t.Errorf("GRPC.Addr = %q, want %q", cfg.GRPC.Addr, ":50051")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
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

	if cfg.Bearers.XU.Port != 4444 {
		t.Errorf("Bearers.XU.Port = %d, want %d", cfg.Bearers.XU.Port, 4444)
	}

	if cfg.NAT.DisableV6 {
		t.Error("NAT.DisableV6 = true, want false by default")
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
grpc:
  addr: ":60000"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
bearers:
  xu:
    port: 5555
    advertised_port: 6666
    bindto: "10.0.0.1"
    bindto6: "::1"
  wlan:
    interface: "wlan0"
    mtu: 1500
    fragment_timeout: "500ms"
nat:
  disable_v6: true
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.GRPC.Addr != ":60000" {
		t.Errorf("GRPC.Addr = %q, want %q", cfg.GRPC.Addr, ":60000")
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
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

	if cfg.Bearers.XU.Port != 5555 {
		t.Errorf("Bearers.XU.Port = %d, want %d", cfg.Bearers.XU.Port, 5555)
	}

	if cfg.Bearers.XU.AdvertisedPort != 6666 {
		t.Errorf("Bearers.XU.AdvertisedPort = %d, want %d", cfg.Bearers.XU.AdvertisedPort, 6666)
	}

	if cfg.Bearers.XU.BindTo != "10.0.0.1" {
		t.Errorf("Bearers.XU.BindTo = %q, want %q", cfg.Bearers.XU.BindTo, "10.0.0.1")
	}

	if cfg.Bearers.WLAN.Interface != "wlan0" {
		t.Errorf("Bearers.WLAN.Interface = %q, want %q", cfg.Bearers.WLAN.Interface, "wlan0")
	}

	if cfg.Bearers.WLAN.MTU != 1500 {
		t.Errorf("Bearers.WLAN.MTU = %d, want %d", cfg.Bearers.WLAN.MTU, 1500)
	}

	if cfg.Bearers.WLAN.FragmentTimeout != 500*time.Millisecond {
		t.Errorf("Bearers.WLAN.FragmentTimeout = %v, want %v", cfg.Bearers.WLAN.FragmentTimeout, 500*time.Millisecond)
	}

	if !cfg.NAT.DisableV6 {
		t.Error("NAT.DisableV6 = false, want true")
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override grpc.addr and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
grpc:
  addr: ":55555"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	// Overridden values.
	if cfg.GRPC.Addr != ":55555" {
		t.Errorf("GRPC.Addr = %q, want %q", cfg.GRPC.Addr, ":55555")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Default values should be preserved.
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}

	if cfg.Bearers.XU.Port != 4444 {
		t.Errorf("Bearers.XU.Port = %d, want default %d", cfg.Bearers.XU.Port, 4444)
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
			name: "empty grpc addr",
			modify: func(cfg *config.Config) {
				cfg.GRPC.Addr = ""
			},
			wantErr: config.ErrEmptyGRPCAddr,
		},
		{
			name: "zero xu port",
			modify: func(cfg *config.Config) {
				cfg.Bearers.XU.Port = 0
			},
			wantErr: config.ErrInvalidXUPort,
		},
		{
			name: "invalid xu bindto",
			modify: func(cfg *config.Config) {
				cfg.Bearers.XU.BindTo = "not-an-ip"
			},
			wantErr: config.ErrInvalidXUBindAddr,
		},
		{
			name: "invalid xu bindto6",
			modify: func(cfg *config.Config) {
				cfg.Bearers.XU.BindTo6 = "not-an-ip"
			},
			wantErr: config.ErrInvalidXUBindAddr,
		},
		{
			name: "negative wlan mtu",
			modify: func(cfg *config.Config) {
				cfg.Bearers.WLAN.MTU = -1
			},
			wantErr: config.ErrInvalidWLANMTU,
		},
		{
			name: "negative wlan fragment timeout",
			modify: func(cfg *config.Config) {
				cfg.Bearers.WLAN.FragmentTimeout = -1 * time.Second
			},
			wantErr: config.ErrInvalidWLANFragmentTimeout,
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

func TestXUConfigBindAddrs(t *testing.T) {
	t.Parallel()

	c := config.XUConfig{BindTo: "10.0.0.1", BindTo6: "::1"}
	addrs, err := c.BindAddrs()
	if err != nil {
		t.Fatalf("BindAddrs() error: %v", err)
	}
	if len(addrs) != 2 {
		t.Fatalf("BindAddrs() len = %d, want 2", len(addrs))
	}
	if addrs[0].String() != "10.0.0.1" {
		t.Errorf("BindAddrs()[0] = %s, want 10.0.0.1", addrs[0])
	}
	if addrs[1].String() != "::1" {
		t.Errorf("BindAddrs()[1] = %s, want ::1", addrs[1])
	}
}

func TestXUConfigBindAddrsEmpty(t *testing.T) {
	t.Parallel()

	c := config.XUConfig{}
	addrs, err := c.BindAddrs()
	if err != nil {
		t.Fatalf("BindAddrs() error: %v", err)
	}
	if len(addrs) != 0 {
		t.Errorf("BindAddrs() len = %d, want 0", len(addrs))
	}
}

// -------------------------------------------------------------------------
// Environment Variable Override Tests
// -------------------------------------------------------------------------

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
grpc:
  addr: ":50051"
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("GOBEARER_GRPC_ADDR", ":60000")
	t.Setenv("GOBEARER_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.GRPC.Addr != ":60000" {
		t.Errorf("GRPC.Addr = %q, want %q (from env)", cfg.GRPC.Addr, ":60000")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesMetrics(t *testing.T) {
	yamlContent := `
grpc:
  addr: ":50051"
metrics:
  addr: ":9100"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("GOBEARER_METRICS_ADDR", ":9200")
	t.Setenv("GOBEARER_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want %q (from env)", cfg.Metrics.Path, "/custom")
	}
}

func TestLoadEnvOverridesXUPort(t *testing.T) {
	yamlContent := `
grpc:
  addr: ":50051"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("GOBEARER_BEARERS_XU_PORT", "7777")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Bearers.XU.Port != 7777 {
		t.Errorf("Bearers.XU.Port = %d, want %d (from env)", cfg.Bearers.XU.Port, 7777)
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "gobearerd.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
