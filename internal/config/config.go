// Package config manages the bearer daemon's configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
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

// Config holds the complete gobearerd configuration.
type Config struct {
	GRPC    GRPCConfig    `koanf:"grpc"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	Bearers BearersConfig `koanf:"bearers"`
	NAT     NATConfig     `koanf:"nat"`
}

// GRPCConfig holds the control server's listen address.
type GRPCConfig struct {
	// Addr is the control-plane listen address (e.g., ":50051").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
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

// BearersConfig groups per-bearer configuration.
type BearersConfig struct {
	XU   XUConfig   `koanf:"xu"`
	WLAN WLANConfig `koanf:"wlan"`
}

// XUConfig holds the datagram bearer's configuration.
type XUConfig struct {
	// Port is the local UDP port to bind (transport-xu.PORT).
	Port uint16 `koanf:"port"`

	// AdvertisedPort is parsed from bearers.xu.advertised_port, but
	// neither the daemon nor the xu bearer reads it: the addresses the
	// bearer announces carry the port the NAT mapper reports, never this
	// value.
	AdvertisedPort uint16 `koanf:"advertised_port"`

	// BindTo restricts the IPv4 socket to one local address
	// (transport-xu.BINDTO). Empty binds all interfaces.
	BindTo string `koanf:"bindto"`

	// BindTo6 restricts the IPv6 socket to one local address
	// (transport-xu.BINDTO6). Empty binds all interfaces.
	BindTo6 string `koanf:"bindto6"`

	// IdleTimeout overrides the session idle timeout. 0 uses the
	// bearer's own default.
	IdleTimeout time.Duration `koanf:"idle_timeout"`

	// KeepaliveFactor overrides QueryKeepaliveFactor. 0 uses the
	// bearer's own default.
	KeepaliveFactor int `koanf:"keepalive_factor"`
}

// BindAddrs parses BindTo/BindTo6 into the netip.Addr slice xu.Config
// expects, skipping empty entries.
func (c XUConfig) BindAddrs() ([]netip.Addr, error) {
	var addrs []netip.Addr
	for _, raw := range []string{c.BindTo, c.BindTo6} {
		if raw == "" {
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("parse bearers.xu bind address %q: %w", raw, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// WLANConfig holds the fragmentation bearer's configuration.
type WLANConfig struct {
	// Interface is the wireless interface to read/write raw frames on.
	Interface string `koanf:"interface"`

	// MTU is handed to the WLAN device as the largest frame it will
	// write (0 means 3000 bytes). Fragment sizing does not use it: the
	// bearer always cuts fragments for its fixed 3000-byte WLAN_MTU.
	MTU int `koanf:"mtu"`

	// FragmentTimeout is parsed and checked to be non-negative, but
	// nothing reads it: the bearer always waits its fixed
	// FRAGMENT_TIMEOUT (1s) before sending the next unacknowledged
	// fragment.
	FragmentTimeout time.Duration `koanf:"fragment_timeout"`

	// IdleTimeout overrides the session idle timeout. 0 uses the
	// bearer's own default.
	IdleTimeout time.Duration `koanf:"idle_timeout"`

	// KeepaliveFactor overrides QueryKeepaliveFactor. 0 uses the
	// bearer's own default.
	KeepaliveFactor int `koanf:"keepalive_factor"`
}

// NATConfig holds NAT-mapper tuning shared by every bearer that registers
// a socket with one.
type NATConfig struct {
	// DisableV6 stops the xu bearer from opening an IPv6 socket at all
	// (nat.DISABLEV6).
	DisableV6 bool `koanf:"disable_v6"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		GRPC: GRPCConfig{
			Addr: ":50051",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Bearers: BearersConfig{
			XU: XUConfig{
				Port: 4444,
			},
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for bearer daemon
// configuration. Variables are named GOBEARER_<section>_<key>, e.g.,
// GOBEARER_GRPC_ADDR.
const envPrefix = "GOBEARER_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (GOBEARER_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	GOBEARER_GRPC_ADDR        -> grpc.addr
//	GOBEARER_METRICS_ADDR     -> metrics.addr
//	GOBEARER_METRICS_PATH     -> metrics.path
//	GOBEARER_LOG_LEVEL        -> log.level
//	GOBEARER_LOG_FORMAT       -> log.format
//	GOBEARER_BEARERS_XU_PORT  -> bearers.xu.port
//
// Every underscore after the prefix becomes a dot, so a key whose last
// segment itself contains an underscore (nat.disable_v6,
// bearers.xu.idle_timeout and the like) cannot be set from the
// environment.
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

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

// envKeyMapper transforms GOBEARER_BEARERS_XU_PORT -> bearers.xu.port.
// Strips the GOBEARER_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"grpc.addr":        defaults.GRPC.Addr,
		"metrics.addr":     defaults.Metrics.Addr,
		"metrics.path":     defaults.Metrics.Path,
		"log.level":        defaults.Log.Level,
		"log.format":       defaults.Log.Format,
		"bearers.xu.port":  defaults.Bearers.XU.Port,
		"nat.disable_v6":   defaults.NAT.DisableV6,
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
	// ErrEmptyGRPCAddr indicates the control-plane listen address is empty.
	ErrEmptyGRPCAddr = errors.New("grpc.addr must not be empty")

	// ErrInvalidXUPort indicates bearers.xu.port is 0.
	ErrInvalidXUPort = errors.New("bearers.xu.port must be nonzero")

	// ErrInvalidXUBindAddr indicates bearers.xu.bindto or bindto6 does not
	// parse as an address.
	ErrInvalidXUBindAddr = errors.New("bearers.xu bind address is invalid")

	// ErrInvalidWLANMTU indicates bearers.wlan.mtu is negative.
	ErrInvalidWLANMTU = errors.New("bearers.wlan.mtu must not be negative")

	// ErrInvalidWLANFragmentTimeout indicates bearers.wlan.fragment_timeout
	// is negative.
	ErrInvalidWLANFragmentTimeout = errors.New("bearers.wlan.fragment_timeout must not be negative")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.GRPC.Addr == "" {
		return ErrEmptyGRPCAddr
	}

	if cfg.Bearers.XU.Port == 0 {
		return ErrInvalidXUPort
	}

	if _, err := cfg.Bearers.XU.BindAddrs(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidXUBindAddr, err)
	}

	if cfg.Bearers.WLAN.MTU < 0 {
		return ErrInvalidWLANMTU
	}

	if cfg.Bearers.WLAN.FragmentTimeout < 0 {
		return ErrInvalidWLANFragmentTimeout
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
