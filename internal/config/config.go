// ABOUTME: Configuration loading and parsing for wardlink
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/wardlink/internal/wire"
)

// Config represents the complete wardlink configuration
type Config struct {
	Identity  string          `yaml:"identity" toml:"identity"`
	Network   NetworkConfig   `yaml:"network" toml:"network"`
	Timing    TimingConfig    `yaml:"timing" toml:"timing"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
	Registry  RegistryConfig  `yaml:"registry" toml:"registry"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// NetworkConfig holds the protocol endpoints
type NetworkConfig struct {
	LocalAddress       string `yaml:"local_address" toml:"local_address"`
	CoordinatorAddress string `yaml:"coordinator_address" toml:"coordinator_address"`
	DiscoveryPort      int    `yaml:"discovery_port" toml:"discovery_port"`
	PairingPort        int    `yaml:"pairing_port" toml:"pairing_port"`
	SessionPort        int    `yaml:"session_port" toml:"session_port"`
}

// TimingConfig holds protocol timing
type TimingConfig struct {
	BroadcastInterval time.Duration `yaml:"-" toml:"-"`
	QuietPeriod       time.Duration `yaml:"-" toml:"-"`
	DialTimeout       time.Duration `yaml:"-" toml:"-"`
	ReadTimeout       time.Duration `yaml:"-" toml:"-"`
	RequestCooldown   time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	BroadcastIntervalRaw string `yaml:"broadcast_interval" toml:"broadcast_interval"`
	QuietPeriodRaw       string `yaml:"quiet_period" toml:"quiet_period"`
	DialTimeoutRaw       string `yaml:"dial_timeout" toml:"dial_timeout"`
	ReadTimeoutRaw       string `yaml:"read_timeout" toml:"read_timeout"`
	RequestCooldownRaw   string `yaml:"request_cooldown" toml:"request_cooldown"`
}

// TelemetryConfig points at the device telemetry backend
type TelemetryConfig struct {
	BaseURL    string        `yaml:"base_url" toml:"base_url"`
	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// RegistryConfig holds the registry database location
type RegistryConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Identity: defaultIdentity(),
		Network: NetworkConfig{
			LocalAddress:       "127.0.0.1",
			CoordinatorAddress: "127.0.0.1",
			DiscoveryPort:      wire.DefaultDiscoveryPort,
			PairingPort:        wire.DefaultPairingPort,
			SessionPort:        wire.DefaultSessionPort,
		},
		Timing: TimingConfig{
			BroadcastInterval: 250 * time.Millisecond,
			QuietPeriod:       2 * time.Second,
			DialTimeout:       2 * time.Second,
			ReadTimeout:       5 * time.Second,
			RequestCooldown:   3 * time.Second,
		},
		Telemetry: TelemetryConfig{
			BaseURL: "http://127.0.0.1:8080",
			Timeout: 5 * time.Second,
		},
		Registry: RegistryConfig{
			Path: filepath.Join(DataDir(), "registry.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func defaultIdentity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "wardlink"
	}
	return host
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Unset fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.Registry.Path = expandHome(cfg.Registry.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, or returns the defaults when path is the
// default location and no file exists there.
func LoadOrDefault(path string, isDefault bool) (*Config, error) {
	cfg, err := Load(path)
	if err != nil && isDefault && errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Path returns the config file location and whether it is the default.
// Priority: flag value > WARDLINK_CONFIG > XDG_CONFIG_HOME/wardlink/wardlink.yaml > ~/.config/wardlink/wardlink.yaml
func Path(flagValue string) (string, bool) {
	if flagValue != "" {
		return flagValue, false
	}
	if envPath := os.Getenv("WARDLINK_CONFIG"); envPath != "" {
		return envPath, false
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "wardlink.yaml", true
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "wardlink", "wardlink.yaml"), true
}

// DataDir returns the wardlink data directory.
// Priority: XDG_DATA_HOME/wardlink > ~/.local/share/wardlink
func DataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "wardlink")
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Identity == "" {
		return fmt.Errorf("identity is required")
	}
	if strings.ContainsAny(c.Identity, "\r\n") {
		return fmt.Errorf("identity must not contain line breaks")
	}

	if net.ParseIP(c.Network.LocalAddress) == nil {
		return fmt.Errorf("network.local_address %q is not an IP address", c.Network.LocalAddress)
	}
	if net.ParseIP(c.Network.CoordinatorAddress) == nil {
		return fmt.Errorf("network.coordinator_address %q is not an IP address", c.Network.CoordinatorAddress)
	}

	ports := map[string]int{
		"network.discovery_port": c.Network.DiscoveryPort,
		"network.pairing_port":   c.Network.PairingPort,
		"network.session_port":   c.Network.SessionPort,
	}
	for name, port := range ports {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s %d is out of range", name, port)
		}
	}
	if c.Network.DiscoveryPort == c.Network.SessionPort {
		return fmt.Errorf("network.discovery_port and network.session_port must differ")
	}

	if c.Timing.BroadcastInterval <= 0 {
		return fmt.Errorf("timing.broadcast_interval must be positive")
	}
	if c.Timing.QuietPeriod <= 0 {
		return fmt.Errorf("timing.quiet_period must be positive")
	}
	if c.Timing.RequestCooldown < 0 {
		return fmt.Errorf("timing.request_cooldown must not be negative")
	}

	if c.Telemetry.BaseURL != "" {
		u, err := url.Parse(c.Telemetry.BaseURL)
		if err != nil {
			return fmt.Errorf("telemetry.base_url is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("telemetry.base_url must use http or https scheme")
		}
	}

	if c.Registry.Path == "" {
		return fmt.Errorf("registry.path is required")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"broadcast_interval", cfg.Timing.BroadcastIntervalRaw, &cfg.Timing.BroadcastInterval},
		{"quiet_period", cfg.Timing.QuietPeriodRaw, &cfg.Timing.QuietPeriod},
		{"dial_timeout", cfg.Timing.DialTimeoutRaw, &cfg.Timing.DialTimeout},
		{"read_timeout", cfg.Timing.ReadTimeoutRaw, &cfg.Timing.ReadTimeout},
		{"request_cooldown", cfg.Timing.RequestCooldownRaw, &cfg.Timing.RequestCooldown},
		{"telemetry timeout", cfg.Telemetry.TimeoutRaw, &cfg.Telemetry.Timeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
