package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/stonectl/internal/ble/crypto"
)

// Config holds all application configuration.
type Config struct {
	Adapter        string         `yaml:"adapter"`
	AdapterAddress string         `yaml:"adapter_address"`
	Keys           KeysConfig     `yaml:"keys"`
	KeyFile        string         `yaml:"key_file"`
	Scan           ScanConfig     `yaml:"scan"`
	Timeouts       TimeoutConfig  `yaml:"timeouts"`
	Recovery       RecoveryConfig `yaml:"recovery"`
	DFU            DFUConfig      `yaml:"dfu"`
	Monitor        MonitorConfig  `yaml:"monitor"`
	LogLevel       string         `yaml:"log_level"`
}

// KeysConfig holds the sphere keys, each 16 characters or 32 hex digits.
type KeysConfig struct {
	Admin           string `yaml:"admin"`
	Member          string `yaml:"member"`
	Basic           string `yaml:"basic"`
	ServiceData     string `yaml:"service_data"`
	Localization    string `yaml:"localization"`
	MeshApplication string `yaml:"mesh_application"`
	MeshNetwork     string `yaml:"mesh_network"`
}

// ScanConfig holds scan window settings.
type ScanConfig struct {
	Duration    time.Duration `yaml:"duration"`
	RSSIAtLeast int           `yaml:"rssi_at_least"`
}

// TimeoutConfig bounds connection and notification waits.
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect"`
	Command time.Duration `yaml:"command"`
	Stream  time.Duration `yaml:"stream"`
}

// RecoveryConfig holds the settle interval after each of the two recovery
// rounds.
type RecoveryConfig struct {
	Settle []time.Duration `yaml:"settle"`
}

// DFUConfig holds firmware transfer settings.
type DFUConfig struct {
	PRN     uint16 `yaml:"prn"`
	Retries int    `yaml:"retries"`
	// CacheDir holds firmware packages fetched by URL.
	CacheDir string `yaml:"cache_dir"`
}

// MonitorConfig holds the event stream listener.
type MonitorConfig struct {
	Listen string `yaml:"listen"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "stonectl")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultFirmwareDir returns the default firmware cache directory.
func DefaultFirmwareDir() string {
	return filepath.Join(DefaultConfigDir(), "firmware")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Adapter: "hci0",
		Scan: ScanConfig{
			Duration:    3 * time.Second,
			RSSIAtLeast: -100,
		},
		Timeouts: TimeoutConfig{
			Connect: 10 * time.Second,
			Command: 12500 * time.Millisecond,
			Stream:  5 * time.Second,
		},
		Recovery: RecoveryConfig{
			Settle: []time.Duration{5 * time.Second, 2 * time.Second},
		},
		DFU: DFUConfig{
			PRN:      0,
			Retries:  3,
			CacheDir: DefaultFirmwareDir(),
		},
		Monitor: MonitorConfig{
			Listen: "127.0.0.1:8765",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults and a leading ~ in dfu.cache_dir is expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("config: reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing config file: %w", err)
	}
	cfg.DFU.CacheDir = expandTilde(cfg.DFU.CacheDir)
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Adapter == "" && c.AdapterAddress == "" {
		return errors.New("config: adapter or adapter_address must be set")
	}
	if c.KeyFile != "" && strings.Contains(c.KeyFile, "~") {
		return fmt.Errorf("config: key_file must be an absolute path without ~, got %q", c.KeyFile)
	}
	if c.KeyFile == "" {
		if _, err := c.Keys.Keyset(); err != nil {
			return err
		}
	}

	if c.Scan.Duration <= 0 {
		return errors.New("config: scan.duration must be > 0")
	}
	if c.Scan.RSSIAtLeast < -127 || c.Scan.RSSIAtLeast > 0 {
		return fmt.Errorf("config: scan.rssi_at_least must be between -127 and 0, got %d", c.Scan.RSSIAtLeast)
	}
	if c.Timeouts.Connect <= 0 || c.Timeouts.Command <= 0 || c.Timeouts.Stream <= 0 {
		return errors.New("config: timeouts must be > 0")
	}
	if len(c.Recovery.Settle) != 2 {
		return fmt.Errorf("config: recovery.settle must list 2 durations, got %d", len(c.Recovery.Settle))
	}
	if c.DFU.Retries <= 0 {
		return errors.New("config: dfu.retries must be > 0")
	}
	if c.DFU.CacheDir == "" {
		return errors.New("config: dfu.cache_dir must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}
	return nil
}

// Keyset returns the keys to use, read from key_file when it is set.
func (c *Config) Keyset() (*crypto.Keyset, error) {
	if c.KeyFile == "" {
		return c.Keys.Keyset()
	}
	keys, err := LoadKeyFile(c.KeyFile)
	if err != nil {
		return nil, err
	}
	return keys.Keyset()
}

// Keyset parses every configured key.
func (k KeysConfig) Keyset() (*crypto.Keyset, error) {
	ks := &crypto.Keyset{}
	for _, f := range []struct {
		name string
		in   string
		out  *[]byte
	}{
		{"admin", k.Admin, &ks.Admin},
		{"member", k.Member, &ks.Member},
		{"basic", k.Basic, &ks.Basic},
		{"service_data", k.ServiceData, &ks.ServiceData},
		{"localization", k.Localization, &ks.Localization},
		{"mesh_application", k.MeshApplication, &ks.MeshApplication},
		{"mesh_network", k.MeshNetwork, &ks.MeshNetwork},
	} {
		key, err := crypto.ParseKey(f.in)
		if err != nil {
			return nil, fmt.Errorf("config: keys.%s: %w", f.name, err)
		}
		*f.out = key
	}
	return ks, nil
}

// keyFile is the key file layout shared with the other sphere tools.
type keyFile struct {
	Admin           string `yaml:"admin"`
	Member          string `yaml:"member"`
	Basic           string `yaml:"basic"`
	ServiceData     string `yaml:"serviceDataKey"`
	Localization    string `yaml:"localizationKey"`
	MeshApplication string `yaml:"meshApplicationKey"`
	MeshNetwork     string `yaml:"meshNetworkKey"`
}

// LoadKeyFile reads a JSON or YAML key file. Paths containing ~ are
// rejected: under sudo they would resolve to root's home.
func LoadKeyFile(path string) (KeysConfig, error) {
	if strings.Contains(path, "~") {
		return KeysConfig{}, fmt.Errorf("config: key file path must not contain ~, got %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return KeysConfig{}, fmt.Errorf("config: reading key file: %w", err)
	}
	var kf keyFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return KeysConfig{}, fmt.Errorf("config: parsing key file: %w", err)
	}
	return KeysConfig{
		Admin:           kf.Admin,
		Member:          kf.Member,
		Basic:           kf.Basic,
		ServiceData:     kf.ServiceData,
		Localization:    kf.Localization,
		MeshApplication: kf.MeshApplication,
		MeshNetwork:     kf.MeshNetwork,
	}, nil
}

// ParseLogLevel maps a log_level value to a slog level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultConfigTemplate = `# stonectl configuration
# Keys are 16 characters or 32 hex digits. The basic key is required to
# talk to stones in normal mode and to read their advertisements.

adapter: hci0
# adapter_address: "00:1A:7D:DA:71:13"

keys:
  admin: ""
  member: ""
  basic: ""
  service_data: ""
  localization: ""
  mesh_application: ""
  mesh_network: ""
# key_file: /home/me/sphere/keys.json

scan:
  duration: 3s
  rssi_at_least: -100

timeouts:
  connect: 10s
  command: 12.5s
  stream: 5s

recovery:
  settle: [5s, 2s]

dfu:
  prn: 0
  retries: 3
  cache_dir: ~/.config/stonectl/firmware

monitor:
  listen: 127.0.0.1:8765

log_level: info
`

// WriteDefault writes the default config file if none exists. It returns
// the path written, or "" when a config file is already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("config: creating config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0o600); err != nil {
		return "", fmt.Errorf("config: writing default config: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
