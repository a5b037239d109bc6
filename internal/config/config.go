package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Simulation bool           `yaml:"simulation"`
	DataDir    string         `yaml:"data_dir"`
	LogLevel   string         `yaml:"log_level"`
	BLE        BLEConfig      `yaml:"ble"`
	Sampling   SamplingConfig `yaml:"sampling"`
	Location   LocationConfig `yaml:"location"`
	Hotkey     HotkeyConfig   `yaml:"hotkey"`
	Export     ExportConfig   `yaml:"export"`
	Identity   IdentityConfig `yaml:"identity"`
}

// BLEConfig holds sensor discovery and GATT settings.
type BLEConfig struct {
	ScanTimeout        time.Duration `yaml:"scan_timeout"`
	SettleDelay        time.Duration `yaml:"settle_delay"`
	ServiceUUID        string        `yaml:"service_uuid"`
	CharacteristicUUID string        `yaml:"characteristic_uuid"`
	PairPattern        string        `yaml:"pair_pattern"` // regexp matched against advertised names
}

// SamplingConfig holds sampling loop timings.
type SamplingConfig struct {
	Interval      time.Duration `yaml:"interval"`
	DedupWindow   time.Duration `yaml:"dedup_window"`
	AckDuration   time.Duration `yaml:"ack_duration"`
	ErrorInterval time.Duration `yaml:"error_interval"`
}

// LocationConfig selects the location provider and its origin.
type LocationConfig struct {
	Mode        string  `yaml:"mode"`         // "static", "simulated" or "gpsd"
	GpsdAddress string  `yaml:"gpsd_address"` // host:port of gpsd
	Latitude    float64 `yaml:"latitude"`
	Longitude   float64 `yaml:"longitude"`
	Altitude    float64 `yaml:"altitude"`
	Accuracy    float64 `yaml:"accuracy"`
}

// HotkeyConfig holds the start/stop toggle key combo.
type HotkeyConfig struct {
	Keys []string `yaml:"keys"`
}

// ExportConfig holds CSV export and upload settings.
type ExportConfig struct {
	Jobcode    string `yaml:"jobcode"`
	DeviceName string `yaml:"device_name"`
	PresignURL string `yaml:"presign_url"`
	Bucket     string `yaml:"bucket"`
	Share      string `yaml:"share"`      // "none", "clipboard" or "mail"
	Email      string `yaml:"email"`      // mail recipient; empty leaves it to the user
	KeepLocal  bool   `yaml:"keep_local"` // keep the CSV on disk after upload
}

// IdentityConfig selects where the identity master key lives.
type IdentityConfig struct {
	KeyStore string `yaml:"key_store"` // "keyring" or "file"
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "questlog")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultDataDir returns the default directory for the database, identity
// file and exports.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "questlog-data"
	}
	return filepath.Join(home, ".local", "share", "questlog")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Simulation: false,
		DataDir:    DefaultDataDir(),
		LogLevel:   "info",
		BLE: BLEConfig{
			ScanTimeout:        10 * time.Second,
			SettleDelay:        500 * time.Millisecond,
			ServiceUUID:        "0000181a-0000-1000-8000-00805f9b34fb",
			CharacteristicUUID: "00002a6e-0000-1000-8000-00805f9b34fb",
			PairPattern:        "(?i)^quest",
		},
		Sampling: SamplingConfig{
			Interval:      time.Second,
			DedupWindow:   50 * time.Millisecond,
			AckDuration:   500 * time.Millisecond,
			ErrorInterval: 5 * time.Second,
		},
		Location: LocationConfig{
			Mode:        "static",
			GpsdAddress: "localhost:2947",
			Latitude:    37.8715,
			Longitude:   -122.2730,
			Altitude:    52,
			Accuracy:    5,
		},
		Hotkey: HotkeyConfig{
			Keys: []string{"ctrl", "shift", "s"},
		},
		Export: ExportConfig{
			Jobcode:    "campaign",
			DeviceName: "questlog",
			PresignURL: "https://mobile.quest-science.net/get_presigned_url",
			Share:      "none",
		},
		Identity: IdentityConfig{
			KeyStore: "keyring",
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in data_dir is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.DataDir = expandTilde(cfg.DataDir)

	return cfg, nil
}

// WriteDefault writes the default config to DefaultConfigPath. If a config
// file already exists it is left untouched and ("", nil) is returned.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	body, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	content := append([]byte("# questlog configuration\n"), body...)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}

	if c.BLE.ScanTimeout <= 0 {
		return fmt.Errorf("ble.scan_timeout must be > 0")
	}
	if c.BLE.SettleDelay < 0 {
		return fmt.Errorf("ble.settle_delay must be >= 0")
	}
	if c.BLE.ServiceUUID == "" || c.BLE.CharacteristicUUID == "" {
		return fmt.Errorf("ble.service_uuid and ble.characteristic_uuid must not be empty")
	}
	if _, err := regexp.Compile(c.BLE.PairPattern); err != nil {
		return fmt.Errorf("ble.pair_pattern: %w", err)
	}

	if c.Sampling.Interval <= 0 {
		return fmt.Errorf("sampling.interval must be > 0")
	}
	if c.Sampling.DedupWindow < 0 {
		return fmt.Errorf("sampling.dedup_window must be >= 0")
	}
	if c.Sampling.ErrorInterval < 0 {
		return fmt.Errorf("sampling.error_interval must be >= 0")
	}

	switch c.Location.Mode {
	case "static", "simulated":
	case "gpsd":
		if c.Location.GpsdAddress == "" {
			return fmt.Errorf("location.gpsd_address must not be empty in gpsd mode")
		}
	default:
		return fmt.Errorf("location.mode must be \"static\", \"simulated\" or \"gpsd\", got %q", c.Location.Mode)
	}
	if c.Location.Latitude < -90 || c.Location.Latitude > 90 {
		return fmt.Errorf("location.latitude out of range: %v", c.Location.Latitude)
	}
	if c.Location.Longitude < -180 || c.Location.Longitude > 180 {
		return fmt.Errorf("location.longitude out of range: %v", c.Location.Longitude)
	}

	if len(c.Hotkey.Keys) == 0 {
		return fmt.Errorf("hotkey.keys must not be empty")
	}

	if strings.TrimSpace(c.Export.Jobcode) == "" {
		return fmt.Errorf("export.jobcode must not be empty")
	}
	switch c.Export.Share {
	case "none", "clipboard", "mail":
	default:
		return fmt.Errorf("export.share must be \"none\", \"clipboard\" or \"mail\", got %q", c.Export.Share)
	}
	if strings.TrimSpace(c.Export.DeviceName) == "" {
		return fmt.Errorf("export.device_name must not be empty")
	}

	switch c.Identity.KeyStore {
	case "keyring", "file":
	default:
		return fmt.Errorf("identity.key_store must be \"keyring\" or \"file\", got %q", c.Identity.KeyStore)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// DatabasePath returns the SQLite file path inside DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "questlog.db")
}

// IdentityPath returns the sealed identity file path inside DataDir.
func (c *Config) IdentityPath() string {
	return filepath.Join(c.DataDir, "identity.bin")
}

// LockPath returns the sampling lock file inside DataDir.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "questlog.lock")
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
