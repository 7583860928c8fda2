package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/peerlink/internal/ble"
	"github.com/chaz8081/peerlink/internal/ble/radio"
)

// Config holds all application configuration.
type Config struct {
	Radio    RadioConfig    `yaml:"radio"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Store    StoreConfig    `yaml:"store"`
	LogLevel string         `yaml:"log_level"`
}

// RadioConfig selects and configures the radio backend.
type RadioConfig struct {
	Backend            string    `yaml:"backend"`    // "sim" or "tinygo"
	AdapterID          string    `yaml:"adapter_id"` // BlueZ adapter, e.g. hci0
	ServiceUUID        string    `yaml:"service_uuid"`
	CharacteristicUUID string    `yaml:"characteristic_uuid"`
	MaxWrite           int       `yaml:"max_write"` // 0 = ATT maximum
	Sim                SimConfig `yaml:"sim"`
}

// SimConfig describes the peers of the simulated radio.
type SimConfig struct {
	Latency time.Duration `yaml:"latency"`
	Peers   []SimPeer     `yaml:"peers"`
}

// SimPeer is one simulated peripheral.
type SimPeer struct {
	ID                    string `yaml:"id"`
	Name                  string `yaml:"name"`
	RSSI                  int    `yaml:"rssi"`
	Echo                  bool   `yaml:"echo"`
	NoNotify              bool   `yaml:"no_notify"`
	FailConnect           bool   `yaml:"fail_connect"`
	MissingService        bool   `yaml:"missing_service"`
	MissingCharacteristic bool   `yaml:"missing_characteristic"`
	FailSubscribe         bool   `yaml:"fail_subscribe"`
	FailWrite             bool   `yaml:"fail_write"`
}

// TimeoutsConfig holds the per-stage hardware response deadlines.
type TimeoutsConfig struct {
	Connect                 time.Duration `yaml:"connect"`
	DiscoverServices        time.Duration `yaml:"discover_services"`
	DiscoverCharacteristics time.Duration `yaml:"discover_characteristics"`
	Subscribe               time.Duration `yaml:"subscribe"`
	Write                   time.Duration `yaml:"write"`
}

// StoreConfig holds the connection/message history settings.
type StoreConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	LocalDeviceID string `yaml:"local_device_id"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "peerlink")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	storePath := filepath.Join(home, ".local", "share", "peerlink", "history.db")

	return &Config{
		Radio: RadioConfig{
			Backend:            "tinygo",
			AdapterID:          "hci0",
			ServiceUUID:        radio.ServiceUUID.String(),
			CharacteristicUUID: radio.CharacteristicUUID.String(),
		},
		Timeouts: TimeoutsConfig{
			Connect:                 10 * time.Second,
			DiscoverServices:        5 * time.Second,
			DiscoverCharacteristics: 5 * time.Second,
			Subscribe:               5 * time.Second,
			Write:                   5 * time.Second,
		},
		Store: StoreConfig{
			Enabled:       true,
			Path:          storePath,
			LocalDeviceID: "local",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in store.path is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Store.Path = expandTilde(cfg.Store.Path)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.Radio.Backend {
	case "sim", "tinygo":
	default:
		return fmt.Errorf("radio.backend must be \"sim\" or \"tinygo\", got %q", c.Radio.Backend)
	}

	if _, err := uuid.Parse(c.Radio.ServiceUUID); err != nil {
		return fmt.Errorf("radio.service_uuid: %w", err)
	}
	if _, err := uuid.Parse(c.Radio.CharacteristicUUID); err != nil {
		return fmt.Errorf("radio.characteristic_uuid: %w", err)
	}

	if c.Radio.MaxWrite < 0 || c.Radio.MaxWrite > 512 {
		return fmt.Errorf("radio.max_write must be between 0 and 512, got %d", c.Radio.MaxWrite)
	}

	if c.Radio.Backend == "sim" {
		seen := make(map[string]bool)
		for i, p := range c.Radio.Sim.Peers {
			if p.ID == "" {
				return fmt.Errorf("radio.sim.peers[%d].id must not be empty", i)
			}
			if seen[p.ID] {
				return fmt.Errorf("radio.sim.peers[%d].id %q is duplicated", i, p.ID)
			}
			seen[p.ID] = true
		}
	}

	for name, d := range map[string]time.Duration{
		"connect":                  c.Timeouts.Connect,
		"discover_services":        c.Timeouts.DiscoverServices,
		"discover_characteristics": c.Timeouts.DiscoverCharacteristics,
		"subscribe":                c.Timeouts.Subscribe,
		"write":                    c.Timeouts.Write,
	} {
		if d < 0 {
			return fmt.Errorf("timeouts.%s must not be negative, got %s", name, d)
		}
	}

	if c.Store.Enabled && c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty when the store is enabled")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// CentralOptions converts the config into ble.Options. Call Validate first.
func (c *Config) CentralOptions() ble.Options {
	opts := ble.DefaultOptions()
	opts.Target = ble.Target{
		Service:        uuid.MustParse(c.Radio.ServiceUUID),
		Characteristic: uuid.MustParse(c.Radio.CharacteristicUUID),
	}
	opts.MaxWrite = c.Radio.MaxWrite
	opts.ConnectTimeout = c.Timeouts.Connect
	opts.ServiceTimeout = c.Timeouts.DiscoverServices
	opts.CharacteristicTimeout = c.Timeouts.DiscoverCharacteristics
	opts.SubscribeTimeout = c.Timeouts.Subscribe
	opts.WriteTimeout = c.Timeouts.Write
	return opts
}

// SimOptions converts the sim section into radio.SimOptions. Call Validate first.
func (c *Config) SimOptions() radio.SimOptions {
	opts := radio.SimOptions{
		Latency:            c.Radio.Sim.Latency,
		ServiceUUID:        uuid.MustParse(c.Radio.ServiceUUID),
		CharacteristicUUID: uuid.MustParse(c.Radio.CharacteristicUUID),
	}
	for _, p := range c.Radio.Sim.Peers {
		opts.Peers = append(opts.Peers, radio.SimPeer{
			ID:                    p.ID,
			Name:                  p.Name,
			RSSI:                  p.RSSI,
			Echo:                  p.Echo,
			NoNotify:              p.NoNotify,
			FailConnect:           p.FailConnect,
			MissingService:        p.MissingService,
			MissingCharacteristic: p.MissingCharacteristic,
			FailSubscribe:         p.FailSubscribe,
			FailWrite:             p.FailWrite,
		})
	}
	return opts
}

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the written path, or "" when a config file already exists there.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	header := "# peerlink configuration\n# radio.backend: tinygo (real adapter) or sim (in-memory peers)\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// ParseLogLevel maps a log_level value to a slog.Level. Unknown values
// map to info.
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
