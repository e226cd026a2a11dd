// Package config holds the run configuration: which adapter to open, how the
// dispatcher retries and which devices to decode.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/roffe/canconf"
	"github.com/roffe/canconf/pkg/dbc"
	"github.com/roffe/canconf/pkg/device"
	"github.com/roffe/canconf/pkg/dispatch"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Adapter  AdapterConfig  `yaml:"adapter"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Devices  []DeviceConfig `yaml:"devices"`
	LogFile  string         `yaml:"log_file"`
}

type AdapterConfig struct {
	Name     string `yaml:"name"`
	Port     string `yaml:"port"`
	Baudrate int    `yaml:"baudrate"`
	Bitrate  string `yaml:"bitrate"` // 125K, 250K, 500K or 1M
	Debug    bool   `yaml:"debug"`
}

type DispatchConfig struct {
	TimeoutMS int `yaml:"timeout_ms"`
	Attempts  int `yaml:"attempts"`

	// requests go out on base id + RequestOffset, responses arrive on
	// base id + ResponseOffset
	RequestOffset  uint32 `yaml:"request_offset"`
	ResponseOffset uint32 `yaml:"response_offset"`
	PrefixByte     int    `yaml:"prefix_byte"`
	IndexByte      int    `yaml:"index_byte"`
}

type DeviceConfig struct {
	Name    string       `yaml:"name"`
	BaseID  uint32       `yaml:"base_id"`
	DBC     string       `yaml:"dbc,omitempty"`
	Signals []dbc.Signal `yaml:"signals,omitempty"`
}

func Default() *Config {
	return &Config{
		Adapter: AdapterConfig{
			Name:     "SLCAN",
			Baudrate: 115200,
			Bitrate:  "500K",
		},
		Dispatch: DispatchConfig{
			TimeoutMS:  int(dispatch.DefaultTimeout / time.Millisecond),
			Attempts:   dispatch.DefaultAttempts,
			PrefixByte: 0,
			IndexByte:  1,
		},
	}
}

// Load reads path on top of the defaults and applies CANCONF_* environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Printf("[config] no config at %s, using defaults", path)
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides supports CANCONF_ADAPTER, CANCONF_PORT, CANCONF_BAUDRATE,
// CANCONF_BITRATE and CANCONF_LOG_FILE.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("CANCONF_ADAPTER"); v != "" {
		c.Adapter.Name = v
	}
	if v := os.Getenv("CANCONF_PORT"); v != "" {
		c.Adapter.Port = v
	}
	if v := os.Getenv("CANCONF_BAUDRATE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CANCONF_BAUDRATE: %w", err)
		}
		c.Adapter.Baudrate = n
	}
	if v := os.Getenv("CANCONF_BITRATE"); v != "" {
		c.Adapter.Bitrate = v
	}
	if v := os.Getenv("CANCONF_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	return nil
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	if c.Adapter.Name == "" {
		return errors.New("adapter name is empty")
	}
	if _, err := c.Rate(); err != nil {
		return err
	}
	if c.Dispatch.Attempts < 1 {
		return fmt.Errorf("dispatch attempts %d, need at least 1", c.Dispatch.Attempts)
	}
	if c.Dispatch.TimeoutMS <= 0 {
		return fmt.Errorf("dispatch timeout %dms", c.Dispatch.TimeoutMS)
	}
	seen := make(map[string]bool)
	for _, d := range c.Devices {
		if d.Name == "" {
			return fmt.Errorf("device with base id 0x%X has no name", d.BaseID)
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate device %q", d.Name)
		}
		seen[d.Name] = true
	}
	return nil
}

func (c *Config) Rate() (canconf.Bitrate, error) {
	return canconf.ParseBitrate(c.Adapter.Bitrate)
}

// RequestBase returns the device base id a request sent on id addresses.
func (c *Config) RequestBase(id uint32) (uint32, error) {
	if id < c.Dispatch.RequestOffset {
		return 0, fmt.Errorf("request id 0x%X below request offset 0x%X", id, c.Dispatch.RequestOffset)
	}
	return id - c.Dispatch.RequestOffset, nil
}

// Device looks up a declared device by base id.
func (c *Config) Device(baseID uint32) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.BaseID == baseID {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

// DispatchOptions translates the dispatch section into dispatcher options.
func (c *Config) DispatchOptions() []dispatch.Option {
	return []dispatch.Option{
		dispatch.WithTimeout(time.Duration(c.Dispatch.TimeoutMS) * time.Millisecond),
		dispatch.WithAttempts(c.Dispatch.Attempts),
		dispatch.WithMatcher(dispatch.PrefixIndexMatcher{
			Offset:     c.Dispatch.ResponseOffset,
			PrefixByte: c.Dispatch.PrefixByte,
			IndexByte:  c.Dispatch.IndexByte,
		}),
	}
}

// Build creates the device, loading its DBC file first and then the signals
// declared inline.
func (d DeviceConfig) Build(logf dbc.Logf) (*device.Device, error) {
	dev := device.New(d.Name, d.BaseID)
	if d.DBC != "" {
		if n := dev.LoadDBC(d.DBC, logf); n == 0 {
			log.Printf("[config] %s: no signals loaded from %s", d.Name, d.DBC)
		}
	}
	for _, s := range d.Signals {
		if err := dev.AddSignal(s); err != nil {
			return nil, fmt.Errorf("device %s: %w", d.Name, err)
		}
	}
	return dev, nil
}

// Registry builds every declared device into a new registry.
func (c *Config) Registry(logf dbc.Logf) (*device.Registry, error) {
	reg := device.NewRegistry()
	for _, d := range c.Devices {
		dev, err := d.Build(logf)
		if err != nil {
			return nil, err
		}
		reg.Add(dev)
	}
	return reg, nil
}
