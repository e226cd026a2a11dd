package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roffe/canconf"
	"github.com/roffe/canconf/pkg/dbc"
)

const sample = `
adapter:
  name: PCAN
  port: PCAN_USBBUS1
  bitrate: 1M
dispatch:
  timeout_ms: 250
  attempts: 5
  response_offset: 1
devices:
  - name: pdm1
    base_id: 0x7D0
    signals:
      - name: BatteryVoltage
        id: 0x7D0
        start_bit: 0
        length: 16
        byte_order: little
        factor: 0.01
        unit: V
      - name: Current
        id: 0x7D1
        start_bit: 7
        length: 12
        byte_order: big
        signed: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "canconf.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Adapter.Name != "SLCAN" || cfg.Adapter.Baudrate != 115200 {
		t.Errorf("got adapter %+v", cfg.Adapter)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	rate, _ := cfg.Rate()
	if rate != canconf.Bitrate1000K {
		t.Errorf("got rate %v", rate)
	}
	// unset keys keep their defaults
	if cfg.Adapter.Baudrate != 115200 || cfg.Dispatch.IndexByte != 1 {
		t.Errorf("defaults lost: %+v %+v", cfg.Adapter, cfg.Dispatch)
	}
	if cfg.Dispatch.Attempts != 5 || cfg.Dispatch.TimeoutMS != 250 {
		t.Errorf("got dispatch %+v", cfg.Dispatch)
	}
	if len(cfg.Devices) != 1 || cfg.Devices[0].BaseID != 0x7D0 {
		t.Fatalf("got devices %+v", cfg.Devices)
	}
	sigs := cfg.Devices[0].Signals
	if len(sigs) != 2 {
		t.Fatalf("got %d signals", len(sigs))
	}
	if sigs[1].ByteOrder != dbc.BigEndian || !sigs[1].Signed || sigs[1].MessageID != 0x7D1 {
		t.Errorf("got %+v", sigs[1])
	}

	reg, err := cfg.Registry(t.Logf)
	if err != nil {
		t.Fatal(err)
	}
	dev, ok := reg.ByBaseID(0x7D0)
	if !ok {
		t.Fatal("device not registered")
	}
	lo, hi, ok := dev.IDRange()
	if !ok || lo != 0x7D0 || hi != 0x7D1 {
		t.Errorf("got id range 0x%X-0x%X", lo, hi)
	}
	// factor left unset in the file falls back to 1
	if got := dev.Signals()[1].Factor; got != 1 {
		t.Errorf("got factor %v", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CANCONF_ADAPTER", "USB")
	t.Setenv("CANCONF_PORT", "/dev/ttyACM3")
	t.Setenv("CANCONF_BAUDRATE", "921600")
	t.Setenv("CANCONF_BITRATE", "250K")
	t.Setenv("CANCONF_LOG_FILE", "/tmp/canconf.log")

	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatal(err)
	}
	want := AdapterConfig{Name: "USB", Port: "/dev/ttyACM3", Baudrate: 921600, Bitrate: "250K"}
	if cfg.Adapter != want {
		t.Errorf("got %+v, want %+v", cfg.Adapter, want)
	}
	if cfg.LogFile != "/tmp/canconf.log" {
		t.Errorf("got log file %q", cfg.LogFile)
	}
}

func TestEnvBadBaudrate(t *testing.T) {
	t.Setenv("CANCONF_BAUDRATE", "fast")
	if _, err := Load(""); err == nil {
		t.Error("expected error")
	}
}

func TestLoadMalformed(t *testing.T) {
	if _, err := Load(writeConfig(t, "adapter: [")); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no adapter", func(c *Config) { c.Adapter.Name = "" }},
		{"bad bitrate", func(c *Config) { c.Adapter.Bitrate = "33K" }},
		{"no attempts", func(c *Config) { c.Dispatch.Attempts = 0 }},
		{"no timeout", func(c *Config) { c.Dispatch.TimeoutMS = 0 }},
		{"unnamed device", func(c *Config) { c.Devices = []DeviceConfig{{BaseID: 1}} }},
		{"duplicate device", func(c *Config) {
			c.Devices = []DeviceConfig{{Name: "a", BaseID: 1}, {Name: "a", BaseID: 2}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "saved.yaml")
	if err := cfg.Save(out); err != nil {
		t.Fatal(err)
	}
	again, err := Load(out)
	if err != nil {
		t.Fatal(err)
	}
	if again.Adapter != cfg.Adapter || len(again.Devices[0].Signals) != 2 {
		t.Errorf("got %+v", again)
	}
	if again.Devices[0].Signals[1].ByteOrder != dbc.BigEndian {
		t.Error("byte order lost")
	}
}

func TestDispatchOptions(t *testing.T) {
	cfg := Default()
	if got := len(cfg.DispatchOptions()); got != 3 {
		t.Errorf("got %d options", got)
	}
	if time.Duration(cfg.Dispatch.TimeoutMS)*time.Millisecond != 500*time.Millisecond {
		t.Errorf("got timeout %dms", cfg.Dispatch.TimeoutMS)
	}
}
