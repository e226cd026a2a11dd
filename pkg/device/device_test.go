package device

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roffe/canconf/pkg/dbc"
)

var speed = dbc.Signal{Name: "Speed", MessageID: 0x600, StartBit: 0, Length: 16, Factor: 0.1}

func TestDeviceConnectedWindow(t *testing.T) {
	d := New("pdm", 0x600)
	d.SetSignals([]dbc.Signal{speed})
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if d.UpdateConnected(t0) {
		t.Fatal("connected before any frame")
	}
	d.Read(0x600, []byte{0xE8, 0x03}, t0)
	tests := []struct {
		name string
		at   time.Duration
		want bool
	}{
		{"at receive", 0, true},
		{"just inside", 499 * time.Millisecond, true},
		{"at window", 500 * time.Millisecond, false},
		{"later", 2 * time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.UpdateConnected(t0.Add(tt.at)); got != tt.want {
				t.Errorf("UpdateConnected(t0+%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestDeviceClearsOnDisconnect(t *testing.T) {
	d := New("pdm", 0x600)
	d.SetSignals([]dbc.Signal{speed})
	t0 := time.Now()
	d.Read(0x600, []byte{0xE8, 0x03}, t0)
	if v, _ := d.Value("Speed"); v != 100 {
		t.Fatalf("Speed = %v, want 100", v)
	}
	d.UpdateConnected(t0.Add(100 * time.Millisecond))
	if v, _ := d.Value("Speed"); v != 100 {
		t.Errorf("value cleared while still connected: %v", v)
	}
	d.UpdateConnected(t0.Add(time.Second))
	if v, _ := d.Value("Speed"); v != 0 {
		t.Errorf("Speed = %v after disconnect, want 0", v)
	}
}

func TestDeviceIDRange(t *testing.T) {
	d := New("empty", 0x100)
	if _, _, ok := d.IDRange(); ok {
		t.Error("device without signals must be inert")
	}
	for _, id := range []uint32{0, 0x100, 0xFFFFFFFF} {
		if d.InIDRange(id) {
			t.Errorf("inert device matched 0x%X", id)
		}
	}
	if err := d.AddSignal(dbc.Signal{Name: "a", MessageID: 0x610, Length: 8}); err != nil {
		t.Fatal(err)
	}
	if err := d.AddSignal(dbc.Signal{Name: "b", MessageID: 0x602, Length: 8}); err != nil {
		t.Fatal(err)
	}
	lo, hi, ok := d.IDRange()
	if !ok || lo != 0x602 || hi != 0x610 {
		t.Errorf("IDRange() = 0x%X, 0x%X, %v", lo, hi, ok)
	}
	if !d.InIDRange(0x605) || d.InIDRange(0x611) {
		t.Error("InIDRange() wrong at the boundaries")
	}
}

func TestAddSignalRejects(t *testing.T) {
	d := New("x", 1)
	tests := []struct {
		name string
		sig  dbc.Signal
	}{
		{"zero id", dbc.Signal{Name: "a", Length: 8}},
		{"zero length", dbc.Signal{Name: "b", MessageID: 0x600}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := d.AddSignal(tt.sig); !errors.Is(err, ErrInvalidSignal) {
				t.Errorf("AddSignal() error = %v, want ErrInvalidSignal", err)
			}
		})
	}
	if err := d.AddSignal(dbc.Signal{Name: "c", MessageID: 0x600, Length: 8}); err != nil {
		t.Fatal(err)
	}
	d.Read(0x600, []byte{7}, time.Now())
	if v, _ := d.Value("c"); v != 7 {
		t.Errorf("zero factor should default to 1, got %v", v)
	}
}

func TestDeviceSkipsOutOfRangeSignal(t *testing.T) {
	d := New("pdm", 0x600)
	d.SetSignals([]dbc.Signal{
		{Name: "short", MessageID: 0x600, StartBit: 0, Length: 8, Factor: 1},
		{Name: "long", MessageID: 0x600, StartBit: 8, Length: 32, Factor: 1},
	})
	d.Read(0x600, []byte{0x2A, 0x01}, time.Now())
	if v, _ := d.Value("short"); v != 42 {
		t.Errorf("short = %v, want 42", v)
	}
	if v, _ := d.Value("long"); v != 0 {
		t.Errorf("long = %v, want untouched 0", v)
	}
	if !d.Connected() {
		t.Error("a skipped signal must not stop the device from counting the frame")
	}
}

func TestLoadDBC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pdm.dbc")
	content := "BO_ 1536 Msg: 8 ECU\nSG_ Speed : 0|16@1+ (0.1,0) [0|6553.5] \"km/h\" ECU2\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	quiet := func(string, ...any) {}
	d := New("pdm", 1536)
	if n := d.LoadDBC(path, quiet); n != 1 {
		t.Fatalf("LoadDBC() = %d, want 1", n)
	}
	if !d.InIDRange(1536) || d.DBCPath() != path {
		t.Error("LoadDBC() did not set the id range")
	}
	if n := d.LoadDBC(filepath.Join(t.TempDir(), "missing.dbc"), quiet); n != 0 {
		t.Errorf("LoadDBC() of a missing file = %d", n)
	}
	if d.InIDRange(1536) {
		t.Error("device should be inert after loading a missing file")
	}
}
