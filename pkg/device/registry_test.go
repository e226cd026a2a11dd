package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roffe/canconf"
	"github.com/roffe/canconf/pkg/dbc"
)

func newTestRegistry() (*Registry, *Device, *Device) {
	r := NewRegistry()
	a := New("pdm", 0x600)
	a.SetSignals([]dbc.Signal{{Name: "Volts", MessageID: 0x600, Length: 8, Factor: 0.5}})
	b := New("keypad", 0x680)
	b.SetSignals([]dbc.Signal{
		{Name: "Btn", MessageID: 0x680, Length: 1, Factor: 1},
		{Name: "Led", MessageID: 0x690, Length: 8, Factor: 1},
	})
	r.Add(a, b)
	return r, a, b
}

func TestRegistryRoute(t *testing.T) {
	r, a, b := newTestRegistry()
	now := time.Now()
	tests := []struct {
		name string
		id   uint32
		want int
	}{
		{"first device", 0x600, 1},
		{"second device range start", 0x680, 1},
		{"inside second range without signal", 0x685, 1},
		{"outside every range", 0x700, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.RouteAt(canconf.NewFrame(tt.id, []byte{120}, canconf.Incoming), now)
			if got != tt.want {
				t.Errorf("RouteAt(0x%X) = %d, want %d", tt.id, got, tt.want)
			}
		})
	}
	if v, _ := a.Value("Volts"); v != 60 {
		t.Errorf("Volts = %v, want 60", v)
	}
	if !b.Connected() {
		t.Error("keypad not connected after a frame in range")
	}
	r.CheckLiveness(now.Add(time.Second))
	if a.Connected() || b.Connected() {
		t.Error("devices still connected after the liveness window")
	}
}

func TestRegistryLookup(t *testing.T) {
	r, a, _ := newTestRegistry()
	if got, ok := r.Get(a.ID); !ok || got != a {
		t.Error("Get() did not find the device")
	}
	if got, ok := r.ByBaseID(0x680); !ok || got.Name != "keypad" {
		t.Error("ByBaseID() did not find keypad")
	}
	if name := r.DeviceName(0x123); name != "Unknown" {
		t.Errorf("DeviceName() = %s", name)
	}
	if !r.Remove(a.ID) || r.Remove(a.ID) {
		t.Error("Remove() should succeed once")
	}
	if len(r.Devices()) != 1 {
		t.Errorf("Devices() = %v", r.Devices())
	}
}

func TestRegistryRun(t *testing.T) {
	r, a, _ := newTestRegistry()
	a.Read(0x600, []byte{1}, time.Now())
	ctx, cancel := context.WithTimeout(context.Background(), 700*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx, 50*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v", err)
	}
	if a.Connected() {
		t.Error("Run() did not expire the device")
	}
}
