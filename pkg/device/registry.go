package device

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/roffe/canconf"
)

// Registry routes inbound frames to the devices whose id range holds them.
type Registry struct {
	mu      sync.RWMutex
	devices []*Device
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{now: time.Now}
}

func (r *Registry) Add(devices ...*Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range devices {
		r.devices = append(r.devices, d)
		log.Printf("device added: %s guid %s", d, d.ID)
	}
}

func (r *Registry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, d := range r.devices {
		if d.ID == id {
			r.devices = append(r.devices[:i], r.devices[i+1:]...)
			log.Printf("device removed: %s guid %s", d, d.ID)
			return true
		}
	}
	return false
}

func (r *Registry) Get(id uuid.UUID) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.devices {
		if d.ID == id {
			return d, true
		}
	}
	return nil, false
}

func (r *Registry) Devices() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Device(nil), r.devices...)
}

// ByBaseID returns the first device with the given base id.
func (r *Registry) ByBaseID(baseID uint32) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.devices {
		if d.BaseID == baseID {
			return d, true
		}
	}
	return nil, false
}

// DeviceName names the device at baseID for log lines.
func (r *Registry) DeviceName(baseID uint32) string {
	if d, ok := r.ByBaseID(baseID); ok {
		return d.Name
	}
	return "Unknown"
}

// Route is a canconf.FrameHandler.
func (r *Registry) Route(frame *canconf.CANFrame) {
	r.RouteAt(frame, r.now())
}

// RouteAt hands frame to every device in range and returns how many took it.
func (r *Registry) RouteAt(frame *canconf.CANFrame, now time.Time) int {
	var n int
	for _, d := range r.Devices() {
		if d.InIDRange(frame.Identifier) {
			d.Read(frame.Identifier, frame.Data, now)
			n++
		}
	}
	return n
}

// CheckLiveness recomputes every device's connected flag.
func (r *Registry) CheckLiveness(now time.Time) {
	for _, d := range r.Devices() {
		was := d.Connected()
		if is := d.UpdateConnected(now); was != is {
			log.Printf("%s connected: %v", d, is)
		}
	}
}

// Run checks liveness every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.CheckLiveness(r.now())
		}
	}
}
