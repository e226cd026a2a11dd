// Package device tracks ECUs on the bus: which frames belong to them, the
// decoded value of every signal and whether they are still talking.
package device

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/roffe/canconf/pkg/dbc"
)

// LivenessWindow is how long after its last frame a device counts as connected.
const LivenessWindow = 500 * time.Millisecond

var ErrInvalidSignal = errors.New("signal needs a non zero message id and length")

type Device struct {
	ID     uuid.UUID
	Name   string
	BaseID uint32

	mu        sync.RWMutex
	signals   []dbc.Signal
	values    []float64
	failed    []bool
	lastRx    time.Time
	connected bool
	minID     uint32
	maxID     uint32
	dbcPath   string
}

// Value is a signal with its latest physical value.
type Value struct {
	Signal dbc.Signal
	Value  float64
}

func New(name string, baseID uint32) *Device {
	d := &Device{
		ID:     uuid.New(),
		Name:   name,
		BaseID: baseID,
	}
	d.updateIDRange()
	return d
}

func (d *Device) String() string {
	return fmt.Sprintf("%s (0x%03X)", d.Name, d.BaseID)
}

// SetSignals replaces all signal layouts and resets their values.
func (d *Device) SetSignals(signals []dbc.Signal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.signals = append([]dbc.Signal(nil), signals...)
	d.values = make([]float64, len(d.signals))
	d.failed = make([]bool, len(d.signals))
	d.updateIDRange()
}

// AddSignal appends one layout.
func (d *Device) AddSignal(s dbc.Signal) error {
	if s.MessageID == 0 || s.Length == 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSignal, s.Name)
	}
	if s.Factor == 0 {
		s.Factor = 1
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.signals = append(d.signals, s)
	d.values = append(d.values, 0)
	d.failed = append(d.failed, false)
	d.updateIDRange()
	return nil
}

// LoadDBC replaces the layouts with those of a DBC file. A missing file
// leaves the device without signals, matching no frames.
func (d *Device) LoadDBC(path string, logf dbc.Logf) int {
	if logf == nil {
		logf = log.Printf
	}
	signals := dbc.ParseFile(path, logf)
	d.SetSignals(signals)
	d.mu.Lock()
	d.dbcPath = path
	lo, hi := d.minID, d.maxID
	d.mu.Unlock()
	logf("%s loaded %d signals, id range 0x%X-0x%X", d.Name, len(signals), lo, hi)
	return len(signals)
}

func (d *Device) DBCPath() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dbcPath
}

// an empty signal set gives min > max so nothing matches
func (d *Device) updateIDRange() {
	if len(d.signals) == 0 {
		d.minID, d.maxID = math.MaxUint32, 0
		return
	}
	d.minID, d.maxID = d.signals[0].MessageID, d.signals[0].MessageID
	for _, s := range d.signals[1:] {
		d.minID = min(d.minID, s.MessageID)
		d.maxID = max(d.maxID, s.MessageID)
	}
}

// IDRange returns the inclusive id range, ok is false for an inert device.
func (d *Device) IDRange() (lo, hi uint32, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.minID, d.maxID, d.minID <= d.maxID
}

func (d *Device) InIDRange(id uint32) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return id >= d.minID && id <= d.maxID
}

// Read decodes every signal carried by message id. A signal that does not
// fit the payload is skipped for this frame.
func (d *Device) Read(id uint32, data []byte, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.signals) == 0 {
		return
	}
	for i, s := range d.signals {
		if s.MessageID != id {
			continue
		}
		v, err := dbc.Decode(data, s)
		if err != nil {
			if !d.failed[i] {
				log.Printf("%s: %v", d.Name, err)
				d.failed[i] = true
			}
			continue
		}
		d.values[i] = v
	}
	d.lastRx = now
	d.setConnected(true)
}

// UpdateConnected recomputes the connected flag for now.
func (d *Device) UpdateConnected(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setConnected(!d.lastRx.IsZero() && now.Sub(d.lastRx) < LivenessWindow)
	return d.connected
}

// dropping the connection zeroes all values
func (d *Device) setConnected(c bool) {
	if d.connected && !c {
		clear(d.values)
	}
	d.connected = c
}

func (d *Device) Connected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

func (d *Device) LastRx() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastRx
}

func (d *Device) Signals() []dbc.Signal {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]dbc.Signal(nil), d.signals...)
}

func (d *Device) Values() []Value {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Value, len(d.signals))
	for i, s := range d.signals {
		out[i] = Value{Signal: s, Value: d.values[i]}
	}
	return out
}

// Value looks a signal up by name.
func (d *Device) Value(name string) (float64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for i, s := range d.signals {
		if s.Name == name {
			return d.values[i], true
		}
	}
	return 0, false
}
