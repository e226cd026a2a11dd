package canconf

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
)

// FrameHandler receives inbound frames. It is called from the adapter's
// receive goroutine and must not block for long.
type FrameHandler func(*CANFrame)

type Adapter interface {
	Name() string
	// Init opens and configures the backend. No frames are delivered yet.
	Init(ctx context.Context, port string, rate Bitrate) error
	// Start begins the receive path and liveness checking.
	Start(ctx context.Context) error
	// Stop halts the receive path. It is idempotent and no handler call
	// happens after it returns.
	Stop() error
	Write(frame *CANFrame) error
	Subscribe(FrameHandler)
	Unsubscribe()
	// Disconnected is closed once when the backend goes away.
	Disconnected() <-chan struct{}
	Connected() bool
	Event() <-chan Event
}

type AdapterInfo struct {
	Name               string
	Description        string
	RequiresSerialPort bool
	New                func(*AdapterConfig) (Adapter, error)
}

func (a *AdapterInfo) String() string {
	return fmt.Sprintf("%s | %s, requires serial port: %v", a.Name, a.Description, a.RequiresSerialPort)
}

type AdapterConfig struct {
	Debug        bool
	PortBaudrate int
	// OnMessage receives free text diagnostics, defaults to log.Println
	OnMessage func(string)
}

var (
	adapterMu  sync.RWMutex
	adapterMap = make(map[string]*AdapterInfo)
)

func NewAdapter(adapterName string, cfg *AdapterConfig) (Adapter, error) {
	if cfg == nil {
		cfg = &AdapterConfig{}
	}
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(msg string) {
			log.Output(2, msg)
		}
	}
	if cfg.PortBaudrate == 0 {
		cfg.PortBaudrate = 115200
	}
	adapterMu.RLock()
	adapter, found := lookupAdapter(adapterName)
	adapterMu.RUnlock()
	if !found {
		return nil, fmt.Errorf("%w %q", ErrUnknownAdapter, adapterName)
	}
	return adapter.New(cfg)
}

// names are matched case-insensitively, "slcan" finds "SLCAN"
func lookupAdapter(name string) (*AdapterInfo, bool) {
	if a, ok := adapterMap[name]; ok {
		return a, true
	}
	for k, a := range adapterMap {
		if strings.EqualFold(k, name) {
			return a, true
		}
	}
	return nil, false
}

func RegisterAdapter(adapter *AdapterInfo) error {
	adapterMu.Lock()
	defer adapterMu.Unlock()
	if _, found := adapterMap[adapter.Name]; !found {
		adapterMap[adapter.Name] = adapter
		return nil
	}
	return fmt.Errorf("adapter %s already registered", adapter.Name)
}

func ListAdapterNames() []string {
	adapterMu.RLock()
	defer adapterMu.RUnlock()
	var out []string
	for name := range adapterMap {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}

func ListAdapters() []AdapterInfo {
	adapterMu.RLock()
	defer adapterMu.RUnlock()
	var out []AdapterInfo
	for _, adapter := range adapterMap {
		out = append(out, *adapter)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out
}
