package canconf

import (
	"log"
	"path/filepath"
	"runtime"
	"sync"
)

// BaseAdapter carries the parts every backend shares: the subscriber slot,
// the latched disconnect notification and the event channel.
type BaseAdapter struct {
	name string
	cfg  *AdapterConfig

	evtChan chan Event

	// held for reading during delivery so Unsubscribe waits out an
	// in-flight handler call
	subMu   sync.RWMutex
	handler FrameHandler

	dcMu   sync.Mutex
	dcChan chan struct{}
	dcOnce *sync.Once
}

func NewBaseAdapter(name string, cfg *AdapterConfig) *BaseAdapter {
	if cfg == nil {
		cfg = &AdapterConfig{}
	}
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(msg string) { log.Println(msg) }
	}
	return &BaseAdapter{
		name:    name,
		cfg:     cfg,
		evtChan: make(chan Event, 100),
		dcChan:  make(chan struct{}),
		dcOnce:  new(sync.Once),
	}
}

// Name returns the adapter name.
func (base *BaseAdapter) Name() string {
	return base.name
}

func (base *BaseAdapter) Event() <-chan Event {
	return base.evtChan
}

func (base *BaseAdapter) Subscribe(h FrameHandler) {
	base.subMu.Lock()
	base.handler = h
	base.subMu.Unlock()
}

func (base *BaseAdapter) Unsubscribe() {
	base.subMu.Lock()
	base.handler = nil
	base.subMu.Unlock()
}

func (base *BaseAdapter) deliver(frame *CANFrame) {
	base.subMu.RLock()
	defer base.subMu.RUnlock()
	if base.handler != nil {
		base.handler(frame)
	}
}

func (base *BaseAdapter) Disconnected() <-chan struct{} {
	base.dcMu.Lock()
	defer base.dcMu.Unlock()
	return base.dcChan
}

// newCycle re-arms the disconnect notification for a fresh connect cycle.
func (base *BaseAdapter) newCycle() {
	base.dcMu.Lock()
	defer base.dcMu.Unlock()
	select {
	case <-base.dcChan:
		base.dcChan = make(chan struct{})
		base.dcOnce = new(sync.Once)
	default:
	}
}

// disconnect closes the notification channel, only the first call per cycle
// has any effect.
func (base *BaseAdapter) disconnect(reason string) {
	base.dcMu.Lock()
	ch, once := base.dcChan, base.dcOnce
	base.dcMu.Unlock()
	once.Do(func() {
		close(ch)
		base.Warn("disconnected: " + reason)
	})
}

func (base *BaseAdapter) sendEvent(eventType EventType, details string) {
	select {
	case base.evtChan <- Event{Adapter: base.name, Type: eventType, Details: details}:
	default:
		_, file, no, ok := runtime.Caller(2)
		if ok {
			log.Printf("%s#%d event channel full: %s\n", filepath.Base(file), no, details)
		} else {
			log.Printf("event channel full: %s", details)
		}
	}
}

// Send an error event
func (base *BaseAdapter) Error(err error) {
	base.sendEvent(EventTypeError, err.Error())
}

// Send a warning event
func (base *BaseAdapter) Warn(warn string) {
	base.sendEvent(EventTypeWarning, warn)
}

// Send an info event
func (base *BaseAdapter) Info(info string) {
	base.sendEvent(EventTypeInfo, info)
}

// Send a debug event, dropped unless the adapter runs with Debug
func (base *BaseAdapter) Debug(debug string) {
	if !base.cfg.Debug {
		return
	}
	base.sendEvent(EventTypeDebug, debug)
}
