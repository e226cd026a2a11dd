package canconf

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/avast/retry-go"
)

// Manager owns the single active adapter and republishes its frames.
type Manager struct {
	// serializes Connect and Disconnect
	opMu sync.Mutex

	mu          sync.RWMutex
	active      Adapter
	port        string
	rate        Bitrate
	watchCancel context.CancelFunc

	subMu   sync.RWMutex
	subs    map[int]FrameHandler
	nextSub int
}

// Status describes the active adapter.
type Status struct {
	Adapter   string
	Port      string
	Bitrate   Bitrate
	Active    bool
	Connected bool
}

func (s Status) String() string {
	if !s.Active {
		return "no adapter"
	}
	return fmt.Sprintf("%s on %s @ %v, connected: %v", s.Adapter, s.Port, s.Bitrate, s.Connected)
}

func NewManager() *Manager {
	return &Manager{
		subs: make(map[int]FrameHandler),
	}
}

// Connect replaces the active adapter with a. On an Init or Start failure
// nothing stays connected and the error is returned.
func (m *Manager) Connect(ctx context.Context, a Adapter, port string, rate Bitrate) error {
	if a == nil {
		return ErrNilAdapter
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.disconnect(); err != nil {
		log.Printf("disconnect previous adapter: %v", err)
	}

	a.Subscribe(m.publish)
	if err := a.Init(ctx, port, rate); err != nil {
		a.Unsubscribe()
		return fmt.Errorf("failed to initialize %s: %w", a.Name(), err)
	}
	if err := a.Start(ctx); err != nil {
		a.Unsubscribe()
		if serr := a.Stop(); serr != nil {
			log.Printf("stop %s after failed start: %v", a.Name(), serr)
		}
		return fmt.Errorf("failed to start %s: %w", a.Name(), err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.active, m.port, m.rate, m.watchCancel = a, port, rate, cancel
	m.mu.Unlock()
	go m.watch(watchCtx, a)

	log.Printf("adapter connected: %s on %s @ %v", a.Name(), port, rate)
	return nil
}

// ConnectRetry calls Connect up to attempts times.
func (m *Manager) ConnectRetry(ctx context.Context, a Adapter, port string, rate Bitrate, attempts uint) error {
	return retry.Do(
		func() error {
			return m.Connect(ctx, a, port, rate)
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(250*time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("#%d: %v", n, err)
		}),
		retry.LastErrorOnly(true),
	)
}

// Disconnect unsubscribes from the active adapter before stopping it.
// Calling it with nothing connected is a no-op.
func (m *Manager) Disconnect() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.disconnect()
}

func (m *Manager) disconnect() error {
	m.mu.Lock()
	a, cancel := m.active, m.watchCancel
	m.active, m.watchCancel = nil, nil
	m.mu.Unlock()
	if a == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	a.Unsubscribe()
	err := a.Stop()
	log.Printf("adapter disconnected: %s", a.Name())
	if err != nil {
		return fmt.Errorf("stop %s: %w", a.Name(), err)
	}
	return nil
}

// disconnectIf tears a down if it is still the active adapter.
func (m *Manager) disconnectIf(a Adapter) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.mu.RLock()
	same := m.active == a
	m.mu.RUnlock()
	if !same {
		return
	}
	if err := m.disconnect(); err != nil {
		log.Println(err)
	}
}

func (m *Manager) watch(ctx context.Context, a Adapter) {
	dc := a.Disconnected()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-a.Event():
			log.Println(evt.String())
		case <-dc:
			log.Printf("%s reported disconnect", a.Name())
			go m.disconnectIf(a)
			return
		}
	}
}

// Subscribe registers h for every inbound frame of the active adapter.
func (m *Manager) Subscribe(h FrameHandler) (cancel func()) {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = h
	m.subMu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
		})
	}
}

func (m *Manager) publish(frame *CANFrame) {
	m.subMu.RLock()
	handlers := make([]FrameHandler, 0, len(m.subs))
	for _, h := range m.subs {
		handlers = append(handlers, h)
	}
	m.subMu.RUnlock()
	for _, h := range handlers {
		h(frame)
	}
}

// Write sends frame on the active adapter.
func (m *Manager) Write(frame *CANFrame) error {
	m.mu.RLock()
	a := m.active
	m.mu.RUnlock()
	if a == nil {
		return ErrNotConnected
	}
	return a.Write(frame)
}

func (m *Manager) Active() Adapter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

func (m *Manager) Connected() bool {
	a := m.Active()
	return a != nil && a.Connected()
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	a, port, rate := m.active, m.port, m.rate
	m.mu.RUnlock()
	if a == nil {
		return Status{}
	}
	return Status{
		Adapter:   a.Name(),
		Port:      port,
		Bitrate:   rate,
		Active:    true,
		Connected: a.Connected(),
	}
}
