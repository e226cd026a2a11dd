package canconf

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// VendorMessage is the driver side message layout.
type VendorMessage struct {
	ID       uint32
	Extended bool
	Len      uint8
	Data     [8]byte
}

// ErrQueueEmpty is returned by VendorDriver.Read when nothing arrived within
// the timeout.
var ErrQueueEmpty = errors.New("receive queue empty")

// VendorDriver is an opaque native CAN driver. Only the mapping between its
// messages and CANFrame lives in this package.
type VendorDriver interface {
	Open(channel string, rate Bitrate) error
	Close() error
	// Read dequeues one message, blocking at most timeout.
	Read(timeout time.Duration) (VendorMessage, error)
	Write(msg VendorMessage) error
	// Active reports the driver's own link status.
	Active() bool
}

type PCAN struct {
	*BaseAdapter
	driver   VendorDriver
	interval time.Duration

	mu      sync.Mutex
	opened  bool
	running bool
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
}

// NewPCAN wraps driver. Concrete drivers register themselves under their
// device name.
func NewPCAN(name string, driver VendorDriver, cfg *AdapterConfig) *PCAN {
	return &PCAN{
		BaseAdapter: NewBaseAdapter(name, cfg),
		driver:      driver,
		interval:    LivenessInterval,
	}
}

func (p *PCAN) Init(ctx context.Context, port string, rate Bitrate) error {
	if p.driver == nil {
		return ErrDriverUnavailable
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyStarted
	}
	if err := p.driver.Open(port, rate); err != nil {
		return fmt.Errorf("%s: open %q: %w", p.name, port, err)
	}
	p.opened = true
	return nil
}

func (p *PCAN) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.opened {
		return ErrNotInitialized
	}
	if p.running {
		return ErrAlreadyStarted
	}
	p.newCycle()
	ctx, p.cancel = context.WithCancel(ctx)
	wg := new(sync.WaitGroup)
	wg.Add(2)
	p.wg = wg
	p.running = true
	go p.recvManager(ctx, wg)
	go p.livenessManager(ctx, wg)
	return nil
}

func (p *PCAN) Stop() error {
	p.mu.Lock()
	if !p.opened {
		p.mu.Unlock()
		return nil
	}
	if p.cancel != nil {
		p.cancel()
	}
	wg := p.wg
	p.opened, p.running, p.wg = false, false, nil
	p.mu.Unlock()
	if wg != nil {
		wg.Wait()
	}
	return p.driver.Close()
}

func (p *PCAN) Write(frame *CANFrame) error {
	p.mu.Lock()
	opened := p.opened
	p.mu.Unlock()
	if !opened {
		return ErrNotConnected
	}
	msg, err := toVendorMessage(frame)
	if err != nil {
		return err
	}
	if err := p.driver.Write(msg); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	return nil
}

func (p *PCAN) Connected() bool {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	return running && p.driver.Active()
}

func (p *PCAN) recvManager(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.Error(fmt.Errorf("receive loop: %v", r))
			p.disconnect("receive loop failed")
		}
	}()
	for ctx.Err() == nil {
		msg, err := p.driver.Read(10 * time.Millisecond)
		if err != nil {
			if errors.Is(err, ErrQueueEmpty) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			p.Error(fmt.Errorf("read failed: %w", err))
			p.disconnect(err.Error())
			return
		}
		p.deliver(fromVendorMessage(msg))
	}
}

// livenessManager starts from an active link since Open succeeded, a drop
// before the first tick still counts as a transition.
func (p *PCAN) livenessManager(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	t := time.NewTicker(p.interval)
	defer t.Stop()
	wasActive := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			active := p.driver.Active()
			if wasActive && !active {
				p.disconnect("link inactive")
			}
			wasActive = active
		}
	}
}

func toVendorMessage(frame *CANFrame) (VendorMessage, error) {
	if len(frame.Data) > MaxPayload {
		return VendorMessage{}, ErrPayloadTooLong
	}
	msg := VendorMessage{
		ID:       frame.Identifier,
		Extended: frame.Extended,
		Len:      uint8(len(frame.Data)),
	}
	copy(msg.Data[:], frame.Data)
	return msg, nil
}

func fromVendorMessage(msg VendorMessage) *CANFrame {
	n := min(int(msg.Len), MaxPayload)
	f := NewFrame(msg.ID, msg.Data[:n], Incoming)
	f.Extended = msg.Extended
	return f
}
