package canconf

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.einride.tech/can/pkg/candevice"
	"go.einride.tech/can/pkg/socketcan"
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "SocketCAN",
		Description:        "Linux SocketCAN interface, port is the interface name",
		RequiresSerialPort: false,
		New:                NewSocketCAN,
	}); err != nil {
		panic(err)
	}
}

type SocketCAN struct {
	*BaseAdapter
	interval time.Duration

	mu      sync.Mutex
	iface   string
	dev     *candevice.Device
	conn    net.Conn
	tx      *socketcan.Transmitter
	rx      *socketcan.Receiver
	running bool
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
}

func NewSocketCAN(cfg *AdapterConfig) (Adapter, error) {
	return &SocketCAN{
		BaseAdapter: NewBaseAdapter("SocketCAN", cfg),
		interval:    LivenessInterval,
	}, nil
}

// Init configures the bitrate and brings the link up. Without the
// privileges for that an already configured interface is used as is.
func (a *SocketCAN) Init(ctx context.Context, port string, rate Bitrate) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return ErrAlreadyStarted
	}
	dev, err := candevice.New(port)
	if err != nil {
		return fmt.Errorf("socketcan %s: %w", port, err)
	}
	if err := dev.SetBitrate(uint32(rate)); err != nil {
		a.Warn(fmt.Sprintf("set bitrate %v on %s: %v", rate, port, err))
	}
	if err := dev.SetUp(); err != nil {
		a.Warn(fmt.Sprintf("set %s up: %v", port, err))
	}
	conn, err := socketcan.DialContext(ctx, "can", port)
	if err != nil {
		return fmt.Errorf("socketcan dial %s: %w", port, err)
	}
	a.iface, a.dev, a.conn = port, dev, conn
	a.tx = socketcan.NewTransmitter(conn)
	a.rx = socketcan.NewReceiver(conn)
	return nil
}

func (a *SocketCAN) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return ErrNotInitialized
	}
	if a.running {
		return ErrAlreadyStarted
	}
	a.newCycle()
	ctx, a.cancel = context.WithCancel(ctx)
	wg := new(sync.WaitGroup)
	wg.Add(2)
	a.wg = wg
	a.running = true
	go a.recvManager(ctx, wg, a.rx)
	go a.livenessManager(ctx, wg, a.iface)
	return nil
}

func (a *SocketCAN) Stop() error {
	a.mu.Lock()
	if a.conn == nil {
		a.mu.Unlock()
		return nil
	}
	if a.cancel != nil {
		a.cancel()
	}
	// closing the socket unblocks Receive
	err := a.conn.Close()
	wg, dev := a.wg, a.dev
	a.conn, a.tx, a.rx, a.dev, a.wg = nil, nil, nil, nil, nil
	a.running = false
	a.mu.Unlock()
	if wg != nil {
		wg.Wait()
	}
	if dev != nil {
		if derr := dev.SetDown(); derr != nil {
			a.Debug("set down: " + derr.Error())
		}
	}
	return err
}

func (a *SocketCAN) Write(frame *CANFrame) error {
	if len(frame.Data) > MaxPayload {
		return ErrPayloadTooLong
	}
	a.mu.Lock()
	tx := a.tx
	a.mu.Unlock()
	if tx == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := tx.TransmitFrame(ctx, frame.Frame()); err != nil {
		return fmt.Errorf("socketcan transmit: %w", err)
	}
	return nil
}

// Connected reports the kernel link state.
func (a *SocketCAN) Connected() bool {
	a.mu.Lock()
	iface, running := a.iface, a.running
	a.mu.Unlock()
	return running && linkUp(iface)
}

func (a *SocketCAN) recvManager(ctx context.Context, wg *sync.WaitGroup, rx *socketcan.Receiver) {
	defer wg.Done()
	for rx.Receive() {
		if ctx.Err() != nil {
			return
		}
		a.deliver(FromFrame(rx.Frame(), Incoming))
	}
	if ctx.Err() == nil {
		err := rx.Err()
		if err != nil {
			a.Error(fmt.Errorf("socketcan receive: %w", err))
		}
		a.disconnect("socket closed")
	}
}

func (a *SocketCAN) livenessManager(ctx context.Context, wg *sync.WaitGroup, iface string) {
	defer wg.Done()
	t := time.NewTicker(a.interval)
	defer t.Stop()
	// Init brought the link up
	wasUp := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			up := linkUp(iface)
			if wasUp && !up {
				a.disconnect(fmt.Sprintf("link %s down", iface))
			}
			wasUp = up
		}
	}
}

func linkUp(iface string) bool {
	i, err := net.InterfaceByName(iface)
	if err != nil {
		return false
	}
	return i.Flags&net.FlagUp != 0
}

// FindDevices lists network interfaces that look like CAN links.
func FindDevices() (dev []string) {
	iFaces, _ := net.Interfaces()
	for _, i := range iFaces {
		if strings.Contains(i.Name, "can") {
			dev = append(dev, i.Name)
		}
	}
	return
}
