package canconf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

const (
	// LivenessWindow is how recent the last valid receive must be for a
	// backend without native link status to count as connected.
	LivenessWindow = 500 * time.Millisecond
	// LivenessInterval is the port enumeration period.
	LivenessInterval = 500 * time.Millisecond
)

type portOpener func(name string, baudrate int) (io.ReadWriteCloser, error)

type portLister func() ([]string, error)

func openSerialPort(name string, baudrate int) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open com port %q: %w", name, err)
	}
	if err := p.SetReadTimeout(10 * time.Millisecond); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to set read timeout on %q: %w", name, err)
	}
	p.ResetOutputBuffer()
	p.ResetInputBuffer()
	return p, nil
}

// serialLine is the part of the SLCAN and USB backends that owns the port:
// the reader goroutine, the receive stopwatch and the port enumeration check.
type serialLine struct {
	base *BaseAdapter

	open      portOpener
	listPorts portLister
	interval  time.Duration

	mu       sync.Mutex
	portName string
	port     io.ReadWriteCloser
	running  bool
	cancel   context.CancelFunc
	wg       *sync.WaitGroup

	closing atomic.Bool
	lastRx  atomic.Int64
	parser  slcanParser
}

func newSerialLine(base *BaseAdapter) *serialLine {
	l := &serialLine{
		base:      base,
		open:      openSerialPort,
		listPorts: serial.GetPortsList,
		interval:  LivenessInterval,
	}
	l.parser.onFrame = l.received
	l.parser.onDiag = func(err error) { base.Debug(err.Error()) }
	return l
}

func (l *serialLine) init(port string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return ErrAlreadyStarted
	}
	if l.port != nil {
		l.port.Close()
		l.port = nil
	}
	p, err := l.open(port, l.base.cfg.PortBaudrate)
	if err != nil {
		return err
	}
	l.portName = port
	l.port = p
	return nil
}

func (l *serialLine) start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return ErrNotInitialized
	}
	if l.running {
		return ErrAlreadyStarted
	}
	l.base.newCycle()
	l.closing.Store(false)
	l.lastRx.Store(0)
	l.parser.buf = l.parser.buf[:0]
	ctx, l.cancel = context.WithCancel(ctx)
	l.running = true
	wg := new(sync.WaitGroup)
	wg.Add(2)
	l.wg = wg
	go l.readLoop(ctx, wg, l.port)
	go l.livenessLoop(ctx, wg, l.portName)
	return nil
}

// stop halts both goroutines and closes the port. before runs with the port
// still open, the SLCAN backend uses it to close the channel.
func (l *serialLine) stop(before func(w io.Writer)) error {
	l.mu.Lock()
	if l.port == nil {
		l.mu.Unlock()
		return nil
	}
	l.closing.Store(true)
	if before != nil {
		before(l.port)
	}
	if l.cancel != nil {
		l.cancel()
	}
	err := l.port.Close()
	wg := l.wg
	l.port, l.wg, l.running = nil, nil, false
	l.mu.Unlock()
	// the reader may be inside a handler that writes, wait without the lock
	if wg != nil {
		wg.Wait()
	}
	if err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("close %s: %w", l.portName, err)
	}
	return nil
}

func (l *serialLine) write(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return ErrNotInitialized
	}
	if l.closing.Load() {
		return ErrNotConnected
	}
	select {
	case <-l.base.Disconnected():
		return fmt.Errorf("%w: %s", ErrDisconnected, l.portName)
	default:
	}
	if _, err := l.port.Write(data); err != nil {
		return fmt.Errorf("failed to write to com port %s: %w", l.portName, err)
	}
	return nil
}

func (l *serialLine) connected() bool {
	last := l.lastRx.Load()
	return last != 0 && time.Since(time.Unix(0, last)) < LivenessWindow
}

func (l *serialLine) received(frame *CANFrame) {
	l.lastRx.Store(time.Now().UnixNano())
	l.base.deliver(frame)
}

func (l *serialLine) readLoop(ctx context.Context, wg *sync.WaitGroup, port io.Reader) {
	defer wg.Done()
	defer func() {
		if r := recover(); r != nil {
			l.base.Error(fmt.Errorf("receive loop: %v", r))
			l.base.disconnect("receive loop failed")
		}
	}()
	readBuf := make([]byte, 64)
	for ctx.Err() == nil {
		n, err := port.Read(readBuf)
		if err != nil {
			if l.closing.Load() {
				return
			}
			l.base.Error(fmt.Errorf("failed to read com port: %w", err))
			l.base.disconnect(err.Error())
			return
		}
		if n == 0 {
			continue
		}
		l.parser.Feed(readBuf[:n])
	}
}

// livenessLoop watches the OS port list, a port that was present and is now
// gone fires the disconnect notification.
func (l *serialLine) livenessLoop(ctx context.Context, wg *sync.WaitGroup, name string) {
	defer wg.Done()
	t := time.NewTicker(l.interval)
	defer t.Stop()
	wasPresent := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			ports, err := l.listPorts()
			if err != nil {
				l.base.Debug("port enumeration failed: " + err.Error())
				continue
			}
			present := slices.Contains(ports, name)
			if wasPresent && !present {
				l.base.disconnect(fmt.Sprintf("port %s removed", name))
			}
			wasPresent = present
		}
	}
}
