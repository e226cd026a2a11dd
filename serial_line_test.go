package canconf

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakePort struct {
	mu      sync.Mutex
	written bytes.Buffer
	rx      chan []byte
	readErr chan error

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakePort() *fakePort {
	return &fakePort{
		rx:      make(chan []byte, 16),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, io.ErrClosedPipe
	case err := <-p.readErr:
		return 0, err
	case data := <-p.rx:
		return copy(b, data), nil
	case <-time.After(5 * time.Millisecond):
		return 0, nil
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

type portList struct {
	v atomic.Value
}

func (l *portList) set(ports ...string) { l.v.Store(ports) }

func (l *portList) list() ([]string, error) {
	ports, _ := l.v.Load().([]string)
	return ports, nil
}

func newTestSLCAN(t *testing.T, port *fakePort, ports *portList) *SLCAN {
	t.Helper()
	a, err := NewSLCAN(&AdapterConfig{PortBaudrate: 115200})
	if err != nil {
		t.Fatal(err)
	}
	sl := a.(*SLCAN)
	sl.line.open = func(name string, baud int) (io.ReadWriteCloser, error) {
		if name != "COM7" {
			return nil, errors.New("no such port")
		}
		return port, nil
	}
	sl.line.listPorts = ports.list
	sl.line.interval = 20 * time.Millisecond
	return sl
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSLCANLifecycle(t *testing.T) {
	port := newFakePort()
	ports := &portList{}
	ports.set("COM1", "COM7")
	sl := newTestSLCAN(t, port, ports)

	if err := sl.Start(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Start() before Init error = %v, want ErrNotInitialized", err)
	}
	if err := sl.Init(context.Background(), "COM9", Bitrate500K); err == nil {
		t.Fatal("Init() on a missing port should fail")
	}
	if err := sl.Init(context.Background(), "COM7", Bitrate500K); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	var mu sync.Mutex
	var got []*CANFrame
	sl.Subscribe(func(f *CANFrame) {
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	})

	if err := sl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if w := port.Written(); w != "C\rS2\rO\r" {
		t.Errorf("Start() wrote %q, want %q", w, "C\rS2\rO\r")
	}
	if sl.Connected() {
		t.Error("Connected() before any receive")
	}

	port.rx <- []byte("t7D821C")
	port.rx <- []byte("00\r")
	waitFor(t, "frame", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	mu.Lock()
	if f := got[0]; f.Identifier != 0x7D8 || !bytes.Equal(f.Data, []byte{0x1C, 0x00}) {
		t.Errorf("received %v", f)
	}
	mu.Unlock()
	if !sl.Connected() {
		t.Error("Connected() = false right after a receive")
	}

	if err := sl.Write(NewFrame(0x600, []byte{0xAB}, Outgoing)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if w := port.Written(); w != "C\rS2\rO\rt6001AB\r" {
		t.Errorf("port contents %q", w)
	}

	if err := sl.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if w := port.Written(); w != "C\rS2\rO\rt6001AB\rC\r" {
		t.Errorf("Stop() did not close the channel: %q", w)
	}
	if err := sl.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if err := sl.Write(NewFrame(0x600, nil, Outgoing)); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Write() after Stop error = %v", err)
	}
}

func TestSLCANShortRecordCountsAsReceive(t *testing.T) {
	port := newFakePort()
	ports := &portList{}
	ports.set("COM7")
	sl := newTestSLCAN(t, port, ports)
	if err := sl.Init(context.Background(), "COM7", Bitrate500K); err != nil {
		t.Fatal(err)
	}
	frames := make(chan *CANFrame, 1)
	sl.Subscribe(func(f *CANFrame) { frames <- f })
	if err := sl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sl.Stop()

	port.rx <- []byte("t1238AB\r")
	select {
	case f := <-frames:
		if f.Identifier != 0x123 || len(f.Data) != 0 {
			t.Errorf("received %v", f)
		}
	case <-time.After(time.Second):
		t.Fatal("short record not delivered")
	}
	if !sl.Connected() {
		t.Error("Connected() = false after a short record")
	}
}

func TestSerialLinePortRemoved(t *testing.T) {
	port := newFakePort()
	ports := &portList{}
	ports.set("COM7")
	sl := newTestSLCAN(t, port, ports)
	if err := sl.Init(context.Background(), "COM7", Bitrate250K); err != nil {
		t.Fatal(err)
	}
	if err := sl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sl.Stop()

	dc := sl.Disconnected()
	select {
	case <-dc:
		t.Fatal("disconnected while the port is present")
	case <-time.After(100 * time.Millisecond):
	}
	ports.set("COM1")
	select {
	case <-dc:
	case <-time.After(time.Second):
		t.Fatal("removal of the port was not reported")
	}
	if err := sl.Write(NewFrame(0x100, []byte{1}, Outgoing)); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Write() after removal error = %v, want ErrDisconnected", err)
	}
	// latched: later ticks and direct calls do not panic on a closed channel
	sl.disconnect("again")
	time.Sleep(60 * time.Millisecond)
}

func TestSerialLineReadError(t *testing.T) {
	port := newFakePort()
	ports := &portList{}
	ports.set("COM7")
	sl := newTestSLCAN(t, port, ports)
	if err := sl.Init(context.Background(), "COM7", Bitrate125K); err != nil {
		t.Fatal(err)
	}
	if err := sl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	port.readErr <- errors.New("device reports readiness to read but returned no data")
	select {
	case <-sl.Disconnected():
	case <-time.After(time.Second):
		t.Fatal("read error was not turned into a disconnect")
	}
	if err := sl.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestDisconnectedRearmed(t *testing.T) {
	base := NewBaseAdapter("test", nil)
	first := base.Disconnected()
	base.disconnect("a")
	base.disconnect("b")
	select {
	case <-first:
	default:
		t.Fatal("Disconnected() not closed")
	}
	base.newCycle()
	second := base.Disconnected()
	select {
	case <-second:
		t.Fatal("new cycle starts disconnected")
	default:
	}
}

func TestUSBWritesRawPayload(t *testing.T) {
	port := newFakePort()
	a, err := NewUSB(nil)
	if err != nil {
		t.Fatal(err)
	}
	u := a.(*USB)
	u.line.open = func(string, int) (io.ReadWriteCloser, error) { return port, nil }
	u.line.listPorts = func() ([]string, error) { return []string{"ttyACM0"}, nil }
	if err := u.Init(context.Background(), "ttyACM0", Bitrate500K); err != nil {
		t.Fatal(err)
	}
	if err := u.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer u.Stop()
	if err := u.Write(NewFrame(0x600, []byte{0x01, 0x02}, Outgoing)); err != nil {
		t.Fatal(err)
	}
	if got := port.Written(); got != "\x01\x02" {
		t.Errorf("Write() sent %q, want raw payload", got)
	}
	if err := u.Write(NewFrame(0x600, nil, Outgoing)); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("Write() of empty payload error = %v, want ErrEmptyPayload", err)
	}
	if got := port.Written(); got != "\x01\x02" {
		t.Errorf("empty Write() reached the port: %q", got)
	}
	frames := make(chan *CANFrame, 1)
	u.Subscribe(func(f *CANFrame) { frames <- f })
	port.rx <- []byte("t1001FF\r")
	select {
	case f := <-frames:
		if f.Identifier != 0x100 {
			t.Errorf("received %v", f)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame received")
	}
}
