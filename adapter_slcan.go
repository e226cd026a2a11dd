package canconf

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

type SLCAN struct {
	*BaseAdapter
	line *serialLine

	mu     sync.Mutex
	rate   Bitrate
	outBuf []byte
}

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "SLCAN",
		Description:        "SLCAN USB-serial CAN dongle",
		RequiresSerialPort: true,
		New:                NewSLCAN,
	}); err != nil {
		panic(err)
	}
}

func NewSLCAN(cfg *AdapterConfig) (Adapter, error) {
	base := NewBaseAdapter("SLCAN", cfg)
	return &SLCAN{
		BaseAdapter: base,
		line:        newSerialLine(base),
		outBuf:      make([]byte, 0, 32),
	}, nil
}

func (sl *SLCAN) Init(ctx context.Context, port string, rate Bitrate) error {
	if _, err := rate.SLCANIndex(); err != nil {
		return err
	}
	if err := sl.line.init(port); err != nil {
		return err
	}
	sl.mu.Lock()
	sl.rate = rate
	sl.mu.Unlock()
	return nil
}

// Start closes any open channel, sets the bitrate and opens the channel
// before the reader begins.
func (sl *SLCAN) Start(ctx context.Context) error {
	sl.mu.Lock()
	idx, err := sl.rate.SLCANIndex()
	sl.mu.Unlock()
	if err != nil {
		return ErrNotInitialized
	}
	for _, cmd := range []string{"C\r", fmt.Sprintf("S%d\r", idx), "O\r"} {
		sl.Debug(">> " + cmd[:len(cmd)-1])
		if err := sl.line.write([]byte(cmd)); err != nil {
			return err
		}
		time.Sleep(10 * time.Millisecond)
	}
	return sl.line.start(ctx)
}

func (sl *SLCAN) Stop() error {
	return sl.line.stop(func(w io.Writer) {
		if _, err := w.Write([]byte("C\r")); err != nil {
			sl.Debug("close channel: " + err.Error())
		}
	})
}

func (sl *SLCAN) Write(frame *CANFrame) error {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	buf, err := AppendSLCAN(sl.outBuf[:0], frame)
	if err != nil {
		return err
	}
	// keep the grown buffer for the next frame
	sl.outBuf = buf
	if err := sl.line.write(buf); err != nil {
		return err
	}
	sl.Debug(">> " + string(buf[:len(buf)-1]))
	return nil
}

func (sl *SLCAN) Connected() bool {
	return sl.line.connected()
}
