package canconf

import (
	"context"
)

// USB is the raw USB-serial variant: no channel commands, frames go out as
// bare payload bytes while the receive side speaks SLCAN records.
type USB struct {
	*BaseAdapter
	line *serialLine
}

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "USB",
		Description:        "raw USB-serial CAN interface",
		RequiresSerialPort: true,
		New:                NewUSB,
	}); err != nil {
		panic(err)
	}
}

func NewUSB(cfg *AdapterConfig) (Adapter, error) {
	base := NewBaseAdapter("USB", cfg)
	return &USB{
		BaseAdapter: base,
		line:        newSerialLine(base),
	}, nil
}

// Init opens the port, the bitrate is fixed by the device firmware.
func (u *USB) Init(ctx context.Context, port string, rate Bitrate) error {
	return u.line.init(port)
}

func (u *USB) Start(ctx context.Context) error {
	return u.line.start(ctx)
}

func (u *USB) Stop() error {
	return u.line.stop(nil)
}

func (u *USB) Write(frame *CANFrame) error {
	if len(frame.Data) > MaxPayload {
		return ErrPayloadTooLong
	}
	if len(frame.Data) == 0 {
		return ErrEmptyPayload
	}
	return u.line.write(frame.Data)
}

func (u *USB) Connected() bool {
	return u.line.connected()
}
