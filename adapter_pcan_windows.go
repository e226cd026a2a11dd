//go:build pcan

package canconf

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"syscall"
	"time"

	"github.com/roffe/gopcan"
)

func cString(b []byte) string {
	for i, v := range b {
		if v == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func init() {
	channels, err := gopcan.GetAttachedChannelsCount()
	if err != nil {
		log.Println(err)
		return
	}
	for _, channel := range channels {
		name := cString(channel.DeviceName[:])
		ch := channel.ChannelHandle
		if err := RegisterAdapter(&AdapterInfo{
			Name:               name,
			Description:        "PEAK-System CAN adapter for Windows",
			RequiresSerialPort: false,
			New: func(cfg *AdapterConfig) (Adapter, error) {
				return NewPCAN(name, &peakDriver{ch: ch}, cfg), nil
			},
		}); err != nil {
			panic(err)
		}
	}
}

// peakDriver binds VendorDriver to PCANBasic through gopcan.
type peakDriver struct {
	ch gopcan.TPCANHandle

	mu      sync.Mutex
	rxEvent *gopcan.ReceiveEvent
}

func (d *peakDriver) Open(_ string, rate Bitrate) error {
	baud, err := pcanRate(rate)
	if err != nil {
		return err
	}
	if err := gopcan.CAN_Initialize(d.ch, baud); err != nil {
		return err
	}
	ev, err := gopcan.SetReceiveEvent(d.ch)
	if err != nil {
		gopcan.CAN_Uninitialize(d.ch)
		return fmt.Errorf("SetReceiveEvent failed: %w", err)
	}
	d.mu.Lock()
	d.rxEvent = ev
	d.mu.Unlock()
	return nil
}

func (d *peakDriver) Close() error {
	d.mu.Lock()
	ev := d.rxEvent
	d.rxEvent = nil
	d.mu.Unlock()
	if ev != nil {
		ev.ClearReceiveEvent(d.ch)
	}
	return gopcan.CAN_Uninitialize(d.ch)
}

func (d *peakDriver) Read(timeout time.Duration) (VendorMessage, error) {
	var msg gopcan.TPCANMsg
	var timestamp gopcan.TPCANTimestamp
	err := gopcan.CAN_Read(d.ch, &msg, &timestamp)
	if isQueueEmpty(err) {
		d.mu.Lock()
		ev := d.rxEvent
		d.mu.Unlock()
		if ev == nil {
			return VendorMessage{}, ErrNotInitialized
		}
		if err := ev.Wait(uint32(timeout.Milliseconds())); err != nil {
			if err == syscall.ETIMEDOUT {
				return VendorMessage{}, ErrQueueEmpty
			}
			return VendorMessage{}, fmt.Errorf("wait failed: %w", err)
		}
		err = gopcan.CAN_Read(d.ch, &msg, &timestamp)
	}
	if isQueueEmpty(err) {
		return VendorMessage{}, ErrQueueEmpty
	}
	if err != nil {
		return VendorMessage{}, err
	}
	return VendorMessage{
		ID:       uint32(msg.ID),
		Extended: msg.MSGTYPE&gopcan.PCAN_MESSAGE_EXTENDED != 0,
		Len:      uint8(msg.LEN),
		Data:     msg.DATA,
	}, nil
}

func (d *peakDriver) Write(m VendorMessage) error {
	msg := gopcan.TPCANMsg{
		ID:   m.ID,
		LEN:  m.Len,
		DATA: m.Data,
	}
	if m.Extended {
		msg.MSGTYPE = gopcan.PCAN_MESSAGE_EXTENDED
	}
	return gopcan.CAN_Write(d.ch, &msg)
}

// Active is false once the driver reports the hardware handle as gone,
// bus errors still count as an attached device.
func (d *peakDriver) Active() bool {
	_, err := gopcan.CAN_GetStatus(d.ch)
	if err == nil {
		return true
	}
	var pe gopcan.PCANError
	if errors.As(err, &pe) {
		return pe.Code&gopcan.PCAN_ERROR_ILLHW == 0
	}
	return false
}

func isQueueEmpty(err error) bool {
	var pe gopcan.PCANError
	return errors.As(err, &pe) && pe.Code == gopcan.PCAN_ERROR_QRCVEMPTY
}

func pcanRate(rate Bitrate) (gopcan.TPCANBaudrate, error) {
	switch rate {
	case Bitrate1000K:
		return gopcan.PCAN_BAUD_1M, nil
	case Bitrate500K:
		return gopcan.PCAN_BAUD_500K, nil
	case Bitrate250K:
		return gopcan.PCAN_BAUD_250K, nil
	case Bitrate125K:
		return gopcan.PCAN_BAUD_125K, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedBitrate, rate)
	}
}
