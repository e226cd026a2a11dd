package canconf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"go.einride.tech/can"
)

// MaxPayload is the classic CAN payload limit.
const MaxPayload = 8

type FrameType int

const (
	Incoming FrameType = iota
	Outgoing
)

func (t FrameType) String() string {
	if t == Outgoing {
		return "Tx"
	}
	return "Rx"
}

// CANFrame is treated as immutable once constructed.
type CANFrame struct {
	Identifier uint32
	Extended   bool
	Data       []byte
	FrameType  FrameType
}

// NewFrame creates a new CANFrame and copies the data slice. Payloads longer
// than 8 bytes are truncated.
func NewFrame(identifier uint32, data []byte, frameType FrameType) *CANFrame {
	n := min(len(data), MaxPayload)
	d := make([]byte, n)
	copy(d, data[:n])
	return &CANFrame{
		Identifier: identifier,
		Extended:   identifier > 0x7FF,
		Data:       d,
		FrameType:  frameType,
	}
}

// Returns the length of the data (DLC)
func (f *CANFrame) DLC() int {
	return len(f.Data)
}

// Frame converts to the einride representation used by SocketCAN.
func (f *CANFrame) Frame() can.Frame {
	out := can.Frame{
		ID:         f.Identifier,
		Length:     uint8(min(len(f.Data), MaxPayload)),
		IsExtended: f.Extended,
	}
	copy(out.Data[:], f.Data)
	return out
}

// FromFrame builds a CANFrame from an einride frame.
func FromFrame(frame can.Frame, frameType FrameType) *CANFrame {
	length := min(int(frame.Length), MaxPayload)
	f := NewFrame(frame.ID, frame.Data[:length], frameType)
	f.Extended = frame.IsExtended
	return f
}

var (
	yellow = color.New(color.FgHiBlue).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
)

func (f *CANFrame) hexView() string {
	var hexView strings.Builder
	for i, b := range f.Data {
		hexView.WriteString(fmt.Sprintf("%02X", b))
		if i != len(f.Data)-1 {
			hexView.WriteString(" ")
		}
	}
	return hexView.String()
}

func (f *CANFrame) binView() string {
	var binView strings.Builder
	for i, b := range f.Data {
		binView.WriteString(fmt.Sprintf("%08b", b))
		if i != len(f.Data)-1 {
			binView.WriteString(" ")
		}
	}
	return binView.String()
}

func (f *CANFrame) String() string {
	var out strings.Builder
	out.WriteString("<" + f.FrameType.String() + "> || ")
	out.WriteString(fmt.Sprintf("0x%03X", f.Identifier) + " || ")
	out.WriteString(strconv.Itoa(len(f.Data)) + " || ")
	out.WriteString(fmt.Sprintf("%-23s", f.hexView()))
	out.WriteString(" || ")
	out.WriteString(fmt.Sprintf("%-71s", f.binView()))
	out.WriteString(" || ")
	out.WriteString(onlyPrintable(f.Data))
	return out.String()
}

func (f *CANFrame) ColorString() string {
	var out strings.Builder
	out.WriteString("<" + f.FrameType.String() + "> || ")
	out.WriteString(green("0x%03X", f.Identifier) + " || ")
	out.WriteString(strconv.Itoa(len(f.Data)) + " || ")
	out.WriteString(fmt.Sprintf("%-23s", f.hexView()))
	out.WriteString(" || ")
	out.WriteString(red("%-71s", f.binView()))
	out.WriteString(" || ")
	out.WriteString(yellow("%s", onlyPrintable(f.Data)))
	return out.String()
}

func onlyPrintable(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		if b < 32 || b > 126 {
			out.WriteString("·")
		} else {
			out.WriteByte(b)
		}
	}
	return out.String()
}
