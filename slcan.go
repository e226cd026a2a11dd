package canconf

import (
	"encoding/hex"
	"fmt"
	"strconv"
)

// slcan records longer than this without a CR are garbage
const maxSLCANRecord = 64

// helper converts a 0..15 value to its ASCII hex nibble
func nybbleToHex(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'A' + (n - 10)
}

// AppendSLCAN appends the SLCAN transmit record for frame to dst:
// 't' + 3 hex id + 1 hex length + 2 hex per payload byte + CR.
func AppendSLCAN(dst []byte, frame *CANFrame) ([]byte, error) {
	if frame.Extended || frame.Identifier > 0x7FF {
		return dst, ErrExtendedID
	}
	if len(frame.Data) > MaxPayload {
		return dst, ErrPayloadTooLong
	}
	id := frame.Identifier
	dst = append(dst, 't',
		nybbleToHex(byte(id>>8)&0xF),
		nybbleToHex(byte(id>>4)&0xF),
		nybbleToHex(byte(id)&0xF),
		nybbleToHex(byte(len(frame.Data))),
	)
	for _, b := range frame.Data {
		dst = append(dst, nybbleToHex(b>>4), nybbleToHex(b&0xF))
	}
	return append(dst, '\r'), nil
}

// EncodeSLCAN returns the SLCAN transmit record for frame.
func EncodeSLCAN(frame *CANFrame) ([]byte, error) {
	return AppendSLCAN(make([]byte, 0, 5+2*len(frame.Data)+1), frame)
}

// slcanParser reassembles CR terminated records from a byte stream.
type slcanParser struct {
	buf []byte
	// onFrame receives every structurally valid 't' record
	onFrame func(*CANFrame)
	// onDiag receives malformed and non frame records
	onDiag func(error)
}

// Feed consumes raw bytes and returns the number of frames decoded.
func (p *slcanParser) Feed(data []byte) int {
	var frames int
	for _, b := range data {
		switch b {
		case '\r':
			if len(p.buf) == 0 {
				continue
			}
			if p.record(p.buf) {
				frames++
			}
			p.buf = p.buf[:0]
		case '\n':
		case 0x07:
			// BELL, the dongle refused the last command
			p.diag(&FramingError{Record: "\\a", Reason: "command rejected"})
		default:
			if len(p.buf) >= maxSLCANRecord {
				p.diag(&FramingError{Record: string(p.buf), Reason: "missing terminator"})
				p.buf = p.buf[:0]
			}
			p.buf = append(p.buf, b)
		}
	}
	return frames
}

func (p *slcanParser) record(rec []byte) bool {
	if rec[0] != 't' {
		switch rec[0] {
		case 'z', 'Z':
			// transmit ack
		default:
			p.diag(&FramingError{Record: string(rec), Reason: "not a frame record"})
		}
		return false
	}
	f, err := decodeSLCAN(rec)
	if err != nil {
		p.diag(err)
		return false
	}
	if p.onFrame != nil {
		p.onFrame(f)
	}
	return true
}

func (p *slcanParser) diag(err error) {
	if p.onDiag != nil {
		p.onDiag(err)
	}
}

func decodeSLCAN(rec []byte) (*CANFrame, error) {
	if len(rec) < 5 {
		return nil, &FramingError{Record: string(rec), Reason: "too short"}
	}
	id, err := strconv.ParseUint(string(rec[1:4]), 16, 32)
	if err != nil {
		return nil, &FramingError{Record: string(rec), Reason: fmt.Sprintf("bad identifier: %v", err)}
	}
	dataLen, err := strconv.ParseUint(string(rec[4:5]), 16, 8)
	if err != nil {
		return nil, &FramingError{Record: string(rec), Reason: fmt.Sprintf("bad length: %v", err)}
	}
	if dataLen > MaxPayload {
		return nil, &FramingError{Record: string(rec), Reason: fmt.Sprintf("invalid data length: %d", dataLen)}
	}
	end := 5 + int(dataLen)*2
	if len(rec) < end {
		// dongles may drop the payload, the record still proves the bus is alive
		return NewFrame(uint32(id), nil, Incoming), nil
	}
	data, err := hex.DecodeString(string(rec[5:end]))
	if err != nil {
		return nil, &FramingError{Record: string(rec), Reason: fmt.Sprintf("bad payload: %v", err)}
	}
	return NewFrame(uint32(id), data, Incoming), nil
}
