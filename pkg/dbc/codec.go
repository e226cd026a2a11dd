package dbc

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrOutOfRange = errors.New("bit range outside payload")
	ErrZeroFactor = errors.New("factor is zero")
)

// CodecError reports a signal that could not be read from or written to a payload.
type CodecError struct {
	Signal      string
	StartBit    int
	Length      int
	PayloadBits int
	Err         error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("signal %s %d|%d in %d bit payload: %v", e.Signal, e.StartBit, e.Length, e.PayloadBits, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// Decode extracts the physical value of s from payload.
func Decode(payload []byte, s Signal) (float64, error) {
	raw, err := extract(payload, s)
	if err != nil {
		return 0, err
	}
	if s.Signed {
		return float64(signExtend(raw, s.Length))*s.Factor + s.Offset, nil
	}
	return float64(raw)*s.Factor + s.Offset, nil
}

// Encode writes value into payload using the layout of s. Bits outside the signal
// are left untouched.
func Encode(payload []byte, s Signal, value float64) error {
	if s.Factor == 0 {
		return &CodecError{Signal: s.Name, StartBit: s.StartBit, Length: s.Length, PayloadBits: len(payload) * 8, Err: ErrZeroFactor}
	}
	raw := int64(math.Round((value - s.Offset) / s.Factor))
	return insert(payload, s, uint64(raw)&mask(s.Length))
}

func outOfRange(payload []byte, s Signal) *CodecError {
	return &CodecError{Signal: s.Name, StartBit: s.StartBit, Length: s.Length, PayloadBits: len(payload) * 8, Err: ErrOutOfRange}
}

func checkRange(payload []byte, s Signal) error {
	bits := len(payload) * 8
	if s.Length <= 0 || s.Length > 64 || s.StartBit < 0 || s.StartBit >= bits {
		return outOfRange(payload, s)
	}
	if s.ByteOrder == LittleEndian && s.StartBit+s.Length > bits {
		return outOfRange(payload, s)
	}
	return nil
}

func extract(payload []byte, s Signal) (uint64, error) {
	if err := checkRange(payload, s); err != nil {
		return 0, err
	}
	var raw uint64
	if s.ByteOrder == LittleEndian {
		for i := 0; i < s.Length; i++ {
			pos := s.StartBit + i
			if payload[pos/8]&(1<<(pos%8)) != 0 {
				raw |= 1 << i
			}
		}
		return raw, nil
	}
	// Motorola: StartBit is the MSB, walk towards bit 0 of the byte then continue
	// at bit 7 of the following byte.
	pos := s.StartBit
	for i := 0; i < s.Length; i++ {
		if pos/8 >= len(payload) {
			return 0, outOfRange(payload, s)
		}
		if payload[pos/8]&(1<<(pos%8)) != 0 {
			raw |= 1 << (s.Length - 1 - i)
		}
		pos = nextMotorola(pos)
	}
	return raw, nil
}

func insert(payload []byte, s Signal, raw uint64) error {
	if err := checkRange(payload, s); err != nil {
		return err
	}
	if s.ByteOrder == LittleEndian {
		for i := 0; i < s.Length; i++ {
			setBit(payload, s.StartBit+i, raw&(1<<i) != 0)
		}
		return nil
	}
	// validate the whole walk before touching the payload
	pos := s.StartBit
	for i := 0; i < s.Length; i++ {
		if pos/8 >= len(payload) {
			return outOfRange(payload, s)
		}
		pos = nextMotorola(pos)
	}
	pos = s.StartBit
	for i := 0; i < s.Length; i++ {
		setBit(payload, pos, raw&(1<<(s.Length-1-i)) != 0)
		pos = nextMotorola(pos)
	}
	return nil
}

func nextMotorola(pos int) int {
	if pos%8 == 0 {
		return (pos/8+1)*8 + 7
	}
	return pos - 1
}

func setBit(payload []byte, pos int, on bool) {
	if on {
		payload[pos/8] |= 1 << (pos % 8)
	} else {
		payload[pos/8] &^= 1 << (pos % 8)
	}
}

func mask(length int) uint64 {
	if length >= 64 {
		return math.MaxUint64
	}
	return (1 << length) - 1
}

func signExtend(raw uint64, length int) int64 {
	if length >= 64 {
		return int64(raw)
	}
	if raw&(1<<(length-1)) == 0 {
		return int64(raw)
	}
	return int64(raw | ^mask(length))
}
