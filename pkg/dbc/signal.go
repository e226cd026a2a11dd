// Package dbc holds CAN signal layouts, the codec that turns raw payload bits into
// physical values, and a forgiving parser for the BO_/SG_ subset of the DBC format.
package dbc

import "fmt"

// ByteOrder of a signal inside its message.
type ByteOrder int

const (
	LittleEndian ByteOrder = iota // Intel, "@1" in DBC
	BigEndian                     // Motorola, "@0" in DBC
)

func (b ByteOrder) String() string {
	switch b {
	case LittleEndian:
		return "little"
	case BigEndian:
		return "big"
	default:
		return "unknown"
	}
}

// MarshalText lets layouts declared in config files use "little"/"big".
func (b ByteOrder) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *ByteOrder) UnmarshalText(text []byte) error {
	switch string(text) {
	case "little", "intel", "1", "":
		*b = LittleEndian
	case "big", "motorola", "0":
		*b = BigEndian
	default:
		return fmt.Errorf("unknown byte order %q", text)
	}
	return nil
}

// Signal describes where a named physical quantity lives inside a CAN message.
// Unit, Min and Max are informational and do not affect decoding.
type Signal struct {
	Name      string    `yaml:"name" json:"name"`
	MessageID uint32    `yaml:"id" json:"id"`
	StartBit  int       `yaml:"start_bit" json:"startBit"`
	Length    int       `yaml:"length" json:"length"`
	ByteOrder ByteOrder `yaml:"byte_order" json:"byteOrder"`
	Signed    bool      `yaml:"signed" json:"isSigned"`
	Factor    float64   `yaml:"factor" json:"factor"`
	Offset    float64   `yaml:"offset" json:"offset"`
	Unit      string    `yaml:"unit" json:"unit"`
	Min       float64   `yaml:"min" json:"min"`
	Max       float64   `yaml:"max" json:"max"`
}

func (s Signal) String() string {
	sign := '+'
	if s.Signed {
		sign = '-'
	}
	order := '1'
	if s.ByteOrder == BigEndian {
		order = '0'
	}
	return fmt.Sprintf("0x%03X %s %d|%d@%c%c (%g,%g) [%g|%g] %q",
		s.MessageID, s.Name, s.StartBit, s.Length, order, sign, s.Factor, s.Offset, s.Min, s.Max, s.Unit)
}
