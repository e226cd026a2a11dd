package canconf

import (
	"fmt"
	"strconv"
	"strings"
)

// Bitrate is a CAN bus speed in bits per second.
type Bitrate int

const (
	Bitrate125K  Bitrate = 125_000
	Bitrate250K  Bitrate = 250_000
	Bitrate500K  Bitrate = 500_000
	Bitrate1000K Bitrate = 1_000_000
)

var slcanRates = []Bitrate{Bitrate125K, Bitrate250K, Bitrate500K, Bitrate1000K}

// ParseBitrate accepts "500K", "500k", "500" (kbit/s) or "500000".
func ParseBitrate(s string) (Bitrate, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	mult := 1
	switch {
	case strings.HasSuffix(v, "K"):
		v, mult = strings.TrimSuffix(v, "K"), 1000
	case strings.HasSuffix(v, "M"):
		v, mult = strings.TrimSuffix(v, "M"), 1_000_000
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedBitrate, s)
	}
	if mult == 1 && n <= 1000 {
		mult = 1000
	}
	b := Bitrate(n * mult)
	if _, err := b.SLCANIndex(); err != nil {
		return 0, err
	}
	return b, nil
}

// SLCANIndex returns n for the S<n> command.
func (b Bitrate) SLCANIndex() (int, error) {
	for i, r := range slcanRates {
		if r == b {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %d", ErrUnsupportedBitrate, int(b))
}

func (b Bitrate) String() string {
	if b%1000 == 0 {
		return strconv.Itoa(int(b)/1000) + "K"
	}
	return strconv.Itoa(int(b))
}
