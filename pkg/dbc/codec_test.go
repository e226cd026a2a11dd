package dbc

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"go.einride.tech/can"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		signal  Signal
		want    float64
	}{
		{
			name:    "little endian 16 bit scaled",
			payload: []byte{0xE8, 0x03},
			signal:  Signal{StartBit: 0, Length: 16, Factor: 0.1},
			want:    100,
		},
		{
			name:    "little endian crossing byte boundary",
			payload: []byte{0xF0, 0x0A},
			signal:  Signal{StartBit: 4, Length: 8, Factor: 1},
			want:    0xAF,
		},
		{
			name:    "little endian signed negative with offset",
			payload: []byte{0xFF},
			signal:  Signal{StartBit: 0, Length: 8, Signed: true, Factor: 0.5, Offset: 10},
			want:    9.5,
		},
		{
			name:    "little endian signed positive",
			payload: []byte{0x7F},
			signal:  Signal{StartBit: 0, Length: 8, Signed: true, Factor: 1},
			want:    127,
		},
		{
			name:    "big endian 16 bit",
			payload: []byte{0x12, 0x34},
			signal:  Signal{StartBit: 7, Length: 16, ByteOrder: BigEndian, Factor: 1},
			want:    0x1234,
		},
		{
			name:    "big endian nibble",
			payload: []byte{0xA5},
			signal:  Signal{StartBit: 3, Length: 4, ByteOrder: BigEndian, Factor: 1},
			want:    5,
		},
		{
			name:    "big endian crossing byte boundary",
			payload: []byte{0x0A, 0xB0},
			signal:  Signal{StartBit: 3, Length: 8, ByteOrder: BigEndian, Factor: 1},
			want:    0xAB,
		},
		{
			name:    "big endian signed",
			payload: []byte{0xFF, 0xFE},
			signal:  Signal{StartBit: 7, Length: 16, ByteOrder: BigEndian, Signed: true, Factor: 1},
			want:    -2,
		},
		{
			name:    "single bit",
			payload: []byte{0x00, 0x04},
			signal:  Signal{StartBit: 10, Length: 1, Factor: 1},
			want:    1,
		},
		{
			name:    "full 64 bit unsigned",
			payload: []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
			signal:  Signal{StartBit: 0, Length: 64, Signed: true, Factor: 1},
			want:    -1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.payload, tt.signal)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Decode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodeOutOfRange(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		signal  Signal
	}{
		{"little endian past end", []byte{0x00, 0x00}, Signal{Name: "a", StartBit: 8, Length: 16, Factor: 1}},
		{"start beyond payload", []byte{0x00}, Signal{Name: "b", StartBit: 8, Length: 1, Factor: 1}},
		{"big endian past end", []byte{0x00}, Signal{Name: "c", StartBit: 7, Length: 16, ByteOrder: BigEndian, Factor: 1}},
		{"zero length", []byte{0x00}, Signal{Name: "d", StartBit: 0, Length: 0, Factor: 1}},
		{"empty payload", nil, Signal{Name: "e", StartBit: 0, Length: 1, Factor: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.payload, tt.signal)
			if !errors.Is(err, ErrOutOfRange) {
				t.Fatalf("Decode() error = %v, want ErrOutOfRange", err)
			}
			var cerr *CodecError
			if !errors.As(err, &cerr) || cerr.Signal != tt.signal.Name {
				t.Errorf("Decode() error = %#v, want *CodecError for %s", err, tt.signal.Name)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	factors := []float64{1, 0.1, 0.25, 2, -0.5, 0.001}
	offsets := []float64{0, -40, 100.5}
	for i := 0; i < 2000; i++ {
		length := 1 + rnd.Intn(32)
		seq := rnd.Intn(64 - length + 1)
		s := Signal{
			Name:   "rt",
			Length: length,
			Signed: rnd.Intn(2) == 1,
			Factor: factors[rnd.Intn(len(factors))],
			Offset: offsets[rnd.Intn(len(offsets))],
		}
		if rnd.Intn(2) == 1 {
			s.ByteOrder = BigEndian
			s.StartBit = (seq/8)*8 + 7 - seq%8
		} else {
			s.StartBit = seq
		}
		var raw int64
		if s.Signed {
			raw = rnd.Int63n(int64(1)<<length) - int64(1)<<(length-1)
		} else {
			raw = rnd.Int63n(int64(1) << length)
		}
		value := float64(raw)*s.Factor + s.Offset

		payload := make([]byte, 8)
		rnd.Read(payload)
		if err := Encode(payload, s, value); err != nil {
			t.Fatalf("Encode(%v, %v) error = %v", s, value, err)
		}
		got, err := Decode(payload, s)
		if err != nil {
			t.Fatalf("Decode(%v) error = %v", s, err)
		}
		if math.Abs(got-value) > math.Abs(s.Factor)*1e-6 {
			t.Fatalf("round trip %v: got %v, want %v", s, got, value)
		}
	}
}

func TestEncodeLeavesOtherBits(t *testing.T) {
	payload := []byte{0xFF, 0xFF}
	s := Signal{StartBit: 4, Length: 8, Factor: 1}
	if err := Encode(payload, s, 0); err != nil {
		t.Fatal(err)
	}
	if payload[0] != 0x0F || payload[1] != 0xF0 {
		t.Errorf("payload = % X, want 0F F0", payload)
	}
}

func TestEncodeZeroFactor(t *testing.T) {
	err := Encode(make([]byte, 8), Signal{Length: 8}, 1)
	if !errors.Is(err, ErrZeroFactor) {
		t.Errorf("Encode() error = %v, want ErrZeroFactor", err)
	}
}

// little endian layouts must agree bit for bit with einride's can.Data
func TestDecodeMatchesEinrideLittleEndian(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		length := uint8(1 + rnd.Intn(32))
		start := uint8(rnd.Intn(64 - int(length) + 1))
		var data can.Data
		rnd.Read(data[:])
		want := data.UnsignedBitsLittleEndian(start, length)
		got, err := Decode(data[:], Signal{StartBit: int(start), Length: int(length), Factor: 1})
		if err != nil {
			t.Fatal(err)
		}
		if uint64(got) != want {
			t.Fatalf("start %d length %d: got %d, want %d", start, length, uint64(got), want)
		}
	}
}
