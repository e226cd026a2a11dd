// Package playback replays a recorded CAN log against wall clock time.
package playback

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the timestamp format of the log's first column.
const TimestampLayout = "2006-01-02 15:04:05.000"

var ErrNoRecords = errors.New("no valid CAN records in log")

type Direction int

const (
	Rx Direction = iota
	Tx
)

func (d Direction) String() string {
	if d == Tx {
		return "Tx"
	}
	return "Rx"
}

func parseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "rx":
		return Rx, nil
	case "tx":
		return Tx, nil
	}
	return Rx, fmt.Errorf("unknown direction %q", s)
}

// Record is one logged frame, Offset is relative to the first record.
type Record struct {
	ID        uint32
	Data      []byte
	Offset    time.Duration
	Direction Direction
}

func (r Record) String() string {
	return fmt.Sprintf("%10s %s 0x%03X [%d] % X", r.Offset, r.Direction, r.ID, len(r.Data), r.Data)
}

// Logf receives diagnostics for skipped rows.
type Logf func(format string, args ...any)

// Log is a loaded recording.
type Log struct {
	Name    string
	Records []Record
}

// Load reads a log file.
func Load(path string, logf Logf) (*Log, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	records, err := LoadReader(f, logf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Log{Name: filepath.Base(path), Records: records}, nil
}

// LoadReader parses rows of timestamp,direction,id,length,bytes. The first
// row is a header. Rows that do not parse are skipped.
func LoadReader(r io.Reader, logf Logf) ([]Record, error) {
	if logf == nil {
		logf = log.Printf
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	var (
		out   []Record
		first time.Time
		row   int
	)
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			logf("playback: row %d: %v", row, err)
			continue
		}
		if row == 1 {
			continue
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}
		rec, ts, err := parseRow(fields)
		if err != nil {
			logf("playback: skipping row %d: %v", row, err)
			continue
		}
		if len(out) == 0 {
			first = ts
		}
		rec.Offset = ts.Sub(first)
		out = append(out, rec)
	}
	if len(out) == 0 {
		return nil, ErrNoRecords
	}
	return out, nil
}

func parseRow(fields []string) (Record, time.Time, error) {
	if len(fields) < 5 {
		return Record{}, time.Time{}, fmt.Errorf("expected 5 fields, got %d", len(fields))
	}
	ts, err := time.Parse(TimestampLayout, strings.TrimSpace(fields[0]))
	if err != nil {
		return Record{}, time.Time{}, err
	}
	dir, err := parseDirection(strings.TrimSpace(fields[1]))
	if err != nil {
		return Record{}, time.Time{}, err
	}
	id, err := parseHex(fields[2], 29)
	if err != nil {
		return Record{}, time.Time{}, fmt.Errorf("id: %w", err)
	}
	length, err := strconv.ParseUint(strings.TrimSpace(fields[3]), 10, 8)
	if err != nil {
		return Record{}, time.Time{}, fmt.Errorf("length: %w", err)
	}
	if length > 8 {
		return Record{}, time.Time{}, fmt.Errorf("length %d exceeds 8", length)
	}
	data := make([]byte, length)
	for i, tok := range strings.Fields(fields[4]) {
		if i >= int(length) {
			break
		}
		b, err := parseHex(tok, 8)
		if err != nil {
			return Record{}, time.Time{}, fmt.Errorf("byte %d: %w", i, err)
		}
		data[i] = byte(b)
	}
	return Record{ID: uint32(id), Data: data, Direction: dir}, ts, nil
}

func parseHex(s string, bits int) (uint64, error) {
	s = strings.TrimSpace(s)
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	return strconv.ParseUint(s, 16, bits)
}
