package dbc

import (
	"bufio"
	"io"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Logf receives parser diagnostics.
type Logf func(format string, args ...any)

var (
	bitSpecRe = regexp.MustCompile(`^(\d+)\|(\d+)@([01])([+-])$`)
	scaleRe   = regexp.MustCompile(`\(\s*([^,()\s]+)\s*,\s*([^,()\s]+)\s*\)`)
	rangeRe   = regexp.MustCompile(`\[\s*([^|\]\s]+)\s*\|\s*([^|\]\s]+)\s*\]`)
	unitRe    = regexp.MustCompile(`"([^"]*)"`)
	muxRe     = regexp.MustCompile(`^(M|m\d+M?)$`)
)

// extended identifiers carry bit 31 in DBC files
const dbcExtendedFlag = 0x80000000

// ParseFile reads a DBC file. A missing or unreadable file yields no signals.
func ParseFile(path string, logf Logf) []Signal {
	if logf == nil {
		logf = log.Printf
	}
	if path == "" {
		logf("dbc: empty file path")
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		logf("dbc: %v", err)
		return nil
	}
	defer f.Close()
	signals := Parse(f, logf)
	logf("dbc: parsed %d signals from %s", len(signals), path)
	return signals
}

// Parse turns BO_/SG_ lines into signal layouts. It never fails; lines it cannot
// understand are reported through logf and skipped.
func Parse(r io.Reader, logf Logf) []Signal {
	if logf == nil {
		logf = log.Printf
	}
	var (
		out        []Signal
		msgID      uint32
		hasMessage bool
		lineNo     int
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "BO_ "):
			id, err := parseMessageLine(line)
			if err != nil {
				logf("dbc: line %d: bad message definition %q: %v", lineNo, line, err)
				hasMessage = false
				continue
			}
			msgID, hasMessage = id, true
		case strings.HasPrefix(line, "SG_ "):
			if !hasMessage {
				logf("dbc: line %d: signal without message: %q", lineNo, line)
				continue
			}
			sig, ok := parseSignalLine(line)
			if !ok {
				logf("dbc: line %d: bad signal definition %q", lineNo, line)
				continue
			}
			sig.MessageID = msgID
			out = append(out, sig)
		}
	}
	if err := sc.Err(); err != nil {
		logf("dbc: read error after line %d: %v", lineNo, err)
	}
	return out
}

// BO_ <id> <name>: <size> <node>
func parseMessageLine(line string) (uint32, error) {
	fields := strings.FieldsFunc(line, func(r rune) bool { return r == ' ' || r == '\t' || r == ':' })
	if len(fields) < 3 {
		return 0, strconv.ErrSyntax
	}
	id, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(id) &^ dbcExtendedFlag, nil
}

// SG_ <name> [mux] : <start>|<len>@<order><sign> (<factor>,<offset>) [<min>|<max>] "<unit>" <receivers>
func parseSignalLine(line string) (Signal, bool) {
	head, body, found := strings.Cut(line, ":")
	if !found {
		return Signal{}, false
	}
	names := strings.Fields(strings.TrimPrefix(head, "SG_"))
	if len(names) == 0 || len(names) > 2 {
		return Signal{}, false
	}
	if len(names) == 2 && !muxRe.MatchString(names[1]) {
		return Signal{}, false
	}
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return Signal{}, false
	}
	m := bitSpecRe.FindStringSubmatch(fields[0])
	if m == nil {
		return Signal{}, false
	}
	start, err := strconv.Atoi(m[1])
	if err != nil {
		return Signal{}, false
	}
	length, err := strconv.Atoi(m[2])
	if err != nil {
		return Signal{}, false
	}
	sig := Signal{
		Name:      names[0],
		StartBit:  start,
		Length:    length,
		ByteOrder: LittleEndian,
		Signed:    m[4] == "-",
		Factor:    1,
	}
	if m[3] == "0" {
		sig.ByteOrder = BigEndian
	}

	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(body), fields[0]))
	if sm := scaleRe.FindStringSubmatch(rest); sm != nil {
		factor, ferr := strconv.ParseFloat(sm[1], 64)
		offset, oerr := strconv.ParseFloat(sm[2], 64)
		if ferr == nil && oerr == nil {
			sig.Factor, sig.Offset = factor, offset
		}
	}
	if rm := rangeRe.FindStringSubmatch(rest); rm != nil {
		sig.Min, _ = strconv.ParseFloat(rm[1], 64)
		sig.Max, _ = strconv.ParseFloat(rm[2], 64)
	}
	if um := unitRe.FindStringSubmatch(rest); um != nil {
		sig.Unit = um[1]
	}
	return sig, true
}
