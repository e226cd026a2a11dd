// Package dispatch sends device configuration requests with at most one
// request in flight per channel, retrying on timeout.
package dispatch

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/roffe/canconf"
)

const (
	DefaultTimeout  = 500 * time.Millisecond
	DefaultAttempts = 3
)

var (
	ErrAlreadyPending  = errors.New("request already pending")
	ErrRetriesExceeded = errors.New("no response after retries")
	ErrNoFrame         = errors.New("request without frame")
)

// Key identifies one request/response channel of a device.
type Key struct {
	BaseID uint32
	Prefix uint8
	Index  uint8
}

func (k Key) String() string {
	return fmt.Sprintf("base=0x%03X prefix=0x%02X index=%d", k.BaseID, k.Prefix, k.Index)
}

type Request struct {
	Key         Key
	Frame       *canconf.CANFrame
	Description string
}

// Result is reported once per queued request, Err is nil on acknowledgment.
type Result struct {
	Request Request
	Device  string
	Sends   int
	Err     error
}

// Transmitter puts frames on the bus, the adapter manager in practice.
type Transmitter interface {
	Write(*canconf.CANFrame) error
}

// Describer names devices for result reporting.
type Describer interface {
	DeviceName(baseID uint32) string
}

// ResponseMatcher maps an inbound frame to the key it acknowledges.
type ResponseMatcher interface {
	Match(frame *canconf.CANFrame) (Key, bool)
}

// PrefixIndexMatcher reads a response as id = base + Offset with the prefix
// and index carried in the given payload bytes.
type PrefixIndexMatcher struct {
	Offset     uint32
	PrefixByte int
	IndexByte  int
}

func (m PrefixIndexMatcher) Match(frame *canconf.CANFrame) (Key, bool) {
	if frame.Identifier < m.Offset || m.PrefixByte < 0 || m.IndexByte < 0 {
		return Key{}, false
	}
	if len(frame.Data) <= max(m.PrefixByte, m.IndexByte) {
		return Key{}, false
	}
	return Key{
		BaseID: frame.Identifier - m.Offset,
		Prefix: frame.Data[m.PrefixByte],
		Index:  frame.Data[m.IndexByte],
	}, true
}

type pending struct {
	mu      sync.Mutex
	req     Request
	sends   int
	expired int // timeouts seen so far
	timer   *time.Timer
	done    bool
}

type Dispatcher struct {
	tx        Transmitter
	timeout   time.Duration
	attempts  int
	matcher   ResponseMatcher
	describer Describer
	onResult  func(Result)

	// Key -> *pending
	pending sync.Map
}

type Option func(*Dispatcher)

func WithTimeout(d time.Duration) Option {
	return func(s *Dispatcher) { s.timeout = d }
}

// WithAttempts sets how many sends a request gets before it fails.
func WithAttempts(n int) Option {
	return func(s *Dispatcher) { s.attempts = n }
}

func WithMatcher(m ResponseMatcher) Option {
	return func(s *Dispatcher) { s.matcher = m }
}

func WithDescriber(d Describer) Option {
	return func(s *Dispatcher) { s.describer = d }
}

func WithResultHandler(fn func(Result)) Option {
	return func(s *Dispatcher) { s.onResult = fn }
}

func New(tx Transmitter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		tx:       tx,
		timeout:  DefaultTimeout,
		attempts: DefaultAttempts,
		matcher:  PrefixIndexMatcher{PrefixByte: 0, IndexByte: 1},
	}
	for _, o := range opts {
		o(d)
	}
	if d.attempts < 1 {
		d.attempts = 1
	}
	return d
}

// Queue transmits req and arms its timeout. A request whose key is already
// in flight is rejected with ErrAlreadyPending and nothing is sent.
func (d *Dispatcher) Queue(req Request) error {
	if req.Frame == nil {
		return ErrNoFrame
	}
	p := &pending{req: req}
	// held until the timer is armed so Ack and expire see a complete entry
	p.mu.Lock()
	if _, loaded := d.pending.LoadOrStore(req.Key, p); loaded {
		p.mu.Unlock()
		log.Printf("message already in queue: %s %s", req.Description, req.Key)
		return fmt.Errorf("%w: %s", ErrAlreadyPending, req.Key)
	}
	p.sends++
	sends := p.sends
	p.timer = time.AfterFunc(d.timeout, func() { d.expire(p) })
	p.mu.Unlock()
	// the answer may be delivered from inside Write and ack p
	d.send(p.req, sends)
	return nil
}

// QueueAll queues every request and joins the rejections.
func (d *Dispatcher) QueueAll(reqs []Request) error {
	var errs []error
	for _, r := range reqs {
		if err := d.Queue(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// send must not be called with an entry lock held. Transmit failures are
// logged and left to the retry timer.
func (d *Dispatcher) send(req Request, attempt int) {
	if err := d.tx.Write(req.Frame); err != nil {
		log.Printf("send %s (%s) attempt %d: %v", req.Description, req.Key, attempt, err)
	}
}

func (d *Dispatcher) expire(p *pending) {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.expired++
	if p.expired >= d.attempts {
		p.done = true
		d.pending.CompareAndDelete(p.req.Key, p)
		sends := p.sends
		p.mu.Unlock()
		d.report(Result{Request: p.req, Sends: sends, Err: ErrRetriesExceeded})
		return
	}
	p.sends++
	sends := p.sends
	p.timer.Reset(d.timeout)
	p.mu.Unlock()
	d.send(p.req, sends)
}

// Ack retires the pending request for key and cancels its timer. It
// returns false when nothing was pending.
func (d *Dispatcher) Ack(key Key) bool {
	v, ok := d.pending.Load(key)
	if !ok {
		return false
	}
	p := v.(*pending)
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return false
	}
	p.done = true
	p.timer.Stop()
	d.pending.CompareAndDelete(key, p)
	sends := p.sends
	p.mu.Unlock()
	d.report(Result{Request: p.req, Sends: sends})
	return true
}

// HandleFrame acks the request an inbound frame answers. It is a
// canconf.FrameHandler.
func (d *Dispatcher) HandleFrame(frame *canconf.CANFrame) {
	if d.matcher == nil {
		return
	}
	if key, ok := d.matcher.Match(frame); ok {
		d.Ack(key)
	}
}

func (d *Dispatcher) IsPending(key Key) bool {
	_, ok := d.pending.Load(key)
	return ok
}

// Pending returns the number of requests in flight.
func (d *Dispatcher) Pending() int {
	var n int
	d.pending.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Cancel drops every pending request without reporting.
func (d *Dispatcher) Cancel() {
	d.pending.Range(func(k, v any) bool {
		p := v.(*pending)
		p.mu.Lock()
		if !p.done {
			p.done = true
			p.timer.Stop()
			d.pending.CompareAndDelete(k, p)
		}
		p.mu.Unlock()
		return true
	})
}

func (d *Dispatcher) report(r Result) {
	if d.describer != nil {
		r.Device = d.describer.DeviceName(r.Request.Key.BaseID)
	} else {
		r.Device = "Unknown"
	}
	if r.Err != nil {
		log.Printf("message failed after %d attempts: %s on %s (ID: 0x%03X)", r.Sends, r.Request.Description, r.Device, r.Request.Key.BaseID)
	}
	if d.onResult != nil {
		d.onResult(r)
	}
}
