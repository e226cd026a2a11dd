package playback

import (
	"sync"
	"time"
)

// MinLoopPeriod is the shortest time one looped pass over a log takes, logs
// whose records share a single timestamp are spread out to it.
const MinLoopPeriod = 10 * time.Millisecond

type State int

const (
	Idle State = iota
	Playing
	Paused
	// Stopped means the last record was played without loop
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Player emits records at their offsets. The handler runs on the player's
// goroutine and must not call Pause or Reset.
type Player struct {
	mu      sync.Mutex
	name    string
	records []Record
	idx     int
	current time.Duration
	loop    bool
	state   State
	handler func(Record)

	stop chan struct{}
	done chan struct{}
}

func NewPlayer(l *Log) *Player {
	p := &Player{}
	if l != nil {
		p.name, p.records = l.Name, l.Records
	}
	return p
}

// Name is the base name of the loaded log file.
func (p *Player) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

func (p *Player) SetHandler(h func(Record)) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

func (p *Player) SetLoop(loop bool) {
	p.mu.Lock()
	p.loop = loop
	p.mu.Unlock()
}

func (p *Player) Loop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loop
}

func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Position returns the index of the next record, the record count and the
// offset of the last emitted record.
func (p *Player) Position() (index, total int, current time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idx, len(p.records), p.current
}

// Play starts or resumes emission. Resuming keeps the spacing of the
// remaining records by backdating the start time to the current record.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.records) == 0 {
		return ErrNoRecords
	}
	if p.state == Playing {
		return nil
	}
	if p.state == Stopped || p.idx >= len(p.records) {
		p.idx, p.current = 0, 0
	}
	start := time.Now().Add(-p.records[p.idx].Offset)
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.state = Playing
	go p.run(p.stop, p.done, start)
	return nil
}

// Pause stops emission and keeps the position. No record is emitted after
// Pause returns.
func (p *Player) Pause() {
	p.halt(Paused)
}

// Reset stops emission and rewinds to the first record.
func (p *Player) Reset() {
	p.halt(Idle)
	p.mu.Lock()
	p.idx, p.current = 0, 0
	p.mu.Unlock()
}

func (p *Player) halt(next State) {
	p.mu.Lock()
	if p.state != Playing {
		if next == Idle {
			p.state = Idle
		}
		p.mu.Unlock()
		return
	}
	close(p.stop)
	done := p.done
	p.state = next
	p.mu.Unlock()
	<-done
}

// Done is closed when the current run ends, by completion or by Pause/Reset.
func (p *Player) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.done
}

func (p *Player) run(stop <-chan struct{}, done chan<- struct{}, start time.Time) {
	defer close(done)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	for {
		p.mu.Lock()
		select {
		case <-stop:
			p.mu.Unlock()
			return
		default:
		}
		if p.idx >= len(p.records) {
			if !p.loop {
				p.state = Stopped
				p.mu.Unlock()
				return
			}
			p.idx, p.current = 0, 0
			start = time.Now()
			if last := p.records[len(p.records)-1].Offset; last < MinLoopPeriod {
				start = start.Add(MinLoopPeriod - last)
			}
		}
		rec := p.records[p.idx]
		p.mu.Unlock()

		if wait := time.Until(start.Add(rec.Offset)); wait > 0 {
			timer.Reset(wait)
			select {
			case <-stop:
				return
			case <-timer.C:
			}
		}

		p.mu.Lock()
		select {
		case <-stop:
			p.mu.Unlock()
			return
		default:
		}
		h := p.handler
		p.idx++
		p.current = rec.Offset
		p.mu.Unlock()
		if h != nil {
			h(rec)
		}
	}
}
