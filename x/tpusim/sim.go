// Package tpusim is a discrete-event stand-in for a timer co-processor: a
// base clock, prescaled timebases, wires between pins, and per-pin channels
// with edge capture and compare matches. Service routines run on the
// goroutine that drives the simulation, one trigger at a time.
package tpusim

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"softuart-go/drivers/softuart/timing"
	"softuart-go/x/timex"
)

type Sim struct {
	base physic.Frequency
	now  atomic.Uint64 // base clock ticks

	mu    sync.Mutex
	seq   uint64
	q     eventQueue
	nets  []*Net
	trace []Transition
	rec   bool
}

// New returns a simulation whose base clock runs at base.
func New(base physic.Frequency) *Sim {
	if base <= 0 {
		panic("tpusim: base clock must be positive")
	}
	return &Sim{base: base}
}

func (s *Sim) Base() physic.Frequency { return s.base }

// Now returns the base clock count.
func (s *Sim) Now() uint64 { return s.now.Load() }

// Elapsed converts the base clock count to simulated wall time.
func (s *Sim) Elapsed() time.Duration { return timex.Duration(s.Now(), s.base) }

// Pending returns the number of queued events.
func (s *Sim) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.q)
}

func (s *Sim) at(t uint64, fn func()) {
	s.mu.Lock()
	s.seq++
	s.q.push(&event{at: t, seq: s.seq, fn: fn})
	s.mu.Unlock()
}

// Schedule runs fn at base time t, or now if t has passed.
func (s *Sim) Schedule(t uint64, fn func()) {
	if now := s.Now(); t < now {
		t = now
	}
	s.at(t, fn)
}

// Step runs the earliest queued event. It reports false when idle.
func (s *Sim) Step() bool {
	s.mu.Lock()
	e := s.q.peek()
	if e == nil {
		s.mu.Unlock()
		return false
	}
	s.q.pop()
	s.mu.Unlock()
	if e.at > s.now.Load() {
		s.now.Store(e.at)
	}
	e.fn()
	return true
}

// RunTo runs every event up to and including base time end, then parks the
// clock at end.
func (s *Sim) RunTo(end uint64) {
	for {
		s.mu.Lock()
		e := s.q.peek()
		due := e != nil && e.at <= end
		s.mu.Unlock()
		if !due {
			break
		}
		s.Step()
	}
	if end > s.now.Load() {
		s.now.Store(end)
	}
}

// RunFor advances the clock by d base ticks.
func (s *Sim) RunFor(d uint64) { s.RunTo(s.Now() + d) }

// Advance advances the clock by simulated wall time d.
func (s *Sim) Advance(d time.Duration) { s.RunFor(timex.Ticks(d, s.base)) }

// RunUntil steps until done reports true or the clock passes limit base
// ticks from now. It reports whether done was satisfied.
func (s *Sim) RunUntil(done func() bool, limit uint64) bool {
	end := s.Now() + limit
	for !done() {
		s.mu.Lock()
		e := s.q.peek()
		due := e != nil && e.at <= end
		s.mu.Unlock()
		if !due {
			s.RunTo(end)
			return done()
		}
		s.Step()
	}
	return true
}

// RunRealtime paces the simulation against the wall clock until ctx ends.
// scale > 1 runs faster than real time.
func (s *Sim) RunRealtime(ctx context.Context, scale float64, tick time.Duration) {
	if scale <= 0 {
		scale = 1
	}
	if tick <= 0 {
		tick = time.Millisecond
	}
	start := time.Now()
	origin := s.Now()
	t := time.NewTimer(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		wall := time.Duration(float64(time.Since(start)) * scale)
		s.RunTo(origin + timex.Ticks(wall, s.base))
		timex.ResetTimer(t, tick)
	}
}

// ---- timebases ----

// Timebase is a free-running counter derived from the base clock.
type Timebase struct {
	s        *Sim
	name     string
	prescale uint64
}

// Timebase returns a counter ticking once every prescale base ticks.
func (s *Sim) Timebase(name string, prescale uint32) *Timebase {
	if prescale == 0 {
		prescale = 1
	}
	return &Timebase{s: s, name: name, prescale: uint64(prescale)}
}

func (tb *Timebase) Name() string { return tb.name }
func (tb *Timebase) Now() timing.Tick {
	return timing.Tick(tb.s.Now() / tb.prescale)
}
func (tb *Timebase) Rate() physic.Frequency {
	return tb.s.base / physic.Frequency(tb.prescale)
}

// BaseTime returns the base clock count at which the counter next reads at.
func (tb *Timebase) BaseTime(at timing.Tick) uint64 {
	now := tb.s.Now()
	cur := now / tb.prescale
	ahead := uint64(uint32(at - timing.Tick(cur)))
	t := (cur + ahead) * tb.prescale
	if t < now {
		t = now
	}
	return t
}

// ---- nets ----

// Net is a wire. Every channel created on it sees its level.
type Net struct {
	s     *Sim
	name  string
	level gpio.Level
	chans []*Channel
}

// Net creates a wire resting at idle.
func (s *Sim) Net(name string, idle gpio.Level) *Net {
	n := &Net{s: s, name: name, level: idle}
	s.mu.Lock()
	s.nets = append(s.nets, n)
	s.mu.Unlock()
	return n
}

func (n *Net) Name() string      { return n.name }
func (n *Net) Level() gpio.Level { return n.level }

// Drive sets the level now, from the simulation goroutine's point of view.
func (n *Net) Drive(l gpio.Level) { n.s.at(n.s.Now(), func() { n.set(l) }) }

// DriveAt sets the level at base time t.
func (n *Net) DriveAt(t uint64, l gpio.Level) { n.s.Schedule(t, func() { n.set(l) }) }

func (n *Net) set(l gpio.Level) {
	if l == n.level {
		return
	}
	prev := n.level
	n.level = l
	s := n.s
	s.mu.Lock()
	if s.rec {
		s.trace = append(s.trace, Transition{At: s.Now(), Net: n.name, Level: l})
	}
	s.mu.Unlock()
	for _, c := range n.chans {
		c.edge(prev, l)
	}
}
