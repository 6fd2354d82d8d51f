package tpusim

import (
	"periph.io/x/conn/v3/gpio"

	"softuart-go/drivers/softuart/timing"
)

// Channel is a timer channel on a net. It implements timing.Channel.
type Channel struct {
	s    *Sim
	name string
	net  *Net

	// guarded by s.mu
	tb       *Timebase
	svc      timing.ServiceFunc
	armed    gpio.Edge
	latched  bool
	matchGen uint64
	pending  bool
}

var _ timing.Channel = (*Channel)(nil)

// Channel attaches a new channel to n.
func (s *Sim) Channel(name string, n *Net) *Channel {
	c := &Channel{s: s, name: name, net: n, armed: gpio.NoEdge}
	n.chans = append(n.chans, c)
	return c
}

func (c *Channel) Name() string { return c.name }
func (c *Channel) Net() *Net    { return c.net }

func (c *Channel) Bind(tb timing.Timebase) {
	t, ok := tb.(*Timebase)
	if !ok || t.s != c.s {
		panic("tpusim: channel " + c.name + " bound to a foreign timebase")
	}
	c.s.mu.Lock()
	c.tb = t
	c.s.mu.Unlock()
}

func (c *Channel) Timebase() timing.Timebase {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.tb == nil {
		return nil
	}
	return c.tb
}

func (c *Channel) OnService(fn timing.ServiceFunc) {
	c.s.mu.Lock()
	c.svc = fn
	c.s.mu.Unlock()
}

func (c *Channel) Request(code uint8) {
	c.s.at(c.s.Now(), func() {
		c.deliver(timing.Trigger{Kind: timing.TrigHost, Code: code, Time: c.now(), Level: c.net.level})
	})
}

func (c *Channel) ArmEdge(e gpio.Edge) {
	c.s.mu.Lock()
	c.armed = e
	if e == gpio.NoEdge {
		c.latched = false
	}
	c.s.mu.Unlock()
}

func (c *Channel) Match(at timing.Tick, a timing.Action) {
	c.s.mu.Lock()
	tb := c.tb
	c.matchGen++
	gen := c.matchGen
	c.pending = true
	c.s.mu.Unlock()
	if tb == nil {
		panic("tpusim: match on unbound channel " + c.name)
	}
	c.s.Schedule(tb.BaseTime(at), func() { c.fire(gen, at, a) })
}

func (c *Channel) CancelMatch() {
	c.s.mu.Lock()
	c.matchGen++
	c.pending = false
	c.s.mu.Unlock()
}

// MatchPending reports whether a compare is scheduled.
func (c *Channel) MatchPending() bool {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.pending
}

func (c *Channel) Out(l gpio.Level) { c.net.set(l) }
func (c *Channel) Read() gpio.Level { return c.net.level }

func (c *Channel) now() timing.Tick {
	c.s.mu.Lock()
	tb := c.tb
	c.s.mu.Unlock()
	if tb == nil {
		return 0
	}
	return tb.Now()
}

func (c *Channel) fire(gen uint64, at timing.Tick, a timing.Action) {
	c.s.mu.Lock()
	live := gen == c.matchGen
	if live {
		c.pending = false
	}
	c.s.mu.Unlock()
	if !live {
		return
	}
	switch a {
	case timing.DriveLow:
		c.net.set(gpio.Low)
	case timing.DriveHigh:
		c.net.set(gpio.High)
	}
	c.deliver(timing.Trigger{Kind: timing.TrigMatch, Time: at, Level: c.net.level})
}

// edge runs inside a net transition. A capture is latched once and
// delivered after the current event completes.
func (c *Channel) edge(prev, cur gpio.Level) {
	c.s.mu.Lock()
	hit := !c.latched && edgeMatches(c.armed, prev, cur)
	if hit {
		c.latched = true
	}
	c.s.mu.Unlock()
	if !hit {
		return
	}
	t := c.now()
	c.s.at(c.s.Now(), func() {
		c.s.mu.Lock()
		still := c.latched
		c.latched = false
		c.s.mu.Unlock()
		if still {
			c.deliver(timing.Trigger{Kind: timing.TrigEdge, Time: t, Level: cur})
		}
	})
}

func edgeMatches(e gpio.Edge, prev, cur gpio.Level) bool {
	switch e {
	case gpio.FallingEdge:
		return prev == gpio.High && cur == gpio.Low
	case gpio.RisingEdge:
		return prev == gpio.Low && cur == gpio.High
	case gpio.BothEdges:
		return prev != cur
	}
	return false
}

func (c *Channel) deliver(tr timing.Trigger) {
	c.s.mu.Lock()
	fn := c.svc
	c.s.mu.Unlock()
	if fn != nil {
		fn(tr)
	}
}
