package softuart

import (
	"periph.io/x/conn/v3/gpio"

	"softuart-go/drivers/softuart/timing"
)

type rxState uint8

const (
	rxDisabled rxState = iota
	rxWaitStart
	rxSampling
)

// Receiver turns a start edge and a train of mid-bit samples into words on
// the RX FIFO. It also drives RTS from FIFO occupancy.
type Receiver struct {
	ch    timing.Channel
	rts   timing.Channel // nil without flow control
	side  RXSide
	note  Notifier
	stats *Stats

	state rxState
	cfg   ChannelConfig

	shift   uint32
	weight  uint32
	parity  uint8
	running int8
	rtsHigh bool
}

// NewReceiver binds a receiver to its data channel and installs its service
// routine.
func NewReceiver(ch, rts timing.Channel, side RXSide, note Notifier, stats *Stats) *Receiver {
	r := &Receiver{ch: ch, rts: rts, side: side, note: note, stats: stats}
	ch.OnService(r.service)
	return r
}

func (r *Receiver) service(tr timing.Trigger) {
	ev, ok := Decode(tr)
	if !ok {
		r.stats.Unexpected.Add(1)
		return
	}
	r.state = r.handle(ev, r.state)
}

func (r *Receiver) handle(ev Event, s rxState) rxState {
	switch ev.Kind {
	case EvInit:
		r.init()
		return rxWaitStart
	case EvShutdown:
		r.shutdown()
		return rxDisabled
	case EvUpdateRTS:
		// A stopped receiver holds RTS high and drops the request
		// without counting it.
		if s != rxDisabled {
			r.updateRTS(r.side.Used())
		}
		return s
	case EvEdge:
		if s == rxWaitStart {
			r.detectWord(ev.Time)
			return rxSampling
		}
	case EvMatch:
		if s == rxSampling {
			if r.detectBit(ev) {
				return rxWaitStart
			}
			return rxSampling
		}
	}
	r.stats.Unexpected.Add(1)
	return s
}

func (r *Receiver) init() {
	r.cfg = r.side.Config()
	r.ch.CancelMatch()
	r.ch.ArmEdge(gpio.FallingEdge)
	if r.rts != nil {
		r.rts.Out(gpio.Low)
		r.rtsHigh = false
	}
}

func (r *Receiver) shutdown() {
	r.ch.ArmEdge(gpio.NoEdge)
	r.ch.CancelMatch()
	if r.rts != nil {
		r.rts.Out(gpio.High)
		r.rtsHigh = true
	}
}

// detectWord starts a word at the captured start edge. The first sample
// lands in the middle of data bit 0.
func (r *Receiver) detectWord(edge timing.Tick) {
	r.ch.ArmEdge(gpio.NoEdge)
	r.shift = 0
	r.weight = 1
	r.parity = 0
	r.running = int8(r.cfg.Bits)
	if r.cfg.Parity.Enabled() {
		r.parity = r.cfg.Parity.Seed()
		r.running++
	}
	bit := r.cfg.BitTime
	r.ch.Match(edge+bit+bit>>1, timing.NoChange)
}

// detectBit consumes one sample. It reports true once the stop bit has been
// sampled and the word handed off.
func (r *Receiver) detectBit(ev Event) bool {
	if r.running > 0 {
		r.running--
		if ev.Level == gpio.High {
			r.shift |= r.weight
			r.parity++
		}
		r.weight <<= 1
		r.ch.Match(ev.Time+r.cfg.BitTime, timing.NoChange)
		return false
	}

	var flags RxFlags
	if ev.Level == gpio.Low {
		flags |= FramingError
		r.stats.RXFraming.Add(1)
	}
	if r.cfg.Parity.Enabled() && r.parity&1 != 0 {
		flags |= ParityError
		r.stats.RXParity.Add(1)
	}
	r.ch.ArmEdge(gpio.FallingEdge)

	used, ok := r.side.Push(RxWord{Data: r.shift & r.cfg.DataMask(), Flags: flags})
	if !ok {
		r.side.SetOverrun()
		r.stats.RXOverruns.Add(1)
		return true
	}
	r.stats.RXWords.Add(1)
	if used == r.cfg.RXIRQ {
		r.stats.RXIRQs.Add(1)
		r.note.Notify(DirRX, used)
	}
	r.updateRTS(used)
	return true
}

// updateRTS applies the halt/resume hysteresis. Between the thresholds the
// line keeps its level.
func (r *Receiver) updateRTS(used int) {
	if r.rts == nil {
		return
	}
	switch {
	case used >= r.cfg.RTSHalt:
		r.setRTS(true)
	case used <= r.cfg.RTSResume:
		r.setRTS(false)
	}
}

func (r *Receiver) setRTS(high bool) {
	if high == r.rtsHigh {
		return
	}
	r.rtsHigh = high
	r.stats.RTSChanges.Add(1)
	if high {
		r.rts.Out(gpio.High)
	} else {
		r.rts.Out(gpio.Low)
	}
}
