package softuart

import (
	"periph.io/x/conn/v3/gpio"

	"softuart-go/drivers/softuart/timing"
)

type txState uint8

const (
	txDisabled txState = iota
	txIdle             // next match is a FIFO check
	txArmed            // start bit scheduled
	txEmitting         // data, parity and stop bits
)

// Transmitter polls the TX FIFO once per stop period and shifts words out
// LSB first. It honours CTS and brackets bursts with the RS-485 enable.
type Transmitter struct {
	ch    timing.Channel
	cts   timing.Channel // nil without flow control
	txe   timing.Channel // nil without RS-485 enable
	side  TXSide
	note  Notifier
	stats *Stats

	state txState
	cfg   ChannelConfig

	shift     uint32
	parity    uint8
	running   int8
	txeActive bool
}

func NewTransmitter(ch, cts, txe timing.Channel, side TXSide, note Notifier, stats *Stats) *Transmitter {
	t := &Transmitter{ch: ch, cts: cts, txe: txe, side: side, note: note, stats: stats}
	ch.OnService(t.service)
	return t
}

func (t *Transmitter) service(tr timing.Trigger) {
	ev, ok := Decode(tr)
	if !ok {
		t.stats.Unexpected.Add(1)
		return
	}
	t.state = t.handle(ev, t.state)
}

func (t *Transmitter) handle(ev Event, s txState) txState {
	switch ev.Kind {
	case EvInit:
		t.init()
		return txIdle
	case EvShutdown:
		t.shutdown()
		return txDisabled
	case EvMatch:
		switch s {
		case txIdle:
			return t.check(ev.Time)
		case txArmed, txEmitting:
			return t.bit(ev.Time)
		}
	}
	t.stats.Unexpected.Add(1)
	return s
}

func (t *Transmitter) init() {
	t.cfg = t.side.Config()
	t.txeActive = false
	if t.txe != nil {
		t.txe.CancelMatch()
		t.txe.Out(gpio.Low)
	}
	t.ch.Out(gpio.High)
	t.ch.Match(t.ch.Timebase().Now()+t.cfg.StopTime, timing.NoChange)
}

func (t *Transmitter) shutdown() {
	t.side.Abandon()
	t.ch.CancelMatch()
	t.ch.Out(gpio.High)
	if t.txe != nil {
		t.txe.CancelMatch()
		t.txe.Out(gpio.Low)
	}
	t.txeActive = false
}

// check runs at the start of each idle stop period. When a word is ready
// and the peer is not busy it schedules the start bit for the end of the
// period.
func (t *Transmitter) check(now timing.Tick) txState {
	next := now + t.cfg.StopTime
	if t.side.Empty() {
		t.finishEnable(next)
		t.ch.Match(next, timing.NoChange)
		return txIdle
	}
	if t.cts != nil && t.cts.Read() == gpio.High {
		t.stats.CTSHolds.Add(1)
		t.finishEnable(next)
		t.ch.Match(next, timing.NoChange)
		return txIdle
	}
	if t.txe != nil {
		// A deassert still pending keeps the window open.
		t.txe.CancelMatch()
		if !t.txeActive && t.txe.Read() == gpio.Low {
			t.stats.TXEWindows.Add(1)
		}
		t.txe.Out(gpio.High)
		t.txeActive = true
	}

	w, used, _ := t.side.Pop()
	t.shift = w
	t.parity = t.cfg.Parity.Seed()
	t.running = int8(t.cfg.Bits)
	t.ch.Match(next, timing.DriveLow)
	t.stats.TXWords.Add(1)
	if used == t.cfg.TXIRQ {
		t.stats.TXIRQs.Add(1)
		t.note.Notify(DirTX, used)
	}
	return txArmed
}

// bit runs as each bit starts and schedules the level of the following one.
func (t *Transmitter) bit(now timing.Tick) txState {
	var level gpio.Level
	state := txEmitting
	switch {
	case t.running > 0:
		if t.shift&1 != 0 {
			level = gpio.High
			t.parity++
		}
	case t.running == 0 && t.cfg.Parity.Enabled():
		level = t.parity&1 != 0
	default:
		level = gpio.High
		state = txIdle
	}
	t.running--
	t.shift >>= 1
	t.ch.Match(now+t.cfg.BitTime, timing.ActionFor(level))
	return state
}

// finishEnable closes an open RS-485 window post-delay ticks after next,
// the end of the current stop period.
func (t *Transmitter) finishEnable(next timing.Tick) {
	if !t.txeActive {
		return
	}
	t.txeActive = false
	t.txe.Match(next+t.cfg.TXEDelay, timing.DriveLow)
}
