// Package selftest runs the software UART against the timer simulator in
// the same scenarios the board bring-up uses: IRQ-driven loopback, forced
// overrun, RTS/CTS flow control and RS-485 enable timing.
package selftest

import (
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"softuart-go/bus"
	"softuart-go/drivers/softuart"
	"softuart-go/x/tpusim"
)

type Options struct {
	Name     string
	Timer    physic.Frequency // simulated timer clock
	Prescale uint32           // timebase divider, 1 = full rate
	Flow     bool             // loop RTS back into CTS
	RS485    bool             // drive a TXE pin
	Record   bool             // keep a waveform trace
}

func DefaultOptions() Options {
	return Options{Name: "uart0", Timer: 10 * physic.MegaHertz, Prescale: 1}
}

// Bench is one UART wired TX->RX on a simulated board.
type Bench struct {
	Sim  *tpusim.Sim
	TB   *tpusim.Timebase
	UART *softuart.UART
	Bus  *bus.Bus

	Line *tpusim.Net
	RTS  *tpusim.Net // nil without flow control
	TXE  *tpusim.Net // nil without RS-485

	conn *bus.Connection
	opts Options
}

func NewBench(o Options) *Bench {
	if o.Name == "" {
		o.Name = "uart0"
	}
	if o.Timer <= 0 {
		o.Timer = 10 * physic.MegaHertz
	}
	s := tpusim.New(o.Timer)
	s.Record(o.Record)
	b := &Bench{Sim: s, TB: s.Timebase("tcr", o.Prescale), Bus: bus.NewBus(64), opts: o}
	b.conn = b.Bus.NewConnection("selftest")
	b.Line = s.Net("line", gpio.High)

	pins := softuart.Pins{RX: s.Channel("rx", b.Line), TX: s.Channel("tx", b.Line)}
	if o.Flow {
		b.RTS = s.Net("rts", gpio.High)
		pins.RTS = s.Channel("rts", b.RTS)
		pins.CTS = s.Channel("cts", b.RTS)
	}
	if o.RS485 {
		b.TXE = s.Net("txe", gpio.Low)
		pins.TXE = s.Channel("txe", b.TXE)
	}
	b.UART = softuart.New(o.Name, pins, softuart.WithBus(b.conn))
	return b
}

// Conn is the bench's bus connection.
func (b *Bench) Conn() *bus.Connection { return b.conn }

// frame returns one word time in base clock ticks.
func (b *Bench) frame() uint64 {
	cc, _ := b.UART.ChannelConfig()
	p := uint64(b.opts.Prescale)
	if p == 0 {
		p = 1
	}
	return uint64(cc.FrameTicks()) * p
}

// Report is the outcome of one scenario.
type Report struct {
	Scenario string
	Pass     bool
	Sent     int
	Received int
	Errors   int // words with framing or parity flags
	Mismatch int // words whose data differs from what was sent
	Overrun  bool
	SimTime  time.Duration
	Stats    softuart.StatsSnapshot
	Notes    []string
}

func (r *Report) note(s string) { r.Notes = append(r.Notes, s) }

func (b *Bench) finish(r *Report) Report {
	r.SimTime = b.Sim.Elapsed()
	r.Stats = b.UART.Stats().Snapshot()
	return *r
}

// pattern is a deterministic word sequence masked to the data width.
func pattern(n int, bits uint8) []uint32 {
	mask := uint32(1)<<bits - 1
	out := make([]uint32, n)
	x := uint32(0x2F6B)
	for i := range out {
		x = x*1103515245 + 12345
		out[i] = (x >> 8) & mask
	}
	return out
}

func compare(r *Report, sent []uint32, got []softuart.RxWord) {
	for i, w := range got {
		if !w.OK() {
			r.Errors++
		}
		if i < len(sent) && w.Data != sent[i] {
			r.Mismatch++
		}
	}
}
