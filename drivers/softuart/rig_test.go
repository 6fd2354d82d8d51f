package softuart

import (
	"testing"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"softuart-go/bus"
	"softuart-go/types"
	"softuart-go/x/shmring"
	"softuart-go/x/tpusim"
)

// Tick arithmetic in the tests relies on a 100-tick bit.
const (
	testTimer = 10 * physic.MegaHertz
	testBaud  = 100 * physic.KiloHertz
	testBit   = 100
)

type rigOpts struct {
	rts      bool // RTS pin on its own net
	cts      bool // CTS pin on its own net
	loopFlow bool // CTS reads the RTS net
	txe      bool
	noTX     bool
	conn     *bus.Connection
	arena    *shmring.Arena
}

type rig struct {
	t    *testing.T
	sim  *tpusim.Sim
	tb   *tpusim.Timebase
	line *tpusim.Net
	rts  *tpusim.Net
	cts  *tpusim.Net
	txe  *tpusim.Net
	u    *UART
}

func testConfig() Config {
	c := DefaultConfig()
	c.Baud = testBaud
	c.RXSize = 32
	c.TXSize = 32
	c.RTSHalt = 24
	c.RTSResume = 8
	return c
}

func newRig(t *testing.T, o rigOpts) *rig {
	t.Helper()
	s := tpusim.New(testTimer)
	r := &rig{t: t, sim: s, tb: s.Timebase("tcr1", 1), line: s.Net("line", gpio.High)}
	s.Record(true)

	pins := Pins{RX: s.Channel("rx", r.line)}
	if !o.noTX {
		pins.TX = s.Channel("tx", r.line)
	}
	if o.rts || o.loopFlow {
		r.rts = s.Net("rts", gpio.High)
		pins.RTS = s.Channel("rts", r.rts)
	}
	switch {
	case o.loopFlow:
		pins.CTS = s.Channel("cts", r.rts)
	case o.cts:
		r.cts = s.Net("cts", gpio.Low)
		pins.CTS = s.Channel("cts", r.cts)
	}
	if o.txe {
		r.txe = s.Net("txe", gpio.Low)
		pins.TXE = s.Channel("txe", r.txe)
	}
	var opts []Option
	if o.arena != nil {
		opts = append(opts, WithArena(o.arena))
	}
	if o.conn != nil {
		opts = append(opts, WithBus(o.conn))
	}
	r.u = New("uart0", pins, opts...)
	return r
}

func (r *rig) init(c Config) {
	r.t.Helper()
	if err := r.u.Init(r.tb, c); err != nil {
		r.t.Fatalf("init: %v", err)
	}
	r.sim.RunFor(1)
}

// waitRX runs until n words are in the RX FIFO.
func (r *rig) waitRX(n int) {
	r.t.Helper()
	ok := r.sim.RunUntil(func() bool {
		_, used := r.u.RXFIFOStatus()
		return used >= n
	}, uint64(n+4)*30*testBit)
	if !ok {
		_, used := r.u.RXFIFOStatus()
		r.t.Fatalf("timed out waiting for %d words, have %d", n, used)
	}
}

func (r *rig) drain() []RxWord {
	out := make([]RxWord, 0, 64)
	buf := make([]RxWord, 8)
	for {
		n := r.u.ReceiveData(buf)
		if n == 0 {
			return out
		}
		out = append(out, buf[:n]...)
	}
}

// ---- hand-built waveforms ----

// frameLevels returns start, data LSB first, optional parity, stop.
func frameLevels(data uint32, bits int, p types.Parity, badParity bool, stop gpio.Level) []gpio.Level {
	lv := []gpio.Level{gpio.Low}
	ones := 0
	for i := 0; i < bits; i++ {
		b := data>>i&1 != 0
		if b {
			ones++
		}
		lv = append(lv, gpio.Level(b))
	}
	if p.Enabled() {
		bit := ones%2 == 1 // even parity bit
		if p == types.ParityOdd {
			bit = !bit
		}
		if badParity {
			bit = !bit
		}
		lv = append(lv, gpio.Level(bit))
	}
	return append(lv, stop)
}

// sendLevels drives levels one bit apart from base time at, then returns the
// line to idle. It returns the time the line is idle again.
func (r *rig) sendLevels(at uint64, lv []gpio.Level) uint64 {
	for i, l := range lv {
		r.line.DriveAt(at+uint64(i)*testBit, l)
	}
	end := at + uint64(len(lv))*testBit
	r.line.DriveAt(end, gpio.High)
	return end + testBit
}

func levelAt(tr []tpusim.Transition, idle gpio.Level, t uint64) gpio.Level {
	l := idle
	for _, x := range tr {
		if x.At > t {
			break
		}
		l = x.Level
	}
	return l
}
