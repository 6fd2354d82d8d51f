package softuart

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"periph.io/x/conn/v3/physic"

	"softuart-go/bus"
	"softuart-go/drivers/softuart/timing"
	"softuart-go/errcode"
	"softuart-go/types"
	"softuart-go/x/shmring"
)

// Pins are the timer channels of one UART. RX or TX may be nil to run a
// single direction; RTS, CTS and TXE are optional.
type Pins struct {
	RX  timing.Channel
	TX  timing.Channel
	RTS timing.Channel // driven by the receiver: high = stop sending
	CTS timing.Channel // read by the transmitter: high = peer busy
	TXE timing.Channel // RS-485 driver enable, active high
}

func (p Pins) all() []timing.Channel {
	var out []timing.Channel
	for _, c := range []timing.Channel{p.RX, p.TX, p.RTS, p.CTS, p.TXE} {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

type Option func(*UART)

// WithArena allocates FIFOs from a instead of shmring.Default.
func WithArena(a *shmring.Arena) Option { return func(u *UART) { u.arena = a } }

// WithBus publishes interrupts and state on conn.
func WithBus(conn *bus.Connection) Option { return func(u *UART) { u.conn = conn } }

// UART is the host driver for one software UART.
//
// Lifecycle calls (Init, Shutdown, Release) are serialised internally.
// TransmitData and ReceiveData are lock-free; each must be called from a
// single goroutine at a time.
type UART struct {
	name  string
	pins  Pins
	arena *shmring.Arena
	conn  *bus.Connection
	stats Stats

	frame atomic.Pointer[Frame]

	mu      sync.Mutex
	rxh     shmring.Handle
	txh     shmring.Handle
	rx      *Receiver
	tx      *Transmitter
	cfg     Config
	running bool
}

func New(name string, pins Pins, opts ...Option) *UART {
	u := &UART{name: name, pins: pins, arena: shmring.Default}
	for _, o := range opts {
		o(u)
	}
	return u
}

func (u *UART) Name() string   { return u.name }
func (u *UART) Pins() Pins    { return u.pins }
func (u *UART) Stats() *Stats { return &u.stats }

// Config returns the configuration of the last successful Init.
func (u *UART) Config() Config {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cfg
}

// ChannelConfig returns the tick-level configuration in effect, if any.
func (u *UART) ChannelConfig() (ChannelConfig, bool) {
	f := u.frame.Load()
	if f == nil {
		return ChannelConfig{}, false
	}
	return *f.cfg.Load(), true
}

// ---- lifecycle ----

// Init configures the UART on timebase tb and starts the enabled
// directions. The first Init allocates the FIFOs; later calls reuse them and
// fail with errcode.SizeLocked if a FIFO size changes. Call Release to free
// the allocation.
func (u *UART) Init(tb timing.Timebase, cfg Config) error {
	if tb == nil {
		return invalid("no timebase")
	}
	rx, tx := u.pins.RX != nil, u.pins.TX != nil
	cc, err := cfg.channelConfig(tb.Rate(), rx, tx, u.pins.RTS != nil)
	if err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	f := u.frame.Load()
	if f == nil {
		if f, err = u.allocate(cfg, rx, tx); err != nil {
			return err
		}
	} else {
		if err := sizeLocked("rx", f.rx, cfg.RXSize); err != nil {
			return err
		}
		if err := sizeLocked("tx", f.tx, cfg.TXSize); err != nil {
			return err
		}
		f.stop()
		if u.running {
			u.request(ReqShutdown)
		}
	}

	f.setConfig(cc)
	for _, ch := range u.pins.all() {
		ch.Bind(tb)
	}
	u.request(ReqInit)
	u.cfg = cfg
	u.running = true
	u.publishState()
	return nil
}

func sizeLocked[T any](dir string, r *shmring.Ring[T], want int) error {
	if r == nil || r.Cap() == want {
		return nil
	}
	return &errcode.E{C: errcode.SizeLocked, Op: "init",
		Msg: dir + " fifo is " + strconv.Itoa(r.Cap()) + " slots, asked for " + strconv.Itoa(want)}
}

func (u *UART) allocate(cfg Config, rx, tx bool) (*Frame, error) {
	f := &Frame{}
	if rx {
		h, r, err := shmring.Alloc[RxWord](u.arena, cfg.RXSize)
		if err != nil {
			return nil, err
		}
		u.rxh, f.rx = h, r
	}
	if tx {
		h, r, err := shmring.Alloc[uint32](u.arena, cfg.TXSize)
		if err != nil {
			if u.rxh != 0 {
				u.arena.Release(u.rxh)
				u.rxh = 0
			}
			return nil, err
		}
		u.txh, f.tx = h, r
	}
	if rx {
		u.rx = NewReceiver(u.pins.RX, u.pins.RTS, f.rxSide(), u, &u.stats)
	}
	if tx {
		u.tx = NewTransmitter(u.pins.TX, u.pins.CTS, u.pins.TXE, f.txSide(), u, &u.stats)
	}
	u.frame.Store(f)
	return f, nil
}

func (u *UART) request(code uint8) {
	if u.pins.RX != nil {
		u.pins.RX.Request(code)
	}
	if u.pins.TX != nil && code != ReqUpdateRTS {
		u.pins.TX.Request(code)
	}
}

// Shutdown stops both directions, abandons words in flight, empties the
// FIFOs and clears the overrun flag. Pins return to idle: TX high, TXE low,
// RTS high. Unread RX words go at once; queued TX words go when the
// transmitter takes the request. Init restarts the UART with the same
// allocation.
func (u *UART) Shutdown() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	f := u.frame.Load()
	if f == nil {
		return &errcode.E{C: errcode.NotInitialised, Op: "shutdown", Msg: u.name}
	}
	f.stop()
	if u.running {
		u.request(ReqShutdown)
		u.running = false
	}
	u.publishState()
	return nil
}

// Release shuts the UART down and returns its FIFOs to the arena. The next
// Init allocates afresh.
func (u *UART) Release() {
	if err := u.Shutdown(); err != nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.rxh != 0 {
		u.arena.Release(u.rxh)
	}
	if u.txh != 0 {
		u.arena.Release(u.txh)
	}
	u.rxh, u.txh = 0, 0
	u.rx, u.tx = nil, nil
	u.frame.Store(nil)
}

// Running reports whether Init has started the engines.
func (u *UART) Running() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.running
}

// UpdateRTS asks the receiver to re-evaluate RTS against current occupancy.
func (u *UART) UpdateRTS() {
	if u.pins.RX != nil && u.pins.RTS != nil {
		u.pins.RX.Request(ReqUpdateRTS)
	}
}

// ---- data path ----

// TransmitData queues words for transmission without blocking. Words wider
// than the data width are truncated on the wire. It returns how many were
// accepted: at most the free FIFO space.
func (u *UART) TransmitData(words []uint32) int {
	f := u.frame.Load()
	if f == nil || f.tx == nil {
		return 0
	}
	return f.tx.Producer().WriteFrom(words)
}

// ReceiveData drains up to len(dst) received words, oldest first, then asks
// the receiver to re-evaluate RTS.
func (u *UART) ReceiveData(dst []RxWord) int {
	f := u.frame.Load()
	if f == nil || f.rx == nil {
		return 0
	}
	n := f.rx.Consumer().ReadInto(dst)
	if n > 0 {
		u.UpdateRTS()
	}
	return n
}

// ReceiveDataOverrun is ReceiveData plus a read-and-clear of the overrun
// flag.
func (u *UART) ReceiveDataOverrun(dst []RxWord) (int, bool) {
	n := u.ReceiveData(dst)
	f := u.frame.Load()
	if f == nil {
		return n, false
	}
	ov := f.takeOverrun()
	if ov && u.conn != nil {
		u.conn.Publish(u.conn.NewMessage(bus.T("softuart", u.name, "rx", "overrun"),
			types.SerialOverrun{Port: u.name}, false))
	}
	return n, ov
}

// Overrun reports the overrun flag without clearing it.
func (u *UART) Overrun() bool {
	f := u.frame.Load()
	return f != nil && f.overrun.Load() != 0
}

// RXFIFOStatus returns the RX FIFO slot count and occupancy.
func (u *UART) RXFIFOStatus() (size, used int) {
	f := u.frame.Load()
	if f == nil || f.rx == nil {
		return 0, 0
	}
	return f.rx.Cap(), f.rx.Used()
}

// TXFIFOStatus returns the TX FIFO slot count and occupancy.
func (u *UART) TXFIFOStatus() (size, used int) {
	f := u.frame.Load()
	if f == nil || f.tx == nil {
		return 0, 0
	}
	return f.tx.Cap(), f.tx.Used()
}

// ---- notifications ----

// Notify implements Notifier by publishing a types.SerialIRQ on
// softuart/<name>/<rx|tx>/irq.
func (u *UART) Notify(dir Direction, used int) {
	if u.conn == nil {
		return
	}
	u.conn.Publish(u.conn.NewMessage(IRQTopic(u.name, dir),
		types.SerialIRQ{Port: u.name, Dir: dir.String(), Used: used}, false))
}

// IRQTopic is where a port's threshold interrupts are published.
func IRQTopic(name string, dir Direction) bus.Topic {
	return bus.T("softuart", name, dir.String(), "irq")
}

// StateTopic carries a retained types.SerialState per port.
func StateTopic(name string) bus.Topic { return bus.T("softuart", name, "state") }

// StatsTopic takes requests answered with a StatsSnapshot.
func StatsTopic(name string) bus.Topic { return bus.T("softuart", name, "stats") }

// Serve answers requests on StatsTopic until ctx ends. It returns at once
// when the UART has no bus.
func (u *UART) Serve(ctx context.Context) {
	if u.conn == nil {
		return
	}
	sub := u.conn.Subscribe(StatsTopic(u.name))
	defer u.conn.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.Channel():
			if !ok {
				return
			}
			u.conn.Reply(m, u.stats.Snapshot(), false)
		}
	}
}

func (u *UART) publishState() {
	if u.conn == nil {
		return
	}
	st := types.SerialState{
		Port:     u.name,
		Running:  u.running,
		Baud:     uint32(u.cfg.Baud / physic.Hertz),
		DataBits: u.cfg.DataBits,
		Parity:   u.cfg.Parity,
	}
	if f := u.frame.Load(); f != nil {
		if f.rx != nil {
			st.RXSize = f.rx.Cap()
		}
		if f.tx != nil {
			st.TXSize = f.tx.Cap()
		}
	}
	u.conn.Publish(u.conn.NewMessage(StateTopic(u.name), st, true))
}
