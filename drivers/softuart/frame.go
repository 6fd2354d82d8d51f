package softuart

import (
	"sync/atomic"

	"softuart-go/x/shmring"
)

// RxFlags are per-word receive errors.
type RxFlags uint8

const (
	FramingError RxFlags = 1 << iota // stop bit sampled low
	ParityError                      // parity accumulator odd at the stop bit
)

// RxWord is one received word. Data is already masked to the data width.
type RxWord struct {
	Data  uint32
	Flags RxFlags
}

const (
	packDataMask   = 0x00FF_FFFF
	packParityBit  = 1 << 30
	packFramingBit = 1 << 31
)

// Pack returns the 32-bit host form: data in bits 0..23, parity error in
// bit 30, framing error in bit 31.
func (w RxWord) Pack() uint32 {
	v := w.Data & packDataMask
	if w.Flags&ParityError != 0 {
		v |= packParityBit
	}
	if w.Flags&FramingError != 0 {
		v |= packFramingBit
	}
	return v
}

// Unpack reverses Pack.
func Unpack(v uint32) RxWord {
	w := RxWord{Data: v & packDataMask}
	if v&packParityBit != 0 {
		w.Flags |= ParityError
	}
	if v&packFramingBit != 0 {
		w.Flags |= FramingError
	}
	return w
}

func (w RxWord) OK() bool { return w.Flags == 0 }

// Frame is the state shared by the receiver, the transmitter and the host
// driver. Each actor reaches it through its own view; the ring views carry
// the single-writer rule for the FIFO indices.
type Frame struct {
	cfg     atomic.Pointer[ChannelConfig]
	rx      *shmring.Ring[RxWord] // nil when receive is disabled
	tx      *shmring.Ring[uint32] // nil when transmit is disabled
	overrun atomic.Uint32
	txMark  atomic.Uint32 // TX push index at the last shutdown request
}

// setConfig is called by the host before an init request.
func (f *Frame) setConfig(c ChannelConfig) { f.cfg.Store(&c) }

// stop is the host's half of a shutdown. Each FIFO is emptied by its
// consumer only: the host drops unread RX words here, and the transmitter
// drops TX words up to txMark when it takes the shutdown request.
func (f *Frame) stop() {
	if f.rx != nil {
		f.rx.Consumer().Discard()
	}
	if f.tx != nil {
		push, _ := f.tx.Indices()
		f.txMark.Store(push)
	}
	f.overrun.Store(0)
}

// takeOverrun reads and clears the overrun flag in one step.
func (f *Frame) takeOverrun() bool { return f.overrun.Swap(0) != 0 }

func (f *Frame) rxSide() RXSide { return RXSide{f: f, fifo: f.rx.Producer()} }
func (f *Frame) txSide() TXSide { return TXSide{f: f, fifo: f.tx.Consumer()} }

// ---- receiver view ----

// RXSide is the receiver's access: RX FIFO producer and overrun setter.
type RXSide struct {
	f    *Frame
	fifo shmring.Producer[RxWord]
}

func (s RXSide) Config() ChannelConfig { return *s.f.cfg.Load() }

// Push stores w and returns the occupancy after the push. ok is false when
// the FIFO was full.
func (s RXSide) Push(w RxWord) (used int, ok bool) { return s.fifo.Push(w) }

func (s RXSide) Used() int   { return s.fifo.Used() }
func (s RXSide) SetOverrun() { s.f.overrun.Store(1) }

// ---- transmitter view ----

// TXSide is the transmitter's access: TX FIFO consumer.
type TXSide struct {
	f    *Frame
	fifo shmring.Consumer[uint32]
}

func (s TXSide) Config() ChannelConfig { return *s.f.cfg.Load() }
func (s TXSide) Empty() bool           { return s.fifo.Empty() }

// Pop removes the head word and returns the occupancy after the pop.
func (s TXSide) Pop() (w uint32, used int, ok bool) { return s.fifo.Pop() }

// Abandon drops the words the host queued before its shutdown request.
// Words queued since stay for the next init.
func (s TXSide) Abandon() int { return s.fifo.DiscardTo(s.f.txMark.Load()) }
