package softuart

import (
	"math"
	"strconv"

	"periph.io/x/conn/v3/physic"

	"softuart-go/drivers/softuart/timing"
	"softuart-go/errcode"
	"softuart-go/types"
	"softuart-go/x/mathx"
	"softuart-go/x/timex"
)

// MaxDataBits is the widest word the engines frame.
const MaxDataBits = 23

// Config is the host-facing channel setup.
type Config struct {
	Baud     physic.Frequency // bit rate
	DataBits uint8            // 1..23
	Parity   types.Parity

	// StopHalfBits is the stop period in half bit times (2 = one stop bit,
	// 3 = one and a half). It is also the idle spacing between words.
	StopHalfBits uint32

	// FIFO slot counts. A FIFO of n slots holds n-1 words. Sizes are fixed
	// for the life of an allocation.
	RXSize int
	TXSize int

	// Interrupt thresholds: the host is notified when RX occupancy reaches
	// RXIRQ after a push, or TX occupancy falls to TXIRQ after a pop.
	RXIRQ int
	TXIRQ int

	// RTS hysteresis on RX occupancy: high at or above RTSHalt, low at or
	// below RTSResume. Only used when an RTS pin is configured.
	RTSHalt   int
	RTSResume int

	// TXEHalfBits is how long the RS-485 enable stays asserted after the
	// end of the last stop period, in half bit times.
	TXEHalfBits uint32
}

// DefaultConfig is 115200 8N1 with 64-slot FIFOs.
func DefaultConfig() Config {
	return Config{
		Baud:         115200 * physic.Hertz,
		DataBits:     8,
		Parity:       types.ParityNone,
		StopHalfBits: 2,
		RXSize:       64,
		TXSize:       64,
		RXIRQ:        1,
		TXIRQ:        0,
		RTSHalt:      48,
		RTSResume:    16,
		TXEHalfBits:  2,
	}
}

// ChannelConfig is what the engines run from. It is fixed once an engine
// has taken its init request.
type ChannelConfig struct {
	Bits      uint8
	Parity    types.Parity
	BitTime   timing.Tick
	StopTime  timing.Tick
	RTSHalt   int
	RTSResume int
	RXIRQ     int
	TXIRQ     int
	TXEDelay  timing.Tick
}

// DataMask has the low Bits bits set.
func (c ChannelConfig) DataMask() uint32 { return 1<<c.Bits - 1 }

// FrameTicks is the length of one word on the wire: start, data, parity
// and the stop period.
func (c ChannelConfig) FrameTicks() timing.Tick {
	n := timing.Tick(1 + c.Bits)
	if c.Parity.Enabled() {
		n++
	}
	return n*c.BitTime + c.StopTime
}

func invalid(msg string) error {
	return &errcode.E{C: errcode.InvalidParams, Op: "init", Msg: msg}
}

// channelConfig validates c against the timebase rate and derives the
// tick-level configuration.
func (c Config) channelConfig(rate physic.Frequency, rx, tx, rts bool) (ChannelConfig, error) {
	if !rx && !tx {
		return ChannelConfig{}, &errcode.E{C: errcode.NoDirection, Op: "init", Msg: "neither rx nor tx pin configured"}
	}
	if !mathx.Between(c.DataBits, 1, MaxDataBits) {
		return ChannelConfig{}, invalid("data bits " + strconv.Itoa(int(c.DataBits)) + " outside 1.." + strconv.Itoa(MaxDataBits))
	}
	if c.Parity > types.ParityOdd {
		return ChannelConfig{}, invalid("unknown parity")
	}
	if c.StopHalfBits == 0 {
		return ChannelConfig{}, invalid("stop period is zero")
	}
	bit := timex.TicksPerCycle(rate, c.Baud)
	if bit < 2 {
		return ChannelConfig{}, invalid("baud " + c.Baud.String() + " too fast for a " + rate.String() + " timebase")
	}
	stop := timex.HalfSteps(bit, c.StopHalfBits)
	txe := timex.HalfSteps(bit, c.TXEHalfBits)
	if bit > math.MaxUint32 || stop > math.MaxUint32 || txe > math.MaxUint32 {
		return ChannelConfig{}, invalid("timing overflows the 32-bit tick counter")
	}
	if rx && c.RXSize < 2 {
		return ChannelConfig{}, invalid("rx fifo needs at least 2 slots")
	}
	if tx && c.TXSize < 2 {
		return ChannelConfig{}, invalid("tx fifo needs at least 2 slots")
	}
	if rx && rts && (c.RTSResume >= c.RTSHalt || c.RTSHalt > c.RXSize-1 || c.RTSResume < 0) {
		return ChannelConfig{}, invalid("rts thresholds need 0 <= resume < halt <= rx capacity")
	}
	return ChannelConfig{
		Bits:      c.DataBits,
		Parity:    c.Parity,
		BitTime:   timing.Tick(bit),
		StopTime:  timing.Tick(stop),
		RTSHalt:   c.RTSHalt,
		RTSResume: c.RTSResume,
		RXIRQ:     mathx.Clamp(c.RXIRQ, 0, max(c.RXSize-1, 0)),
		TXIRQ:     mathx.Clamp(c.TXIRQ, 0, max(c.TXSize-1, 0)),
		TXEDelay:  timing.Tick(txe),
	}, nil
}
