package types

import "strings"

// ------------------------
// Serial
// ------------------------

type Parity uint8

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

func (p Parity) String() string {
	switch p {
	case ParityEven:
		return "even"
	case ParityOdd:
		return "odd"
	default:
		return "none"
	}
}

// Enabled reports whether a parity bit is framed.
func (p Parity) Enabled() bool { return p == ParityEven || p == ParityOdd }

// Seed is the initial parity accumulator: 0 for even, 1 for odd.
func (p Parity) Seed() uint8 {
	if p == ParityOdd {
		return 1
	}
	return 0
}

func (p Parity) MarshalJSON() ([]byte, error) { return []byte(`"` + p.String() + `"`), nil }

// ParseParity accepts none|even|odd (case-insensitive) and the n/e/o shorthands.
func ParseParity(s string) (Parity, bool) {
	switch strings.ToLower(s) {
	case "", "none", "n":
		return ParityNone, true
	case "even", "e":
		return ParityEven, true
	case "odd", "o":
		return ParityOdd, true
	}
	return ParityNone, false
}

// ------------------------
// Software UART bus payloads
// ------------------------

// SerialIRQ is published when a FIFO's occupancy crosses its interrupt threshold.
type SerialIRQ struct {
	Port string `json:"port"`
	Dir  string `json:"dir"` // "rx" | "tx"
	Used int    `json:"used"`
}

// SerialOverrun is published when a host read finds the overrun flag set.
type SerialOverrun struct {
	Port string `json:"port"`
}

// SerialState is retained per port.
type SerialState struct {
	Port     string `json:"port"`
	Running  bool   `json:"running"`
	Baud     uint32 `json:"baud"`
	DataBits uint8  `json:"data_bits"`
	Parity   Parity `json:"parity"`
	RXSize   int    `json:"rx_size,omitempty"`
	TXSize   int    `json:"tx_size,omitempty"`
}
