package tpusim

import (
	"io"

	"github.com/fxamacker/cbor/v2"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Transition is one level change on a net, stamped in base clock ticks.
type Transition struct {
	_     struct{} `cbor:",toarray"`
	At    uint64
	Net   string
	Level gpio.Level
}

// Record starts or stops collecting transitions.
func (s *Sim) Record(on bool) {
	s.mu.Lock()
	s.rec = on
	s.mu.Unlock()
}

// Trace returns a copy of the transitions collected so far.
func (s *Sim) Trace() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transition(nil), s.trace...)
}

// ResetTrace drops collected transitions.
func (s *Sim) ResetTrace() {
	s.mu.Lock()
	s.trace = s.trace[:0]
	s.mu.Unlock()
}

// On filters a trace to one net.
func On(tr []Transition, net string) []Transition {
	var out []Transition
	for _, t := range tr {
		if t.Net == net {
			out = append(out, t)
		}
	}
	return out
}

// ---- waveform files ----

// Waveform is the on-disk form of a trace.
type Waveform struct {
	Base  int64        `cbor:"1,keyasint"` // base clock, µHz
	Nets  []NetInfo    `cbor:"2,keyasint"`
	Edges []Transition `cbor:"3,keyasint"`
}

type NetInfo struct {
	Name string     `cbor:"1,keyasint"`
	Idle gpio.Level `cbor:"2,keyasint"`
}

func (w Waveform) Rate() physic.Frequency { return physic.Frequency(w.Base) }

// Waveform snapshots the simulation's nets and trace.
func (s *Sim) Waveform() Waveform {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := Waveform{Base: int64(s.base), Edges: append([]Transition(nil), s.trace...)}
	for _, n := range s.nets {
		idle := n.level
		// the level before the first recorded edge is the idle level
		for _, t := range s.trace {
			if t.Net == n.name {
				idle = !t.Level
				break
			}
		}
		w.Nets = append(w.Nets, NetInfo{Name: n.name, Idle: idle})
	}
	return w
}

func WriteWaveform(w io.Writer, wf Waveform) error {
	return cbor.NewEncoder(w).Encode(wf)
}

func ReadWaveform(r io.Reader) (Waveform, error) {
	var wf Waveform
	err := cbor.NewDecoder(r).Decode(&wf)
	return wf, err
}
