// Package timing is the contract between the UART bit engines and the timer
// hardware that runs them: free-running timebases, per-pin channels with edge
// capture and single-shot compare matches, and the trigger record a channel
// hands to its service routine.
package timing

import (
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Tick is a timebase count. Arithmetic wraps; compare with Before/After.
type Tick uint32

func (t Tick) Add(d Tick) Tick { return t + d }

// Sub returns the signed distance t - u.
func (t Tick) Sub(u Tick) int32 { return int32(t - u) }

func (t Tick) Before(u Tick) bool { return t.Sub(u) < 0 }
func (t Tick) After(u Tick) bool  { return t.Sub(u) > 0 }

// Timebase is a free-running counter. Engines never assume which one they
// are bound to.
type Timebase interface {
	Name() string
	Now() Tick
	Rate() physic.Frequency
}

// Action is what a compare match does to its channel's pin.
type Action uint8

const (
	NoChange Action = iota
	DriveLow
	DriveHigh
)

// ActionFor maps a pin level to the action that drives it.
func ActionFor(l gpio.Level) Action {
	if l == gpio.High {
		return DriveHigh
	}
	return DriveLow
}

func (a Action) String() string {
	switch a {
	case DriveLow:
		return "low"
	case DriveHigh:
		return "high"
	default:
		return "none"
	}
}

type TriggerKind uint8

const (
	TrigHost  TriggerKind = iota + 1 // host service request
	TrigEdge                         // armed edge captured
	TrigMatch                        // compare match fired
)

// Trigger is delivered to a channel's service routine. Time is the capture
// or match instant on the bound timebase; Level is the pin level sampled at
// that instant, after any match action was applied.
type Trigger struct {
	Kind  TriggerKind
	Code  uint8
	Time  Tick
	Level gpio.Level
}

// ServiceFunc handles one trigger to completion.
type ServiceFunc func(Trigger)

// Channel is one timer channel bound to one pin.
//
// Triggers of a channel are delivered one at a time; a service routine never
// runs concurrently with itself. Match and ArmEdge may be called from inside
// a service routine.
type Channel interface {
	Name() string

	// Bind selects the timebase used for captures and matches.
	Bind(tb Timebase)
	Timebase() Timebase

	// OnService installs the routine receiving this channel's triggers.
	OnService(fn ServiceFunc)
	// Request queues a host service request carrying code.
	Request(code uint8)

	// ArmEdge enables capture of edge (gpio.FallingEdge, gpio.RisingEdge,
	// gpio.BothEdges). gpio.NoEdge disarms.
	ArmEdge(edge gpio.Edge)
	// Match schedules the channel's single pending compare at tick at,
	// replacing any earlier one.
	Match(at Tick, a Action)
	CancelMatch()

	// Out drives the pin immediately.
	Out(l gpio.Level)
	// Read samples the pin now.
	Read() gpio.Level
}
