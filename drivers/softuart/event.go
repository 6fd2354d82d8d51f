package softuart

import (
	"periph.io/x/conn/v3/gpio"

	"softuart-go/drivers/softuart/timing"
)

// Host service request codes carried on a direction's data channel.
const (
	ReqUpdateRTS uint8 = 1
	ReqInit      uint8 = 2
	ReqShutdown  uint8 = 7
)

type EventKind uint8

const (
	EvInit EventKind = iota + 1
	EvShutdown
	EvUpdateRTS
	EvEdge  // start edge captured
	EvMatch // scheduled sample or transition instant
)

func (k EventKind) String() string {
	switch k {
	case EvInit:
		return "init"
	case EvShutdown:
		return "shutdown"
	case EvUpdateRTS:
		return "update-rts"
	case EvEdge:
		return "edge"
	case EvMatch:
		return "match"
	default:
		return "unknown"
	}
}

// Event is the decoded form of a timing trigger.
type Event struct {
	Kind  EventKind
	Time  timing.Tick
	Level gpio.Level
}

// Decode maps a trigger to an event. ok is false for unknown host codes.
func Decode(tr timing.Trigger) (ev Event, ok bool) {
	ev = Event{Time: tr.Time, Level: tr.Level}
	switch tr.Kind {
	case timing.TrigHost:
		switch tr.Code {
		case ReqInit:
			ev.Kind = EvInit
		case ReqShutdown:
			ev.Kind = EvShutdown
		case ReqUpdateRTS:
			ev.Kind = EvUpdateRTS
		default:
			return ev, false
		}
	case timing.TrigEdge:
		ev.Kind = EvEdge
	case timing.TrigMatch:
		ev.Kind = EvMatch
	default:
		return ev, false
	}
	return ev, true
}

// Direction names one half of a channel.
type Direction uint8

const (
	DirRX Direction = iota
	DirTX
)

func (d Direction) String() string {
	if d == DirTX {
		return "tx"
	}
	return "rx"
}

// Notifier receives FIFO threshold interrupts from the engines. It is called
// from engine context and must not block.
type Notifier interface {
	Notify(dir Direction, used int)
}
