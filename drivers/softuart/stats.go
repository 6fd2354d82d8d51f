package softuart

import "sync/atomic"

// Stats are engine and driver counters. Engines update them from trigger
// context; readers take a Snapshot.
type Stats struct {
	RXWords    atomic.Uint32
	RXFraming  atomic.Uint32
	RXParity   atomic.Uint32
	RXOverruns atomic.Uint32 // words dropped on a full RX FIFO
	RXIRQs     atomic.Uint32
	RTSChanges atomic.Uint32

	TXWords    atomic.Uint32
	TXIRQs     atomic.Uint32
	CTSHolds   atomic.Uint32 // checks deferred by a busy peer
	TXEWindows atomic.Uint32

	Unexpected atomic.Uint32 // triggers with no transition in the current state
}

type StatsSnapshot struct {
	RXWords, RXFraming, RXParity, RXOverruns, RXIRQs, RTSChanges uint32
	TXWords, TXIRQs, CTSHolds, TXEWindows                        uint32
	Unexpected                                                   uint32
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		RXWords:    s.RXWords.Load(),
		RXFraming:  s.RXFraming.Load(),
		RXParity:   s.RXParity.Load(),
		RXOverruns: s.RXOverruns.Load(),
		RXIRQs:     s.RXIRQs.Load(),
		RTSChanges: s.RTSChanges.Load(),
		TXWords:    s.TXWords.Load(),
		TXIRQs:     s.TXIRQs.Load(),
		CTSHolds:   s.CTSHolds.Load(),
		TXEWindows: s.TXEWindows.Load(),
		Unexpected: s.Unexpected.Load(),
	}
}
