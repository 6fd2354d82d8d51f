package timex

import (
	"time"

	"periph.io/x/conn/v3/physic"

	"softuart-go/x/mathx"
)

// TicksPerCycle returns how many whole timer ticks fit in one cycle of rate,
// e.g. the bit time of a UART at rate baud on a timer clocked at timer.
// Zero when rate is zero or faster than the timer.
func TicksPerCycle(timer, rate physic.Frequency) uint64 {
	if rate <= 0 || timer <= 0 {
		return 0
	}
	return uint64(timer / rate)
}

// HalfSteps scales a tick period by a count of half periods (halves/2).
// The product is taken in 64 bits; callers check the result fits their
// counter.
func HalfSteps(period uint64, halves uint32) uint64 { return period * uint64(halves) / 2 }

// Ticks converts a duration to timer ticks, rounding to nearest.
func Ticks(d time.Duration, timer physic.Frequency) uint64 {
	if d <= 0 || timer <= 0 {
		return 0
	}
	return mathx.RoundDiv(uint64(d)*uint64(timer/physic.Hertz), uint64(time.Second/time.Nanosecond))
}

// Duration converts timer ticks to wall time.
func Duration(ticks uint64, timer physic.Frequency) time.Duration {
	hz := uint64(timer / physic.Hertz)
	if hz == 0 {
		return 0
	}
	return time.Duration(ticks * uint64(time.Second) / hz)
}

func ResetTimer(t *time.Timer, d time.Duration) {
	if d < 0 {
		d = 0
	}
	if !t.Stop() {
		DrainTimer(t)
	}
	t.Reset(d)
}

func DrainTimer(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}
