package timex

import (
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"
)

func TestTicksPerCycle(t *testing.T) {
	cases := []struct {
		timer, rate physic.Frequency
		want        uint64
	}{
		{10 * physic.MegaHertz, 115200 * physic.Hertz, 86},
		{10 * physic.MegaHertz, 9600 * physic.Hertz, 1041},
		{1 * physic.MegaHertz, 2 * physic.MegaHertz, 0},
		{1 * physic.MegaHertz, 0, 0},
	}
	for _, tc := range cases {
		if got := TicksPerCycle(tc.timer, tc.rate); got != tc.want {
			t.Errorf("TicksPerCycle(%v,%v)=%d want %d", tc.timer, tc.rate, got, tc.want)
		}
	}
}

func TestHalfSteps(t *testing.T) {
	if got := HalfSteps(86, 2); got != 86 {
		t.Fatalf("one stop bit: %d", got)
	}
	if got := HalfSteps(86, 3); got != 129 {
		t.Fatalf("1.5 stop bits: %d", got)
	}
	// 2^20 ticks per bit times 2^13 half bits is 2^32 ticks.
	if got := HalfSteps(1<<20, 1<<13); got != 1<<32 {
		t.Fatalf("long delay wrapped: %d", got)
	}
}

func TestTickDurationRoundTrip(t *testing.T) {
	timer := 10 * physic.MegaHertz
	if got := Ticks(time.Millisecond, timer); got != 10000 {
		t.Fatalf("Ticks(1ms)=%d", got)
	}
	if got := Duration(10000, timer); got != time.Millisecond {
		t.Fatalf("Duration(10000)=%v", got)
	}
}
