package mathx

import "testing"

func TestClampBetween(t *testing.T) {
	if got := Clamp(40, 1, 23); got != 23 {
		t.Errorf("Clamp high: %d", got)
	}
	if got := Clamp(-3, 23, 1); got != 1 {
		t.Errorf("Clamp swapped bounds: %d", got)
	}
	if !Between(uint8(8), 1, 23) || Between(uint8(24), 1, 23) {
		t.Error("Between on data widths")
	}
}

func TestRoundDiv(t *testing.T) {
	if RoundDiv[uint64](7, 2) != 4 || RoundDiv[uint64](5, 3) != 2 {
		t.Error("RoundDiv")
	}
	if RoundDiv[uint8](1, 0) != 0 {
		t.Error("RoundDiv by zero")
	}
}
