package types

import "testing"

func TestParitySeedAndParse(t *testing.T) {
	cases := []struct {
		in      string
		want    Parity
		seed    uint8
		enabled bool
	}{
		{"none", ParityNone, 0, false},
		{"E", ParityEven, 0, true},
		{"odd", ParityOdd, 1, true},
	}
	for _, tc := range cases {
		p, ok := ParseParity(tc.in)
		if !ok || p != tc.want {
			t.Fatalf("ParseParity(%q)=%v,%v", tc.in, p, ok)
		}
		if p.Seed() != tc.seed || p.Enabled() != tc.enabled {
			t.Errorf("%v: seed=%d enabled=%v", p, p.Seed(), p.Enabled())
		}
	}
	if _, ok := ParseParity("mark"); ok {
		t.Error("mark parity should be rejected")
	}
}
