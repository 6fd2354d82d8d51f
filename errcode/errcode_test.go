package errcode

import (
	"errors"
	"fmt"
	"testing"
)

func TestOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, OK},
		{"bare", NoDirection, NoDirection},
		{"wrapped", New(SizeLocked, "init", "rx fifo 16 != 32"), SizeLocked},
		{"foreign", errors.New("boom"), Error},
	}
	for _, tc := range cases {
		if got := Of(tc.err); got != tc.want {
			t.Errorf("%s: Of=%q want %q", tc.name, got, tc.want)
		}
	}
}

func TestE_IsAndUnwrap(t *testing.T) {
	cause := errors.New("arena full")
	e := &E{C: AllocFailed, Op: "init", Msg: "rx fifo", Err: cause}
	wrapped := fmt.Errorf("uart0: %w", e)

	if !errors.Is(wrapped, AllocFailed) {
		t.Fatal("errors.Is should match by code")
	}
	if errors.Is(wrapped, InvalidParams) {
		t.Fatal("errors.Is matched the wrong code")
	}
	if !errors.Is(wrapped, cause) {
		t.Fatal("cause not reachable through Unwrap")
	}
	if got, want := e.Error(), "init: alloc_failed: rx fifo"; got != want {
		t.Fatalf("Error()=%q want %q", got, want)
	}
}
