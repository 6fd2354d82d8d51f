package uartio

import (
	"context"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"softuart-go/drivers/softuart"
	"softuart-go/x/tpusim"
)

// --- helpers ---

// loopback starts a software UART with TX wired to RX on a simulated line
// paced against the wall clock, and registers its Port with a new worker.
func loopback(t *testing.T, cfg ReaderCfg) (*softuart.Port, *Worker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	sim := tpusim.New(10 * physic.MegaHertz)
	line := sim.Net("line", gpio.High)
	u := softuart.New(cfg.DevID, softuart.Pins{
		RX: sim.Channel("rx", line),
		TX: sim.Channel("tx", line),
	})
	c := softuart.DefaultConfig()
	c.Baud = 1 * physic.MegaHertz
	if err := u.Init(sim.Timebase("tcr1", 1), c); err != nil {
		cancel()
		t.Fatal(err)
	}
	go sim.RunRealtime(ctx, 1, 100*time.Microsecond)

	port := u.Port()
	cfg.Port = port
	w := New(16)
	stop, err := w.Register(ctx, cfg)
	if err != nil {
		cancel()
		t.Fatalf("Register: %v", err)
	}
	t.Cleanup(func() {
		stop()
		cancel()
		u.Release()
	})
	return port, w
}

func send(t *testing.T, p *softuart.Port, s string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := p.WriteContext(ctx, []byte(s)); err != nil {
		t.Fatalf("write %q: %v", s, err)
	}
}

func recvEvent(ch <-chan *Event, d time.Duration) (*Event, bool) {
	select {
	case ev := <-ch:
		return ev, true
	case <-time.After(d):
		return nil, false
	}
}

// collect gathers rx events until n bytes have arrived.
func collect(t *testing.T, w *Worker, n int, check func(*Event)) string {
	t.Helper()
	var got []byte
	for len(got) < n {
		ev, ok := recvEvent(w.Events(), 2*time.Second)
		if !ok {
			t.Fatalf("timeout after %q", got)
		}
		if check != nil {
			check(ev)
		}
		got = append(got, ev.Data...)
		ev.Release()
	}
	return string(got)
}

// --- tests ---

func TestUARTWorker_BytesMode(t *testing.T) {
	port, w := loopback(t, ReaderCfg{DevID: "uart1", Mode: "bytes", MaxFrame: 16})

	send(t, port, "abcdef")
	got := collect(t, w, 6, func(ev *Event) {
		if ev.DevID != "uart1" || ev.Dir != "rx" {
			t.Errorf("unexpected meta: %+v", *ev)
		}
		if ev.TS.IsZero() {
			t.Error("timestamp not set")
		}
		if cap(ev.Data) != 16 {
			t.Errorf("cap=%d, want 16", cap(ev.Data))
		}
	})
	if got != "abcdef" {
		t.Fatalf("got %q", got)
	}

	send(t, port, "xyz123")
	if got := collect(t, w, 6, nil); got != "xyz123" {
		t.Fatalf("second burst %q", got)
	}
}

func TestUARTWorker_MaxFrameClamp(t *testing.T) {
	port, w := loopback(t, ReaderCfg{DevID: "uart2", Mode: "bytes", MaxFrame: 2})

	src := "ABCDEFGHIJKLMNOPQRST"
	send(t, port, src)
	got := collect(t, w, len(src), func(ev *Event) {
		if len(ev.Data) > 8 || cap(ev.Data) != 8 {
			t.Errorf("chunk len=%d cap=%d, want at most 8 in 8", len(ev.Data), cap(ev.Data))
		}
	})
	if got != src {
		t.Fatalf("got %q", got)
	}
}

func TestUARTWorker_LinesMode(t *testing.T) {
	port, w := loopback(t, ReaderCfg{DevID: "uart3", Mode: "lines", MaxFrame: 32})

	send(t, port, "hi\r\nthere\n")
	for _, want := range []string{"hi", "there"} {
		ev, ok := recvEvent(w.Events(), 2*time.Second)
		if !ok {
			t.Fatalf("timeout waiting for %q", want)
		}
		if got := string(ev.Data); got != want || ev.Dir != "rx" {
			t.Errorf("got %s %q, want rx %q", ev.Dir, got, want)
		}
		ev.Release()
	}
}

func TestUARTWorker_IdleFlush(t *testing.T) {
	port, w := loopback(t, ReaderCfg{DevID: "uart4", Mode: "lines", MaxFrame: 32, IdleFlush: 30 * time.Millisecond})

	send(t, port, "a")
	ev, ok := recvEvent(w.Events(), 500*time.Millisecond)
	if !ok {
		t.Fatal("idle flush timeout")
	}
	if got := string(ev.Data); got != "a" {
		t.Errorf("idle flush got %q", got)
	}
	ev.Release()

	send(t, port, "ok\n")
	ev, ok = recvEvent(w.Events(), 2*time.Second)
	if !ok {
		t.Fatal("line after flush timeout")
	}
	if got := string(ev.Data); got != "ok" {
		t.Errorf("line after flush got %q", got)
	}
	ev.Release()
}

func TestUARTWorker_TxEchoChunking(t *testing.T) {
	_, w := loopback(t, ReaderCfg{DevID: "uart5", Mode: "bytes", MaxFrame: 8})

	w.EmitTX("uart5", []byte("ABCDEFGHIJKLMNOPQRST"))
	for _, want := range []string{"ABCDEFGH", "IJKLMNOP", "QRST"} {
		ev, ok := recvEvent(w.Events(), time.Second)
		if !ok {
			t.Fatalf("timeout waiting for %q", want)
		}
		if ev.Dir != "tx" || ev.DevID != "uart5" || string(ev.Data) != want {
			t.Errorf("got %s/%s %q, want tx %q", ev.DevID, ev.Dir, ev.Data, want)
		}
		ev.Release()
	}
}

func TestUARTWorker_EmitTXUnregistered(t *testing.T) {
	w := New(4)
	w.EmitTX("loose", make([]byte, 100))
	ev, ok := recvEvent(w.Events(), time.Second)
	if !ok {
		t.Fatal("no tx event")
	}
	if len(ev.Data) != 64 {
		t.Fatalf("first chunk %d bytes, want the 64-byte default", len(ev.Data))
	}
	ev.Release()
}
