// bus/bus_test.go
package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"softuart-go/errcode"
	"softuart-go/types"
)

func irqTopic(port, dir string) Topic { return T("softuart", port, dir, "irq") }
func stateTopic(port string) Topic    { return T("softuart", port, "state") }
func statsTopic(port string) Topic    { return T("softuart", port, "stats") }
func overrunTopic(port string) Topic  { return T("softuart", port, "rx", "overrun") }
func anyPort(rest ...any) Topic       { return T("softuart", SingleWild).Append(rest...) }
func allOf(port string) Topic         { return T("softuart", port, MultiWild) }

func irqFor(port, dir string, used int) types.SerialIRQ {
	return types.SerialIRQ{Port: port, Dir: dir, Used: used}
}

// -----------------------------------------------------------------------------
// Topic matching
// -----------------------------------------------------------------------------

func TestMatches(t *testing.T) {
	cases := []struct {
		name    string
		pattern Topic
		topic   Topic
		want    bool
	}{
		{"exact irq", irqTopic("uart0", "rx"), irqTopic("uart0", "rx"), true},
		{"other port", irqTopic("uart0", "rx"), irqTopic("uart1", "rx"), false},
		{"any port rx irq", anyPort("rx", "irq"), irqTopic("uart1", "rx"), true},
		{"any port rx irq vs tx", anyPort("rx", "irq"), irqTopic("uart1", "tx"), false},
		{"plus needs a level", anyPort("state"), T("softuart", "state"), false},
		{"hash covers port", allOf("uart0"), overrunTopic("uart0"), true},
		{"hash covers zero levels", allOf("uart0"), T("softuart", "uart0"), true},
		{"hash stays in port", allOf("uart0"), stateTopic("uart1"), false},
		{"longer topic", stateTopic("uart0"), T("softuart", "uart0", "state", "x"), false},
		{"shorter topic", irqTopic("uart0", "rx"), T("softuart", "uart0", "rx"), false},
		{"int token", T("softuart", 3, "state"), T("softuart", 3, "state"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := matches(tc.pattern, tc.topic); got != tc.want {
				t.Fatalf("matches(%v, %v)=%v want %v", tc.pattern, tc.topic, got, tc.want)
			}
		})
	}
}

func TestTopicString(t *testing.T) {
	if got := irqTopic("uart0", "tx").String(); got != "softuart/uart0/tx/irq" {
		t.Fatalf("got %q", got)
	}
	if got := T("softuart", 2, "state").String(); got != "softuart/2/state" {
		t.Fatalf("got %q", got)
	}
}

func TestAppendCopies(t *testing.T) {
	base := T("softuart", "uart0")
	rx := base.Append("rx", "irq")
	tx := base.Append("tx", "irq")
	if rx.String() != "softuart/uart0/rx/irq" || tx.String() != "softuart/uart0/tx/irq" {
		t.Fatalf("rx=%v tx=%v", rx, tx)
	}
	if len(base) != 2 {
		t.Fatalf("base grew to %v", base)
	}
}

func TestTopicRejectsNonScalarToken(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for a []byte token")
		}
	}()
	_ = T("softuart", []byte("uart0"))
}

// -----------------------------------------------------------------------------
// Interrupt fan-out
// -----------------------------------------------------------------------------

func TestIRQFanOut(t *testing.T) {
	b := NewBus(8)
	uart := b.NewConnection("uart0")
	host := b.NewConnection("host")

	rxAll := host.Subscribe(anyPort("rx", "irq"))
	uart0 := host.Subscribe(allOf("uart0"))
	txOnly := host.Subscribe(irqTopic("uart0", "tx"))

	uart.Publish(uart.NewMessage(irqTopic("uart0", "rx"), irqFor("uart0", "rx", 4), false))

	expectIRQ(t, rxAll, irqFor("uart0", "rx", 4))
	expectIRQ(t, uart0, irqFor("uart0", "rx", 4))
	expectNoMessage(t, txOnly)

	uart.Publish(uart.NewMessage(irqTopic("uart0", "tx"), irqFor("uart0", "tx", 0), false))
	expectIRQ(t, txOnly, irqFor("uart0", "tx", 0))
	expectIRQ(t, uart0, irqFor("uart0", "tx", 0))
	expectNoMessage(t, rxAll)

	uart.Publish(uart.NewMessage(irqTopic("uart1", "rx"), irqFor("uart1", "rx", 1), false))
	expectIRQ(t, rxAll, irqFor("uart1", "rx", 1))
	expectNoMessage(t, uart0)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("host")
	s := c.Subscribe(irqTopic("uart0", "rx"))
	keep := c.Subscribe(irqTopic("uart0", "rx"))

	s.Unsubscribe()
	if _, ok := <-s.Channel(); ok {
		t.Fatal("channel open after unsubscribe")
	}
	c.Publish(c.NewMessage(irqTopic("uart0", "rx"), irqFor("uart0", "rx", 1), false))
	expectIRQ(t, keep, irqFor("uart0", "rx", 1))

	// a second unsubscribe is a no-op
	s.Unsubscribe()
}

func TestQueueDropsOldest(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("host")
	s := c.Subscribe(irqTopic("uart0", "rx"))

	for i := 1; i <= 3; i++ {
		c.Publish(c.NewMessage(irqTopic("uart0", "rx"), irqFor("uart0", "rx", i), false))
	}
	expectIRQ(t, s, irqFor("uart0", "rx", 2))
	expectIRQ(t, s, irqFor("uart0", "rx", 3))
}

func TestDisconnectClosesSubscriptions(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("uart0")
	s1 := c.Subscribe(irqTopic("uart0", "rx"))
	s2 := c.Subscribe(anyPort("tx", "irq"))

	c.Disconnect()

	for _, s := range []*Subscription{s1, s2} {
		if _, ok := <-s.Channel(); ok {
			t.Fatalf("subscription %v still open", s.Topic())
		}
	}
	// publishing after disconnect must not panic on closed channels
	c.Publish(c.NewMessage(irqTopic("uart0", "rx"), irqFor("uart0", "rx", 1), false))
}

// -----------------------------------------------------------------------------
// Retained port state
// -----------------------------------------------------------------------------

func TestRetainedStateReplay(t *testing.T) {
	b := NewBus(8)
	uart := b.NewConnection("uart")
	host := b.NewConnection("host")

	up := types.SerialState{Port: "uart0", Running: true, Baud: 115200, DataBits: 8, RXSize: 64, TXSize: 64}
	uart.Publish(uart.NewMessage(stateTopic("uart0"), up, true))
	uart.Publish(uart.NewMessage(stateTopic("uart1"), types.SerialState{Port: "uart1"}, true))

	s := host.Subscribe(stateTopic("uart0"))
	if got := expectState(t, s); got != up {
		t.Fatalf("replayed %+v", got)
	}

	all := host.Subscribe(anyPort("state"))
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		seen[expectState(t, all).Port] = true
	}
	if !seen["uart0"] || !seen["uart1"] {
		t.Fatalf("wildcard replay saw %v", seen)
	}

	down := up
	down.Running = false
	uart.Publish(uart.NewMessage(stateTopic("uart0"), down, true))
	if got := expectState(t, s); got.Running {
		t.Fatal("update not delivered")
	}
	late := host.Subscribe(stateTopic("uart0"))
	if got := expectState(t, late); got != down {
		t.Fatalf("late subscriber got %+v", got)
	}
}

func TestRetainedStateClear(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("uart")

	c.Publish(c.NewMessage(stateTopic("uart0"), types.SerialState{Port: "uart0"}, true))
	c.Publish(c.NewMessage(stateTopic("uart1"), types.SerialState{Port: "uart1"}, true))
	c.Publish(c.NewMessage(stateTopic("uart0"), nil, true))

	s := c.Subscribe(anyPort("state"))
	if got := expectState(t, s); got.Port != "uart1" {
		t.Fatalf("got %+v", got)
	}
	expectNoMessage(t, s)
}

// -----------------------------------------------------------------------------
// Request / reply
// -----------------------------------------------------------------------------

type fakeStats struct{ RXWords, TXWords uint32 }

// serveStats answers one stats request for port.
func serveStats(c *Connection, port string, st fakeStats) (done <-chan struct{}) {
	sub := c.Subscribe(statsTopic(port))
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		defer c.Unsubscribe(sub)
		if m, ok := <-sub.Channel(); ok {
			c.Reply(m, st, false)
		}
	}()
	return ch
}

func TestStatsRequestWait(t *testing.T) {
	b := NewBus(8)
	cli := b.NewConnection("cli")
	done := serveStats(b.NewConnection("uart0"), "uart0", fakeStats{RXWords: 3, TXWords: 5})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	req := cli.NewMessage(statsTopic("uart0"), nil, false)
	reply, err := cli.RequestWait(ctx, req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if st, ok := reply.Payload.(fakeStats); !ok || st.RXWords != 3 || st.TXWords != 5 {
		t.Fatalf("reply %#v", reply.Payload)
	}
	if len(req.ReplyTo) == 0 || reply.Topic.String() != req.ReplyTo.String() {
		t.Fatalf("reply on %v, asked on %v", reply.Topic, req.ReplyTo)
	}
	<-done
}

func TestRequestIDsAreDistinct(t *testing.T) {
	b := NewBus(4)
	cli := b.NewConnection("cli")
	r1 := cli.NewMessage(statsTopic("uart0"), nil, false)
	r2 := cli.NewMessage(statsTopic("uart0"), nil, false)
	s1 := cli.Request(r1)
	s2 := cli.Request(r2)
	defer s1.Unsubscribe()
	defer s2.Unsubscribe()
	if r1.ReplyTo.String() == r2.ReplyTo.String() {
		t.Fatalf("both requests reply on %v", r1.ReplyTo)
	}
}

func TestStatsRequestTimeout(t *testing.T) {
	b := NewBus(4)
	cli := b.NewConnection("cli")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := cli.RequestWait(ctx, cli.NewMessage(statsTopic("uart7"), nil, false))
	if !errors.Is(err, errcode.Timeout) {
		t.Fatalf("err=%v, want timeout", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("cause lost: %v", err)
	}
}

func TestReplyWithoutReplyToIsDropped(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("uart0")
	s := c.Subscribe(T("_reply", MultiWild))
	c.Reply(c.NewMessage(statsTopic("uart0"), nil, false), fakeStats{}, false)
	expectNoMessage(t, s)
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func expectIRQ(t *testing.T, sub *Subscription, want types.SerialIRQ) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		irq, ok := got.Payload.(types.SerialIRQ)
		if !ok || irq != want {
			t.Fatalf("got %#v, want %+v", got.Payload, want)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout waiting for %+v", want)
	}
}

func expectState(t *testing.T, sub *Subscription) types.SerialState {
	t.Helper()
	select {
	case got := <-sub.Channel():
		st, ok := got.Payload.(types.SerialState)
		if !ok {
			t.Fatalf("payload %#v", got.Payload)
		}
		return st
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for state")
	}
	return types.SerialState{}
}

func expectNoMessage(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		t.Fatalf("unexpected message: %#v", got)
	case <-time.After(60 * time.Millisecond):
	}
}
