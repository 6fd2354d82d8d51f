package selftest

import (
	"strconv"

	"periph.io/x/conn/v3/gpio"

	"softuart-go/drivers/softuart"
	"softuart-go/x/tpusim"
)

// Loopback sends n words, refilling the TX FIFO chunk words at a time from
// TX threshold interrupts and draining RX on RX threshold interrupts, the
// way an interrupt-driven host would.
func Loopback(b *Bench, cfg softuart.Config, n, chunk int) (Report, error) {
	r := &Report{Scenario: "loopback"}
	if err := b.UART.Init(b.TB, cfg); err != nil {
		return *r, err
	}
	name := b.UART.Name()
	txIRQ := b.conn.Subscribe(softuart.IRQTopic(name, softuart.DirTX))
	rxIRQ := b.conn.Subscribe(softuart.IRQTopic(name, softuart.DirRX))
	defer b.conn.Unsubscribe(txIRQ)
	defer b.conn.Unsubscribe(rxIRQ)

	words := pattern(n, cfg.DataBits)
	chunk = max(chunk, 1)
	r.Sent = b.UART.TransmitData(words[:min(chunk, n)])

	got := make([]softuart.RxWord, 0, n)
	buf := make([]softuart.RxWord, 32)
	read := func() {
		for {
			k := b.UART.ReceiveData(buf)
			if k == 0 {
				return
			}
			got = append(got, buf[:k]...)
		}
	}

	step := b.frame()
	for i := 0; len(got) < n && i < 4*(n+8); i++ {
		b.Sim.RunFor(step)
	irqs:
		for {
			select {
			case <-txIRQ.Channel():
				if r.Sent < n {
					r.Sent += b.UART.TransmitData(words[r.Sent:min(r.Sent+chunk, n)])
				}
			case <-rxIRQ.Channel():
				read()
			default:
				break irqs
			}
		}
		// words below the RX threshold only show up by polling
		if r.Sent == n {
			read()
		}
	}

	r.Received = len(got)
	compare(r, words, got)
	_, r.Overrun = b.UART.ReceiveDataOverrun(nil)
	r.Pass = r.Received == n && r.Mismatch == 0 && r.Errors == 0 && !r.Overrun
	return b.finish(r), nil
}

// Overrun sends n words and reads nothing until the line is quiet. The
// receiver must keep the oldest words and raise the overrun flag.
func Overrun(b *Bench, cfg softuart.Config, n int) (Report, error) {
	r := &Report{Scenario: "overrun"}
	if err := b.UART.Init(b.TB, cfg); err != nil {
		return *r, err
	}
	words := pattern(n, cfg.DataBits)
	for r.Sent < n {
		r.Sent += b.UART.TransmitData(words[r.Sent:])
		b.Sim.RunFor(b.frame())
	}
	b.Sim.RunUntil(func() bool {
		_, used := b.UART.TXFIFOStatus()
		return used == 0
	}, uint64(cfg.TXSize+2)*b.frame())
	b.Sim.RunFor(2 * b.frame())

	got := make([]softuart.RxWord, n)
	k, ov := b.UART.ReceiveDataOverrun(got)
	r.Received, r.Overrun = k, ov
	compare(r, words, got[:k])

	capacity := cfg.RXSize - 1
	r.note("rx capacity " + strconv.Itoa(capacity) + " words")
	r.Pass = ov && k == min(n, capacity) && r.Mismatch == 0
	if n <= capacity {
		r.Pass = !ov && k == n && r.Mismatch == 0
	}
	return b.finish(r), nil
}

// FlowControl sends n words with RTS looped into CTS and a reader that only
// drains every `every` word times. No word may be lost.
func FlowControl(b *Bench, cfg softuart.Config, n, every int) (Report, error) {
	r := &Report{Scenario: "flow"}
	if b.RTS == nil {
		r.note("bench has no RTS/CTS loop")
		return b.finish(r), nil
	}
	if err := b.UART.Init(b.TB, cfg); err != nil {
		return *r, err
	}
	words := pattern(n, cfg.DataBits)
	got := make([]softuart.RxWord, 0, n)
	buf := make([]softuart.RxWord, 16)

	every = max(every, 1)
	for i := 0; len(got) < n && i < 8*(n+8); i++ {
		if r.Sent < n {
			r.Sent += b.UART.TransmitData(words[r.Sent:])
		}
		b.Sim.RunFor(uint64(every) * b.frame())
		for {
			k, ov := b.UART.ReceiveDataOverrun(buf)
			r.Overrun = r.Overrun || ov
			if k == 0 {
				break
			}
			got = append(got, buf[:k]...)
		}
	}

	r.Received = len(got)
	compare(r, words, got)
	st := b.UART.Stats().Snapshot()
	r.note("rts changes " + strconv.Itoa(int(st.RTSChanges)) + ", cts holds " + strconv.Itoa(int(st.CTSHolds)))
	r.Pass = r.Received == n && r.Mismatch == 0 && !r.Overrun && st.RTSChanges > 0
	return b.finish(r), nil
}

// RS485 sends a burst and checks the enable window: asserted before the
// first start bit, released exactly the post-delay after the final stop
// period.
func RS485(b *Bench, cfg softuart.Config, n int) (Report, error) {
	r := &Report{Scenario: "rs485"}
	if b.TXE == nil {
		r.note("bench has no TXE pin")
		return b.finish(r), nil
	}
	b.Sim.Record(true)
	if err := b.UART.Init(b.TB, cfg); err != nil {
		return *r, err
	}
	b.Sim.RunFor(1)
	b.Sim.ResetTrace()

	words := pattern(n, cfg.DataBits)
	r.Sent = b.UART.TransmitData(words)
	b.Sim.RunFor(uint64(r.Sent+3) * b.frame())

	got := make([]softuart.RxWord, n)
	r.Received = b.UART.ReceiveData(got)
	compare(r, words, got[:r.Received])

	lead, tail, ok := enableWindow(b, b.Sim.Trace(), r.Sent)
	if !ok {
		r.note("no complete enable window in trace")
		return b.finish(r), nil
	}
	cc, _ := b.UART.ChannelConfig()
	p := uint64(max(b.opts.Prescale, 1))
	r.note("txe lead " + strconv.FormatUint(lead, 10) + " ticks, tail " + strconv.FormatUint(tail, 10) + " ticks")
	r.Pass = r.Received == r.Sent && r.Mismatch == 0 && lead > 0 && tail == uint64(cc.TXEDelay)*p
	return b.finish(r), nil
}

// enableWindow measures, in base ticks, how long TXE rose before the first
// start bit and how long it fell after the end of the final stop period.
// Words of a queued burst go out back to back, one frame apart.
func enableWindow(b *Bench, tr []tpusim.Transition, words int) (lead, tail uint64, ok bool) {
	txe := tpusim.On(tr, b.TXE.Name())
	if words == 0 || len(txe) < 2 || txe[0].Level != gpio.High || txe[1].Level != gpio.Low {
		return 0, 0, false
	}
	var first uint64
	seen := false
	for _, x := range tpusim.On(tr, b.Line.Name()) {
		if x.Level == gpio.Low {
			first, seen = x.At, true
			break
		}
	}
	if !seen {
		return 0, 0, false
	}
	frame := b.frame()
	stopEnd := first + uint64(words)*frame
	return first - txe[0].At, txe[1].At - stopEnd, true
}
