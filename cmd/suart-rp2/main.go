//go:build rp2040 || rp2350

// Board bring-up for the software UART: runs the self-test scenarios on the
// simulated timer and reports on the hardware console UART.
package main

import (
	"strconv"
	"time"

	"github.com/jangala-dev/tinygo-uartx/uartx"
	"periph.io/x/conn/v3/physic"

	"softuart-go/drivers/softuart"
	"softuart-go/services/selftest"
	"softuart-go/types"
)

var (
	console = uartx.UART0
	baud    = uint32(115200)
)

func say(s string) {
	println(s)
	console.Write([]byte(s + "\r\n"))
}

func report(r selftest.Report) bool {
	verdict := "PASS"
	if !r.Pass {
		verdict = "FAIL"
	}
	say("[suart] " + r.Scenario + " " + verdict +
		" sent=" + strconv.Itoa(r.Sent) +
		" recv=" + strconv.Itoa(r.Received) +
		" err=" + strconv.Itoa(r.Errors) +
		" mismatch=" + strconv.Itoa(r.Mismatch) +
		" overrun=" + strconv.FormatBool(r.Overrun) +
		" sim=" + r.SimTime.String())
	for _, n := range r.Notes {
		say("[suart]   " + n)
	}
	return r.Pass
}

func bench(flow, rs485 bool) *selftest.Bench {
	o := selftest.DefaultOptions()
	o.Flow, o.RS485 = flow, rs485
	return selftest.NewBench(o)
}

func main() {
	time.Sleep(1500 * time.Millisecond)
	if err := console.Configure(uartx.UARTConfig{BaudRate: baud, TX: uartx.UART_TX_PIN, RX: uartx.UART_RX_PIN}); err != nil {
		println("[suart] console configure failed:", err.Error())
	}
	say("[suart] boot …")

	cfg := softuart.DefaultConfig()
	cfg.RXSize, cfg.TXSize = 16, 16
	cfg.RTSHalt, cfg.RTSResume = 8, 2

	even := cfg
	even.Parity = types.ParityEven
	even.Baud = 57600 * physic.Hertz

	ok := true
	run := func(r selftest.Report, err error) {
		if err != nil {
			say("[suart] init failed: " + err.Error())
			ok = false
			return
		}
		ok = report(r) && ok
	}

	run(selftest.Loopback(bench(false, false), cfg, 64, 8))
	run(selftest.Loopback(bench(false, false), even, 64, 8))
	run(selftest.Overrun(bench(false, false), cfg, 32))
	run(selftest.FlowControl(bench(true, false), cfg, 64, 12))
	run(selftest.RS485(bench(false, true), cfg, 5))

	if ok {
		say("[suart] all scenarios passed")
	} else {
		say("[suart] FAILURES")
	}
	for {
		time.Sleep(time.Second)
	}
}
