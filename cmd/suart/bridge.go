package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/tarm/serial"

	"softuart-go/drivers/softuart"
	"softuart-go/services/selftest"
	"softuart-go/services/uartio"
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge <port>",
	Short: "Loop a host serial port through the simulated software UART",
	Long: `Open a host serial port and echo everything it sends back through the
software UART. Bytes read from the port are queued on the UART's TX FIFO,
travel the simulated line, are framed by the receiver and written back to
the port. The simulation is paced against the wall clock.

Examples:
  suart bridge /dev/ttyUSB0
  suart bridge /dev/ttyUSB0 --serial-baud 9600 --baud 9600 --verbose`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		serialBaud, _ := cmd.Flags().GetInt("serial-baud")
		scale, _ := cmd.Flags().GetFloat64("scale")
		verbose, _ := cmd.Flags().GetBool("verbose")

		cfg, opts, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if cfg.DataBits > 8 {
			fmt.Fprintf(os.Stderr, "Error: bridge carries bytes, %d data bits is too wide\n", cfg.DataBits)
			os.Exit(1)
		}

		sp, err := serial.OpenPort(&serial.Config{Name: args[0], Baud: serialBaud, ReadTimeout: 100 * time.Millisecond})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening %s: %v\n", args[0], err)
			os.Exit(1)
		}
		defer sp.Close()

		b := selftest.NewBench(opts)
		if err := b.UART.Init(b.TB, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting UART: %v\n", err)
			os.Exit(1)
		}
		defer b.UART.Release()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		go b.Sim.RunRealtime(ctx, scale, time.Millisecond)

		srvCtx, srvStop := context.WithCancel(context.Background())
		defer srvStop()
		go b.UART.Serve(srvCtx)

		port := b.UART.Port()
		w := uartio.New(64)
		cancel, err := w.Register(ctx, uartio.ReaderCfg{DevID: opts.Name, Port: port, Mode: "bytes", MaxFrame: 64})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error starting reader: %v\n", err)
			os.Exit(1)
		}
		defer cancel()

		go func() {
			buf := make([]byte, 64)
			for ctx.Err() == nil {
				n, err := sp.Read(buf)
				if err != nil && !errors.Is(err, io.EOF) {
					fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", args[0], err)
					stop()
					return
				}
				if n == 0 {
					continue
				}
				if _, err := port.WriteContext(ctx, buf[:n]); err != nil {
					return
				}
				w.EmitTX(opts.Name, buf[:n])
			}
		}()

		fmt.Println(titleStyle.Render(fmt.Sprintf("bridging %s <-> %s (%s %s), ctrl-c to stop",
			args[0], opts.Name, cfg.Baud, lineFormat(cfg))))

		var rx, tx int
		for {
			select {
			case <-ctx.Done():
				fmt.Println(renderBridge(b, rx, tx))
				return
			case ev := <-w.Events():
				switch ev.Dir {
				case "rx":
					rx += len(ev.Data)
					if _, err := sp.Write(ev.Data); err != nil {
						fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", args[0], err)
					}
				case "tx":
					tx += len(ev.Data)
				}
				if verbose {
					fmt.Println(noteStyle.Render(fmt.Sprintf("%s %s % x", ev.TS.Format("15:04:05.000"), ev.Dir, ev.Data)))
				}
				ev.Release()
			}
		}
	},
}

func init() {
	bridgeCmd.Flags().Int("serial-baud", 115200, "Host serial port baud rate")
	bridgeCmd.Flags().Float64("scale", 1, "Simulation speed relative to the wall clock")
	bridgeCmd.Flags().BoolP("verbose", "v", false, "Print every chunk")
	rootCmd.AddCommand(bridgeCmd)
}

// bridgeStats asks the UART's stats service for its counters, falling back
// to a direct read if it does not answer.
func bridgeStats(b *selftest.Bench) softuart.StatsSnapshot {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	conn := b.Bus.NewConnection("cli")
	defer conn.Disconnect()
	m, err := conn.RequestWait(ctx, conn.NewMessage(softuart.StatsTopic(b.UART.Name()), nil, false))
	if err == nil {
		if st, ok := m.Payload.(softuart.StatsSnapshot); ok {
			return st
		}
	}
	return b.UART.Stats().Snapshot()
}

func renderBridge(b *selftest.Bench, rx, tx int) string {
	st := bridgeStats(b)
	lines := []string{
		row("Sent", fmt.Sprintf("%d bytes", tx)),
		row("Echoed", fmt.Sprintf("%d bytes", rx)),
		row("Errors", fmt.Sprintf("framing %d  parity %d  dropped %d", st.RXFraming, st.RXParity, st.RXOverruns)),
		row("Sim time", b.Sim.Elapsed().String()),
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
