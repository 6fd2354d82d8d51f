package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"softuart-go/services/selftest"
)

var runCmd = &cobra.Command{
	Use:   "run <loopback|overrun|flow|rs485>",
	Short: "Run a self-test scenario on the simulated bench",
	Long: `Run a self-test scenario with TX wired back to RX on a simulated line.

Scenarios:
  loopback  interrupt-driven send and receive, every word must round trip
  overrun   nothing is read until the line is quiet, the oldest words survive
  flow      RTS looped into CTS with a slow reader, nothing may be lost
  rs485     the enable pin must wrap the burst and release after the delay

The exit status is 2 when the scenario fails.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"loopback", "overrun", "flow", "rs485"},
	Run: func(cmd *cobra.Command, args []string) {
		words, _ := cmd.Flags().GetInt("words")
		chunk, _ := cmd.Flags().GetInt("chunk")
		every, _ := cmd.Flags().GetInt("every")
		out, _ := cmd.Flags().GetString("trace")

		cfg, opts, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		opts.Record = out != ""
		opts.Flow = args[0] == "flow"
		opts.RS485 = args[0] == "rs485"

		b := selftest.NewBench(opts)
		var rep selftest.Report
		switch args[0] {
		case "loopback":
			rep, err = selftest.Loopback(b, cfg, words, chunk)
		case "overrun":
			rep, err = selftest.Overrun(b, cfg, words)
		case "flow":
			rep, err = selftest.FlowControl(b, cfg, words, every)
		case "rs485":
			rep, err = selftest.RS485(b, cfg, words)
		default:
			fmt.Fprintf(os.Stderr, "Unknown scenario %q\n", args[0])
			os.Exit(1)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error starting %s: %v\n", args[0], err)
			os.Exit(1)
		}

		fmt.Println(renderReport(rep, cfg))
		if out != "" {
			if err := saveTrace(b, out); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing trace: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(noteStyle.Render("trace written to " + out))
		}
		b.UART.Release()
		if !rep.Pass {
			os.Exit(2)
		}
	},
}

func init() {
	runCmd.Flags().IntP("words", "n", 256, "Words to send")
	runCmd.Flags().Int("chunk", 16, "Loopback: words queued per TX interrupt")
	runCmd.Flags().Int("every", 12, "Flow: word times between reader drains")
	runCmd.Flags().StringP("trace", "t", "", "Write the line waveform to this CBOR file")
	rootCmd.AddCommand(runCmd)
}
