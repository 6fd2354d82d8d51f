package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"softuart-go/services/selftest"
	"softuart-go/x/timex"
	"softuart-go/x/tpusim"
)

var traceCmd = &cobra.Command{
	Use:   "trace <file>",
	Short: "Summarise a recorded waveform",
	Long: `Decode a CBOR waveform written by "suart run --trace" and print, per net,
the idle level, the number of transitions and the first and last edge.

Examples:
  suart trace burst.cbor
  suart trace burst.cbor --edges --net line`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		edges, _ := cmd.Flags().GetBool("edges")
		only, _ := cmd.Flags().GetString("net")

		f, err := os.Open(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening trace: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		wf, err := tpusim.ReadWaveform(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error decoding trace: %v\n", err)
			os.Exit(1)
		}

		rate := wf.Rate()
		fmt.Println(titleStyle.Render(fmt.Sprintf("%s  base %s, %d edges", args[0], rate, len(wf.Edges))))
		for _, n := range wf.Nets {
			if only != "" && n.Name != only {
				continue
			}
			on := tpusim.On(wf.Edges, n.Name)
			summary := fmt.Sprintf("idle %s  %d edges", n.Idle, len(on))
			if len(on) > 0 {
				summary += fmt.Sprintf("  first %s  last %s",
					timex.Duration(on[0].At, rate), timex.Duration(on[len(on)-1].At, rate))
			}
			fmt.Println(row(n.Name, summary))
			if !edges {
				continue
			}
			for _, e := range on {
				fmt.Println(noteStyle.Render(fmt.Sprintf("  %10d  %-12s %s", e.At, timex.Duration(e.At, rate), e.Level)))
			}
		}
	},
}

func init() {
	traceCmd.Flags().BoolP("edges", "e", false, "List every transition")
	traceCmd.Flags().String("net", "", "Only show this net")
	rootCmd.AddCommand(traceCmd)
}

func saveTrace(b *selftest.Bench, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := tpusim.WriteWaveform(f, b.Sim.Waveform()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
