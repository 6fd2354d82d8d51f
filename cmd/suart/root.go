package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"periph.io/x/conn/v3/physic"

	"softuart-go/drivers/softuart"
	"softuart-go/services/selftest"
	"softuart-go/types"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "suart",
	Short: "Software UART on a simulated timer",
	Long: `Run the software UART engines against a simulated timer and line.

Line and FIFO settings come from flags, a config file (.suart.yaml in the
home or working directory) or SUART_* environment variables, in that order
of precedence.

Examples:
  suart run loopback --baud 115200 --parity even
  suart run flow --rx-fifo 16 --rts-halt 8 --rts-resume 2
  suart run rs485 --trace burst.cbor && suart trace burst.cbor
  suart bridge /dev/ttyUSB0 --serial-baud 9600`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	d := softuart.DefaultConfig()
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default $HOME/.suart.yaml)")
	pf.String("name", "uart0", "UART name used in bus topics")
	pf.String("timer", "10MHz", "Simulated timer clock")
	pf.Uint32("prescale", 1, "Timebase divider")
	pf.Uint32P("baud", "b", uint32(d.Baud/physic.Hertz), "Baud rate")
	pf.Uint8("bits", d.DataBits, "Data bits (1-23)")
	pf.StringP("parity", "p", d.Parity.String(), "Parity: none, even, odd")
	pf.Uint32("stop-half-bits", d.StopHalfBits, "Stop period in half bits (2 = one stop bit)")
	pf.Int("rx-fifo", d.RXSize, "RX FIFO slots")
	pf.Int("tx-fifo", d.TXSize, "TX FIFO slots")
	pf.Int("rx-irq", d.RXIRQ, "RX interrupt threshold")
	pf.Int("tx-irq", d.TXIRQ, "TX interrupt threshold")
	pf.Int("rts-halt", d.RTSHalt, "RX occupancy that raises RTS")
	pf.Int("rts-resume", d.RTSResume, "RX occupancy that lowers RTS")
	pf.Uint32("txe-half-bits", d.TXEHalfBits, "RS-485 enable hold after the last stop, in half bits")

	if err := viper.BindPFlags(pf); err != nil {
		fmt.Fprintf(os.Stderr, "Error binding flags: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".suart")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("SUART")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &nf) {
			fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
			os.Exit(1)
		}
	}
}

// loadConfig resolves the line setup and bench options from viper.
func loadConfig() (softuart.Config, selftest.Options, error) {
	cfg := softuart.DefaultConfig()
	opts := selftest.DefaultOptions()

	var timer physic.Frequency
	if err := timer.Set(viper.GetString("timer")); err != nil {
		return cfg, opts, fmt.Errorf("timer %q: %w", viper.GetString("timer"), err)
	}
	par, ok := types.ParseParity(viper.GetString("parity"))
	if !ok {
		return cfg, opts, fmt.Errorf("parity %q: want none, even or odd", viper.GetString("parity"))
	}

	opts.Name = viper.GetString("name")
	opts.Timer = timer
	opts.Prescale = max(viper.GetUint32("prescale"), 1)

	cfg.Baud = physic.Frequency(viper.GetUint32("baud")) * physic.Hertz
	cfg.DataBits = uint8(viper.GetUint("bits"))
	cfg.Parity = par
	cfg.StopHalfBits = viper.GetUint32("stop-half-bits")
	cfg.RXSize = viper.GetInt("rx-fifo")
	cfg.TXSize = viper.GetInt("tx-fifo")
	cfg.RXIRQ = viper.GetInt("rx-irq")
	cfg.TXIRQ = viper.GetInt("tx-irq")
	cfg.RTSHalt = viper.GetInt("rts-halt")
	cfg.RTSResume = viper.GetInt("rts-resume")
	cfg.TXEHalfBits = viper.GetUint32("txe-half-bits")
	return cfg, opts, nil
}
