// Command suart drives the software UART on a simulated timer: self-test
// scenarios, waveform traces and a bridge to a host serial port.
package main

func main() {
	Execute()
}
