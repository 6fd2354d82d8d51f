package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"softuart-go/drivers/softuart"
	"softuart-go/services/selftest"
)

var (
	mauve   = lipgloss.Color("#cba6f7")
	green   = lipgloss.Color("#a6e3a1")
	red     = lipgloss.Color("#f38ba8")
	subtext = lipgloss.Color("#a6adc8")
	surface = lipgloss.Color("#45475a")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(mauve).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(subtext).
			Width(12)

	passStyle = lipgloss.NewStyle().Bold(true).Foreground(green)
	failStyle = lipgloss.NewStyle().Bold(true).Foreground(red)
	noteStyle = lipgloss.NewStyle().Italic(true).Foreground(subtext)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(surface).
			Padding(0, 1)
)

// lineFormat renders the framing the usual way, e.g. 8N1 or 7E1.5.
func lineFormat(cfg softuart.Config) string {
	stop := strconv.FormatFloat(float64(cfg.StopHalfBits)/2, 'g', -1, 64)
	return fmt.Sprintf("%d%s%s", cfg.DataBits, strings.ToUpper(cfg.Parity.String()[:1]), stop)
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

func renderReport(r selftest.Report, cfg softuart.Config) string {
	status := passStyle.Render("PASS")
	if !r.Pass {
		status = failStyle.Render("FAIL")
	}
	st := r.Stats
	lines := []string{
		lipgloss.JoinHorizontal(lipgloss.Center, titleStyle.Render(r.Scenario), status),
		"",
		row("Line", fmt.Sprintf("%s %s", cfg.Baud, lineFormat(cfg))),
		row("FIFOs", fmt.Sprintf("rx %d / tx %d slots", cfg.RXSize, cfg.TXSize)),
		row("Sent", strconv.Itoa(r.Sent)),
		row("Received", strconv.Itoa(r.Received)),
		row("Errors", strconv.Itoa(r.Errors)),
		row("Mismatch", strconv.Itoa(r.Mismatch)),
		row("Overrun", strconv.FormatBool(r.Overrun)),
		row("Sim time", r.SimTime.String()),
		"",
		row("RX", fmt.Sprintf("words %d  framing %d  parity %d  dropped %d  irqs %d",
			st.RXWords, st.RXFraming, st.RXParity, st.RXOverruns, st.RXIRQs)),
		row("TX", fmt.Sprintf("words %d  irqs %d  cts holds %d  txe windows %d",
			st.TXWords, st.TXIRQs, st.CTSHolds, st.TXEWindows)),
		row("Flow", fmt.Sprintf("rts changes %d  unexpected %d", st.RTSChanges, st.Unexpected)),
	}
	for _, n := range r.Notes {
		lines = append(lines, noteStyle.Render("• "+n))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
