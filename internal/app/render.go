package app

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tturner/dcpf/internal/capture"
	"github.com/tturner/dcpf/internal/metrics"
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// row is one label/value line of a result block.
type row struct {
	label string
	value string
}

// renderBlock writes a titled block of aligned label/value rows.
func renderBlock(w io.Writer, title string, rows []row) {
	width := 0
	for _, r := range rows {
		if len(r.label) > width {
			width = len(r.label)
		}
	}
	fmt.Fprintln(w, titleStyle.Render(title))
	for _, r := range rows {
		label := labelStyle.Render(fmt.Sprintf("  %-*s", width, r.label))
		fmt.Fprintf(w, "%s  %s\n", label, valueStyle.Render(r.value))
	}
}

// renderHex writes data as a hex dump, or a dim placeholder when empty.
func renderHex(w io.Writer, label string, data []byte) {
	fmt.Fprintln(w, labelStyle.Render(fmt.Sprintf("  %s (%d bytes)", label, len(data))))
	if len(data) == 0 {
		fmt.Fprintln(w, dimStyle.Render("    (empty)"))
		return
	}
	for _, line := range strings.Split(strings.TrimRight(capture.HexDump(data, 16), "\n"), "\n") {
		fmt.Fprintf(w, "    %s\n", line)
	}
}

func renderStatus(w io.Writer, ok bool, msg string) {
	if ok {
		fmt.Fprintln(w, successStyle.Render("OK")+" "+msg)
		return
	}
	fmt.Fprintln(w, errorStyle.Render("FAIL")+" "+msg)
}

func renderSummary(w io.Writer, sink *metrics.Sink) {
	if sink == nil || sink.Len() == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprint(w, metrics.FormatSummary(sink.GetSummary()))
}

// printable returns data as text when every byte is printable ASCII.
func printable(data []byte) (string, bool) {
	for _, b := range data {
		if b < 0x20 || b > 0x7E {
			return "", false
		}
	}
	return string(data), len(data) > 0
}
