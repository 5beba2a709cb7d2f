package views

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"telemetry-logger/models"
	"telemetry-logger/utils"
)

// ConsoleView renders the live node table as plain text. It stands in for
// the graphical table: one line per node, the selected node marked.
type ConsoleView struct {
	w     io.Writer
	width int
}

var tableColumns = []struct {
	title string
	width int
	left  bool
}{
	{"", 2, true},
	{"Node", 14, true},
	{"Status", 12, true},
	{"AccX", 8, false},
	{"AccY", 8, false},
	{"AccZ", 8, false},
	{"GyroX", 8, false},
	{"GyroY", 8, false},
	{"GyroZ", 8, false},
	{"Timestamp", 14, false},
	{"Samples", 8, false},
}

// NewConsoleView writes to w. A width of 0 probes the terminal.
func NewConsoleView(w io.Writer, width int) *ConsoleView {
	if width <= 0 {
		width = TerminalWidth()
	}
	return &ConsoleView{w: w, width: width}
}

// TerminalWidth returns the stdout terminal width, or 100 when stdout is
// not a terminal.
func TerminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w < 40 {
		return 100
	}
	return w
}

// PadString pads s to a display width, counting wide runes correctly.
func PadString(s string, width int, leftAlign bool) string {
	s = runewidth.Truncate(s, width, "…")
	actual := runewidth.StringWidth(s)
	if actual >= width {
		return s
	}
	padding := strings.Repeat(" ", width-actual)
	if leftAlign {
		return s + padding
	}
	return padding + s
}

func (v *ConsoleView) row(cells []string) string {
	var sb strings.Builder
	for i, c := range cells {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(PadString(c, tableColumns[i].width, tableColumns[i].left))
	}
	return runewidth.Truncate(strings.TrimRight(sb.String(), " "), v.width, "")
}

// Render writes the relay status line, the header and one row per node.
func (v *ConsoleView) Render(nodes []models.NodeSnapshot, selected string, relay models.RelayStatus) error {
	var sb strings.Builder

	status := "relay: uptime=?"
	if relay.UptimeSeconds != nil {
		status = fmt.Sprintf("relay: uptime=%ds", *relay.UptimeSeconds)
	}
	if relay.ConnectedClients != nil {
		status += fmt.Sprintf(" clients=%d", *relay.ConnectedClients)
	}
	sb.WriteString(status)
	sb.WriteByte('\n')

	header := make([]string, len(tableColumns))
	for i, c := range tableColumns {
		header[i] = c.title
	}
	sb.WriteString(v.row(header))
	sb.WriteByte('\n')
	sb.WriteString(strings.Repeat("─", min(v.width, 110)))
	sb.WriteByte('\n')

	for _, n := range nodes {
		mark := ""
		if n.NodeID == selected {
			mark = "▶"
		}
		f := n.Frame()
		cells := []string{mark, n.NodeID, n.Status.String()}
		acc, gyr := f.Accel(), f.Gyro()
		for _, x := range append(acc[:], gyr[:]...) {
			cells = append(cells, strconv.FormatFloat(x, 'f', models.AxisPrecision, 64))
		}
		cells = append(cells, utils.FormatMicros(f.TimestampUs), strconv.Itoa(n.Samples))
		sb.WriteString(v.row(cells))
		sb.WriteByte('\n')
	}

	_, err := io.WriteString(v.w, sb.String())
	return err
}
