// Package render formats PowerState cycles for the terminal.
package render

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cptspacemanspiff/procpower/internal/power"
)

// Mode selects which columns are shown.
type Mode int

const (
	ModePS Mode = iota
	ModePower
)

func (m Mode) String() string {
	if m == ModePower {
		return "power"
	}
	return "ps"
}

// Limit is the number of rows shown per cycle.
func (m Mode) Limit() int {
	if m == ModePower {
		return 10
	}
	return 15
}

// Header returns the column titles for the mode.
func (m Mode) Header() []string {
	if m == ModePower {
		return []string{"PID", "Name", "CPU%", "Mem(KB)", "V(V)", "f(MHz)", "T(°C)", "Pdyn(mW)", "Pleak(mW)", "Ptotal(mW)"}
	}
	return []string{"PID", "Name", "CPU%", "Mem(KB)"}
}

// Top returns the busiest records by CPU%, highest first, ties by PID.
// states is not modified.
func Top(states []power.PowerState, n int) []power.PowerState {
	sorted := make([]power.PowerState, len(states))
	copy(sorted, states)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CPUPercent == sorted[j].CPUPercent {
			return sorted[i].PID < sorted[j].PID
		}
		return sorted[i].CPUPercent > sorted[j].CPUPercent
	})
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// Rows returns the header followed by one formatted row per displayed record.
func Rows(mode Mode, states []power.PowerState) [][]string {
	top := Top(states, mode.Limit())
	rows := make([][]string, 0, len(top)+1)
	rows = append(rows, mode.Header())
	for _, s := range top {
		rows = append(rows, row(mode, s))
	}
	return rows
}

func row(mode Mode, s power.PowerState) []string {
	r := []string{
		strconv.Itoa(s.PID),
		s.Name,
		fmt.Sprintf("%.2f", s.CPUPercent),
		strconv.FormatInt(s.MemKB, 10),
	}
	if mode == ModePower {
		r = append(r,
			fmt.Sprintf("%.2f", s.VoltageV),
			fmt.Sprintf("%.0f", s.FreqHz/1e6),
			fmt.Sprintf("%.1f", s.TemperatureC),
			fmt.Sprintf("%.2f", s.PDynMW),
			fmt.Sprintf("%.2f", s.PLeakMW),
			fmt.Sprintf("%.2f", s.PTotalMW),
		)
	}
	return r
}

const clearScreen = "\033[H\033[2J"

// Text writes aligned tables to an io.Writer. Its Render method satisfies
// driver.RenderFunc.
type Text struct {
	w        io.Writer
	mode     Mode
	banner   string
	interval time.Duration
	now      func() time.Time
}

func NewText(w io.Writer, mode Mode, banner string, interval time.Duration) *Text {
	return &Text{w: w, mode: mode, banner: banner, interval: interval, now: time.Now}
}

// Render prints one table. With live set the screen is cleared first and a
// refresh header is added; this is the refresh view used when the terminal
// cannot be taken over by Live.
func (t *Text) Render(states []power.PowerState, live bool) {
	if live {
		io.WriteString(t.w, clearScreen)
	}
	if t.banner != "" {
		fmt.Fprintln(t.w, t.banner)
		fmt.Fprintln(t.w)
	}
	if live {
		fmt.Fprintf(t.w, "Live Mode - Interval: %.1fs - %s\n\n", t.interval.Seconds(), t.now().Format("15:04:05"))
	}

	tw := tabwriter.NewWriter(t.w, 0, 0, 2, ' ', 0)
	for i, r := range Rows(t.mode, states) {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
		if i == 0 {
			fmt.Fprintln(tw, strings.Repeat("-", 3)+strings.Repeat("\t---", len(r)-1))
		}
	}
	tw.Flush()

	if live {
		fmt.Fprintln(t.w, "\nPress Ctrl+C to stop...")
	}
}
