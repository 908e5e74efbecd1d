package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/cptspacemanspiff/procpower/internal/power"
)

// Live is a full-screen termui table redrawn on every cycle.
type Live struct {
	mu       sync.Mutex
	mode     Mode
	interval time.Duration
	header   *widgets.Paragraph
	table    *widgets.Table
	grid     *ui.Grid
}

// NewLive takes over the terminal. Close must be called to restore it.
func NewLive(mode Mode, banner string, interval time.Duration) (*Live, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("init termui: %w", err)
	}

	header := widgets.NewParagraph()
	header.Title = " procpower "
	header.Text = banner
	header.BorderStyle.Fg = ui.ColorCyan

	table := widgets.NewTable()
	table.Title = fmt.Sprintf(" %s (interval %.1fs, q to quit) ", mode, interval.Seconds())
	table.Rows = [][]string{mode.Header()}
	table.TextStyle = ui.NewStyle(ui.ColorWhite)
	table.RowSeparator = false
	table.BorderStyle.Fg = ui.ColorGreen
	table.RowStyles[0] = ui.NewStyle(ui.ColorYellow, ui.ColorClear, ui.ModifierBold)

	grid := ui.NewGrid()
	termWidth, termHeight := ui.TerminalDimensions()
	grid.SetRect(0, 0, termWidth, termHeight)
	grid.Set(
		ui.NewRow(0.2, ui.NewCol(1.0, header)),
		ui.NewRow(0.8, ui.NewCol(1.0, table)),
	)
	ui.Render(grid)

	return &Live{mode: mode, interval: interval, header: header, table: table, grid: grid}, nil
}

// Render replaces the table rows and redraws. It satisfies driver.RenderFunc.
func (l *Live) Render(states []power.PowerState, _ bool) {
	rows := Rows(l.mode, states)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.table.Rows = rows
	l.table.Title = fmt.Sprintf(" %s (interval %.1fs, %s, q to quit) ", l.mode, l.interval.Seconds(), time.Now().Format("15:04:05"))
	ui.Render(l.grid)
}

// Watch handles keyboard and resize events until ctx is done. q or Ctrl-C
// calls cancel.
func (l *Live) Watch(ctx context.Context, cancel context.CancelFunc) {
	events := ui.PollEvents()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			if e.Type == ui.KeyboardEvent && (e.ID == "q" || e.ID == "<C-c>") {
				cancel()
				return
			}
			if e.Type == ui.ResizeEvent {
				payload := e.Payload.(ui.Resize)
				l.mu.Lock()
				l.grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Clear()
				ui.Render(l.grid)
				l.mu.Unlock()
			}
		}
	}
}

// Close restores the terminal.
func (l *Live) Close() {
	ui.Close()
}
