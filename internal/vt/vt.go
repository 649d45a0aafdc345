// Package vt adapts the go-headless-term grid emulator to the shape
// the session loop needs: feed a byte stream, resize, and pull a
// plain-text snapshot plus a replay sequence out of it.
package vt

import (
	"strings"
	"sync"

	headlessterm "github.com/danielgatis/go-headless-term"
	"github.com/mattn/go-runewidth"
)

// DirtyRegion identifies a row whose visible content changed during a Feed call.
type DirtyRegion struct {
	Row int
}

// Cursor is the position and visibility of the emulator's cursor.
type Cursor struct {
	Row     int
	Col     int
	Visible bool
}

// Terminal is a VT100/xterm-compatible grid, fed by an arbitrary byte
// stream. It owns no I/O of its own: callers push bytes in via Feed and
// pull state out via Snapshot* methods.
type Terminal struct {
	mu   sync.Mutex
	term *headlessterm.Terminal
	cols int
	rows int
}

// New creates a blank terminal of the given size.
func New(cols, rows int) *Terminal {
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	return &Terminal{
		term: headlessterm.New(headlessterm.WithSize(rows, cols)),
		cols: cols,
		rows: rows,
	}
}

// Size returns the current (cols, rows).
func (t *Terminal) Size() (cols, rows int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cols, t.rows
}

// Feed parses data and applies it to the grid, returning the rows whose
// text content changed as a result.
func (t *Terminal) Feed(data []byte) []DirtyRegion {
	if len(data) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	before := make([]string, t.rows)
	for r := 0; r < t.rows; r++ {
		before[r] = t.lineTextLocked(r)
	}

	_, _ = t.term.Write(data)

	var dirty []DirtyRegion
	for r := 0; r < t.rows; r++ {
		if t.lineTextLocked(r) != before[r] {
			dirty = append(dirty, DirtyRegion{Row: r})
		}
	}
	return dirty
}

// Resize changes the grid dimensions, preserving content top-left and
// clamping the cursor, per the emulator's own resize semantics.
func (t *Terminal) Resize(cols, rows int) {
	if cols < 1 || rows < 1 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.term.Resize(rows, cols)
	t.cols = cols
	t.rows = rows
}

// Cursor returns the current cursor position and visibility.
func (t *Terminal) Cursor() Cursor {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, col := t.term.CursorPos()
	return Cursor{Row: row, Col: col, Visible: t.term.CursorVisible()}
}

// CursorKeyAppMode reports whether DECCKM (application cursor keys) is
// currently active, which the keymap consults to pick arrow encodings.
func (t *Terminal) CursorKeyAppMode() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.term.HasMode(headlessterm.ModeCursorKeys)
}

// SnapshotText renders the visible grid as exactly Rows lines joined by
// "\n". Every line is padded to the full column width with blanks;
// trailing spaces are significant.
func (t *Terminal) SnapshotText() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines := make([]string, t.rows)
	for r := 0; r < t.rows; r++ {
		lines[r] = t.lineTextLocked(r)
	}
	return strings.Join(lines, "\n")
}

// lineTextLocked builds the display text of one row, caller must hold t.mu.
func (t *Terminal) lineTextLocked(row int) string {
	var b strings.Builder
	for c := 0; c < t.cols; c++ {
		cell := t.term.Cell(row, c)
		if cell == nil {
			b.WriteByte(' ')
			continue
		}
		if cell.IsWideSpacer() {
			continue
		}
		if cell.Char == 0 {
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(cell.Char)
	}
	return b.String()
}

// lineWidth returns the display width (East-Asian-width aware) of a
// line of snapshot text.
func lineWidth(s string) int {
	return runewidth.StringWidth(s)
}

// LineWidth returns the display width of a snapshot line, exported for
// callers that want to validate the invariant that width <= cols.
func LineWidth(s string) int {
	return lineWidth(s)
}
