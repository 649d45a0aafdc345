package vt

import (
	"fmt"
	"strings"
)

// SnapshotReplaySeq returns a byte sequence that, fed into a blank
// Terminal of the same size, reproduces this terminal's SnapshotText and
// cursor position. It uses only cursor-addressing and literal text: the
// snapshot carries no color/attribute state to replay.
func (t *Terminal) SnapshotReplaySeq() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	cursorRow, cursorCol := t.term.CursorPos()
	pendingWrap := cursorCol >= t.cols

	var b strings.Builder
	b.WriteString("\x1b[2J")

	writeRow := func(row int) {
		fmt.Fprintf(&b, "\x1b[%d;1H", row+1)
		b.WriteString(t.lineTextLocked(row))
	}

	if pendingWrap {
		// Write every row except the cursor's row first, then write the
		// cursor's row last so the trailing full-width write leaves the
		// emulator in the same "past the last column" wrap-pending state
		// instead of an explicit cursor move undoing it.
		for r := 0; r < t.rows; r++ {
			if r == cursorRow {
				continue
			}
			writeRow(r)
		}
		writeRow(cursorRow)
		return []byte(b.String())
	}

	for r := 0; r < t.rows; r++ {
		writeRow(r)
	}
	col := cursorCol
	if col >= t.cols {
		col = t.cols - 1
	}
	if col < 0 {
		col = 0
	}
	fmt.Fprintf(&b, "\x1b[%d;%dH", cursorRow+1, col+1)

	return []byte(b.String())
}
