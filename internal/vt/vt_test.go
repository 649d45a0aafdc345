package vt

import "testing"

func TestFeedPlainText(t *testing.T) {
	term := New(10, 3)
	term.Feed([]byte("hello\r\n"))
	text := term.SnapshotText()
	lines := splitLines(text)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[0][:5] != "hello" {
		t.Fatalf("expected line 0 to start with hello, got %q", lines[0])
	}
}

func TestSnapshotTextShapeInvariant(t *testing.T) {
	term := New(20, 5)
	term.Feed([]byte("line one\r\nline two\r\n"))
	text := term.SnapshotText()
	lines := splitLines(text)
	if len(lines) != 5 {
		t.Fatalf("expected exactly rows lines, got %d", len(lines))
	}
	for i, l := range lines {
		if LineWidth(l) > 20 {
			t.Fatalf("line %d exceeds column width: %q", i, l)
		}
	}
}

func TestReplayRoundTrip(t *testing.T) {
	term := New(20, 5)
	term.Feed([]byte("first\r\nsecond line\r\nabc"))

	seq := term.SnapshotReplaySeq()
	wantText := term.SnapshotText()
	wantCursor := term.Cursor()

	fresh := New(20, 5)
	fresh.Feed(seq)

	if got := fresh.SnapshotText(); got != wantText {
		t.Fatalf("replay text mismatch:\nwant %q\ngot  %q", wantText, got)
	}
	if got := fresh.Cursor(); got.Row != wantCursor.Row || got.Col != wantCursor.Col {
		t.Fatalf("replay cursor mismatch: want %+v got %+v", wantCursor, got)
	}
}

func TestReplayRoundTripPendingWrap(t *testing.T) {
	term := New(5, 2)
	// Exactly fills the first row without a trailing newline, leaving the
	// cursor in the "past the end, wrap pending" state.
	term.Feed([]byte("abcde"))

	seq := term.SnapshotReplaySeq()
	wantText := term.SnapshotText()
	wantCursor := term.Cursor()

	fresh := New(5, 2)
	fresh.Feed(seq)

	if got := fresh.SnapshotText(); got != wantText {
		t.Fatalf("replay text mismatch:\nwant %q\ngot  %q", wantText, got)
	}
	if got := fresh.Cursor(); got.Row != wantCursor.Row || got.Col != wantCursor.Col {
		t.Fatalf("replay cursor mismatch: want %+v got %+v", wantCursor, got)
	}
}

func TestResizePreservesTopLeft(t *testing.T) {
	term := New(10, 5)
	term.Feed([]byte("hello world"))
	term.Resize(6, 3)
	cols, rows := term.Size()
	if cols != 6 || rows != 3 {
		t.Fatalf("expected size 6x3, got %dx%d", cols, rows)
	}
	text := term.SnapshotText()
	lines := splitLines(text)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines after resize, got %d", len(lines))
	}
	if lines[0][:5] != "hello" {
		t.Fatalf("expected top-left content preserved, got %q", lines[0])
	}
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}
