package ptyio

import (
	"bytes"
	"testing"
	"time"
)

func TestSpawnEchoProducesOutput(t *testing.T) {
	h, err := Spawn(Options{Argv: []string{"/bin/echo", "hello"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer h.Close()

	var got bytes.Buffer
	timeout := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-h.Output():
			if !ok {
				goto exited
			}
			got.Write(chunk.Data)
		case <-timeout:
			t.Fatal("timed out waiting for output")
		}
	}
exited:
	select {
	case info := <-h.Exited():
		if info.Code != 0 {
			t.Fatalf("expected exit code 0, got %d", info.Code)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for exit")
	}
	if !bytes.Contains(got.Bytes(), []byte("hello")) {
		t.Fatalf("expected output to contain hello, got %q", got.Bytes())
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	h, err := Spawn(Options{Argv: []string{"/bin/cat"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	h.Close()
	<-h.Exited()

	if _, err := h.Write([]byte("x")); err != ErrClosed {
		t.Fatalf("Write after close = %v, want ErrClosed", err)
	}
}

func TestResizeAfterCloseFails(t *testing.T) {
	h, err := Spawn(Options{Argv: []string{"/bin/cat"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	h.Close()
	<-h.Exited()

	if err := h.Resize(100, 40); err != ErrClosed {
		t.Fatalf("Resize after close = %v, want ErrClosed", err)
	}
}

func TestPIDIsPositive(t *testing.T) {
	h, err := Spawn(Options{Argv: []string{"/bin/cat"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer h.Close()
	if h.PID() <= 0 {
		t.Fatalf("expected positive PID, got %d", h.PID())
	}
}
