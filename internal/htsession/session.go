// Package htsession runs the single-threaded coordinator that owns the
// VT emulator and the PTY handle: it services PTY output, drains a
// bounded input write queue, and applies commands, in a fixed priority
// order, publishing events to the bus as it goes.
package htsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/user/ht/internal/bus"
	"github.com/user/ht/internal/command"
	"github.com/user/ht/internal/event"
	"github.com/user/ht/internal/keymap"
	"github.com/user/ht/internal/ptyio"
	"github.com/user/ht/internal/vt"
)

// writeQueueSize bounds the number of pending Input/SendKeys payloads
// waiting to be written to the PTY master.
const writeQueueSize = 64

// ErrWriteQueueFull is logged and sent on the loop's Diag channel (not
// returned, not a panic) when the PTY write queue is saturated; the
// offending command is dropped rather than blocking the loop.
var ErrWriteQueueFull = errors.New("htsession: pty write queue is full, dropping command")

// Diagnostic is a human-readable line meant for the error sink (stderr).
type Diagnostic struct {
	Message string
}

// Loop is the session coordinator. Construct with New, then run it with Run.
type Loop struct {
	term *vt.Terminal
	pty  *ptyio.Handle
	bus  *bus.Bus
	log  *slog.Logger

	commands <-chan command.Command
	writeQ   chan []byte
	diag     chan<- Diagnostic
}

// Options configures a Loop.
type Options struct {
	Term     *vt.Terminal
	PTY      *ptyio.Handle
	Bus      *bus.Bus
	Commands <-chan command.Command
	Diag     chan<- Diagnostic
	Logger   *slog.Logger
}

// New builds a Loop ready to Run.
func New(opts Options) *Loop {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		term:     opts.Term,
		pty:      opts.PTY,
		bus:      opts.Bus,
		log:      logger,
		commands: opts.Commands,
		writeQ:   make(chan []byte, writeQueueSize),
		diag:     opts.Diag,
	}
}

// Subscribe registers a new bus subscriber and atomically seeds it with
// an Init event synthesized from the terminal's current state, per the
// "Init fired once per subscriber at subscription time, strictly
// before any later event" contract: the seed runs under the bus's own
// registration lock, so a concurrent Publish from Run can never land an
// event ahead of it. Safe to call concurrently with Run: vt.Terminal
// and ptyio.Handle's accessors used here are independently synchronized.
func (l *Loop) Subscribe(types map[event.Type]bool, queueSize int) *bus.Subscriber {
	var seed func() event.Event
	if len(types) == 0 || types[event.TypeInit] {
		seed = func() event.Event {
			cols, rows := l.term.Size()
			return event.Init(event.InitData{
				Cols: cols,
				Rows: rows,
				Text: l.term.SnapshotText(),
				Seq:  toValidUTF8(l.term.SnapshotReplaySeq()),
				PID:  l.pty.PID(),
			})
		}
	}
	return l.bus.SubscribeSeeded(types, queueSize, seed)
}

// Unsubscribe removes sub from the bus and closes its channel, so a
// caller ranging over sub.Events() (e.g. a WebSocket relay's pump
// goroutine) terminates once the caller is done with it.
func (l *Loop) Unsubscribe(sub *bus.Subscriber) {
	l.bus.Unsubscribe(sub)
}

// Run drives the loop until ctx is canceled, the command channel is
// closed, or the child process exits. It always returns after fully
// draining the PTY and shutting down the bus.
func (l *Loop) Run(ctx context.Context) {
	commands := l.commands
	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return
		default:
		}

		select {
		case chunk, ok := <-l.pty.Output():
			if !ok {
				l.shutdown()
				return
			}
			l.feedAndPublish(chunk.Data)
			continue
		default:
		}

		select {
		case payload := <-l.writeQ:
			if _, err := l.pty.Write(payload); err != nil {
				l.logf("pty write failed: %v", err)
			}
			continue
		default:
		}

		select {
		case cmd, ok := <-commands:
			if !ok {
				l.shutdown()
				return
			}
			l.handleCommand(cmd)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			l.shutdown()
			return
		case chunk, ok := <-l.pty.Output():
			if !ok {
				l.shutdown()
				return
			}
			l.feedAndPublish(chunk.Data)
		case payload := <-l.writeQ:
			if _, err := l.pty.Write(payload); err != nil {
				l.logf("pty write failed: %v", err)
			}
		case cmd, ok := <-commands:
			if !ok {
				l.shutdown()
				return
			}
			l.handleCommand(cmd)
		case info := <-l.pty.Exited():
			l.logf("child exited: code=%d signal=%v", info.Code, info.Signal)
			l.shutdown()
			return
		}
	}
}

func (l *Loop) feedAndPublish(data []byte) {
	l.term.Feed(data)
	l.bus.Publish(event.Output(event.OutputData{Seq: toValidUTF8(data)}))
}

func (l *Loop) handleCommand(cmd command.Command) {
	switch cmd.Kind {
	case command.KindInput:
		l.enqueueWrite(cmd.Payload)
	case command.KindSendKeys:
		var b strings.Builder
		for _, k := range cmd.Keys {
			b.Write(keymap.Resolve(k, l.term))
		}
		l.enqueueWrite([]byte(b.String()))
	case command.KindTakeSnapshot:
		cols, rows := l.term.Size()
		l.bus.Publish(event.Snapshot(event.SnapshotData{
			Cols: cols,
			Rows: rows,
			Text: l.term.SnapshotText(),
			Seq:  toValidUTF8(l.term.SnapshotReplaySeq()),
		}))
	case command.KindResize:
		if err := l.pty.Resize(cmd.Cols, cmd.Rows); err != nil {
			l.logf("pty resize failed: %v", err)
			return
		}
		l.term.Resize(cmd.Cols, cmd.Rows)
		l.bus.Publish(event.Resize(event.ResizeData{Cols: cmd.Cols, Rows: cmd.Rows}))
	}
}

func (l *Loop) enqueueWrite(payload []byte) {
	if len(payload) == 0 {
		return
	}
	select {
	case l.writeQ <- payload:
	default:
		l.logf("%v", ErrWriteQueueFull)
	}
}

func (l *Loop) shutdown() {
	// Drain any bytes still buffered in the PTY output channel before
	// closing it out, so the last Output event reflects everything the
	// child produced before exit.
	for {
		select {
		case chunk, ok := <-l.pty.Output():
			if !ok {
				goto closed
			}
			l.feedAndPublish(chunk.Data)
		default:
			goto closed
		}
	}
closed:
	l.log.Info("session shutting down",
		"bytes_read", humanize.Bytes(l.pty.BytesRead()),
		"bytes_written", humanize.Bytes(l.pty.BytesWritten()),
	)
	_ = l.pty.Close()
	l.bus.Shutdown()
}

func (l *Loop) logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.log.Warn(msg)
	if l.diag != nil {
		select {
		case l.diag <- Diagnostic{Message: msg}:
		default:
		}
	}
}

func toValidUTF8(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), string(utf8.RuneError))
}
