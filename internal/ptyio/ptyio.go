// Package ptyio spawns a child process attached to a pseudoterminal and
// exposes it as a byte-stream handle: read output, write input, resize
// the window, and observe exit.
package ptyio

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"

	creackpty "github.com/creack/pty"
)

// ErrClosed is returned by Write and Resize once the handle has exited
// or been closed.
var ErrClosed = errors.New("ptyio: handle is closed")

// Chunk is a slice of raw bytes read from the PTY master, delivered in
// the order the child produced them.
type Chunk struct {
	Data []byte
}

// ExitInfo describes how the child process terminated.
type ExitInfo struct {
	Code   int
	Signal bool
}

// Handle wraps one child process running inside a PTY.
type Handle struct {
	cmd  *exec.Cmd
	ptmx *os.File

	output chan Chunk
	exited chan ExitInfo

	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// Options configures Spawn.
type Options struct {
	Argv    []string
	Env     []string
	Dir     string
	Cols    int
	Rows    int
	OutputQ int // output channel capacity, 0 selects a sane default
}

// Spawn starts argv[0] with argv[1:] as arguments, attached to a new PTY
// of the given size. Env is appended to the process's environment; the
// caller is expected to have already set TERM/COLORTERM as needed.
func Spawn(opts Options) (*Handle, error) {
	if len(opts.Argv) == 0 {
		return nil, errors.New("ptyio: argv must not be empty")
	}
	cols, rows := opts.Cols, opts.Rows
	if cols < 1 {
		cols = 80
	}
	if rows < 1 {
		rows = 24
	}
	q := opts.OutputQ
	if q <= 0 {
		q = 256
	}

	cmd := exec.Command(opts.Argv[0], opts.Argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), opts.Env...)

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
	if err != nil {
		return nil, err
	}

	h := &Handle{
		cmd:    cmd,
		ptmx:   ptmx,
		output: make(chan Chunk, q),
		exited: make(chan ExitInfo, 1),
	}

	go h.readPump()
	go h.waitExit()

	return h, nil
}

// PID returns the child process's process ID.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Output is the channel of bytes read from the PTY master. It is closed
// once the read pump observes EOF (which happens no earlier than the
// child exiting and closing its end of the PTY).
func (h *Handle) Output() <-chan Chunk { return h.output }

// Exited fires exactly once, as soon as the child has been reaped, with
// the child's exit status. It is not ordered with the closing of Output:
// chunks the child wrote before exiting may still be pending on Output.
func (h *Handle) Exited() <-chan ExitInfo { return h.exited }

func (h *Handle) readPump() {
	buf := make([]byte, 64*1024)
	for {
		n, err := h.ptmx.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			h.bytesRead.Add(uint64(n))
			h.output <- Chunk{Data: cp}
		}
		if err != nil {
			break
		}
	}
	close(h.output)
}

func (h *Handle) waitExit() {
	err := h.cmd.Wait()

	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	info := ExitInfo{}
	if h.cmd.ProcessState != nil {
		info.Code = h.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			info.Signal = true
		}
	}
	h.exited <- info
	close(h.exited)
}

// Write sends data to the PTY, i.e. to the child's stdin.
func (h *Handle) Write(data []byte) (int, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	n, err := h.ptmx.Write(data)
	h.bytesWritten.Add(uint64(n))
	return n, err
}

// BytesRead returns the total number of bytes read from the PTY master
// over the lifetime of the handle.
func (h *Handle) BytesRead() uint64 { return h.bytesRead.Load() }

// BytesWritten returns the total number of bytes written to the PTY
// master over the lifetime of the handle.
func (h *Handle) BytesWritten() uint64 { return h.bytesWritten.Load() }

// Resize changes the PTY window size and delivers SIGWINCH to the
// foreground process group, mirroring what a real terminal does when
// its window changes.
func (h *Handle) Resize(cols, rows int) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return creackpty.Setsize(h.ptmx, &creackpty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
}

// Close signals the child with SIGTERM and closes the PTY master fd. It
// is safe to call more than once.
func (h *Handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()

		if h.cmd.Process != nil {
			_ = h.cmd.Process.Signal(syscall.SIGTERM)
		}
		err = h.ptmx.Close()
	})
	return err
}
