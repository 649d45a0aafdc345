// Command ht is a headless terminal: it spawns a child process attached
// to a PTY, feeds its output into an in-memory VT100/xterm emulator,
// and exposes both over a line-delimited JSON protocol on stdin/stdout
// plus an optional HTTP/WebSocket relay.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"github.com/user/ht/internal/bus"
	"github.com/user/ht/internal/command"
	"github.com/user/ht/internal/config"
	"github.com/user/ht/internal/event"
	"github.com/user/ht/internal/htsession"
	"github.com/user/ht/internal/ptyio"
	"github.com/user/ht/internal/vt"
	"github.com/user/ht/internal/wsrelay"
)

func main() {
	os.Exit(run())
}

func run() int {
	instanceID := uuid.NewString()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})).With("instance", instanceID))

	if isatty.IsTerminal(os.Stdin.Fd()) {
		slog.Warn("stdin is a terminal; ht expects one JSON command per line from an automation client, not interactive typing")
	}

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if cfg.Help {
		config.Usage(os.Stderr)
		return 0
	}

	term := vt.New(cfg.Cols, cfg.Rows)

	handle, err := ptyio.Spawn(ptyio.Options{
		Argv: cfg.Argv,
		Env:  []string{"TERM=xterm-256color", "COLORTERM=truecolor"},
		Cols: cfg.Cols,
		Rows: cfg.Rows,
	})
	if err != nil {
		slog.Error("failed to spawn child process", "error", err)
		return 1
	}

	commands := make(chan command.Command, 64)
	go decodeCommands(os.Stdin, commands)

	loop := htsession.New(htsession.Options{
		Term:     term,
		PTY:      handle,
		Bus:      bus.New(),
		Commands: commands,
	})

	// An absent --subscribe means stdout carries no event traffic at
	// all (only stderr diagnostics); it is not a "subscribe to
	// everything" default the way an unfiltered bus subscriber is.
	if len(cfg.Subscribe) > 0 {
		stdoutTypes, err := subscribeTypes(cfg.Subscribe)
		if err != nil {
			slog.Error("invalid --subscribe list", "error", err)
			return 1
		}
		stdoutSub := loop.Subscribe(stdoutTypes, bus.DefaultQueueSize)
		go encodeEvents(stdoutSub, os.Stdout)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Listen != "" {
		srv, err := startHTTPServer(ctx, cfg.Listen, loop)
		if err != nil {
			slog.Error("failed to start HTTP server", "error", err)
			return 1
		}
		defer srv.Shutdown(context.Background())
	}

	loop.Run(ctx)
	return 0
}

// decodeCommands reads UTF-8 lines from r, ignoring blank lines, and
// sends each successfully parsed Command on out. Malformed lines are
// logged to stderr and skipped; the loop keeps reading. Closes out on EOF.
func decodeCommands(r *os.File, out chan<- command.Command) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if isBlank(line) {
			continue
		}
		cmd, err := command.Parse(line)
		if err != nil {
			slog.Warn("command parse error", "error", err)
			continue
		}
		out <- cmd
	}
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\r' {
			return false
		}
	}
	return true
}

// encodeEvents writes one JSON event object per line to w for as long
// as sub delivers events.
func encodeEvents(sub *bus.Subscriber, w *os.File) {
	bw := bufio.NewWriter(w)
	for ev := range sub.Events() {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		bw.Write(data)
		bw.WriteByte('\n')
		bw.Flush()
	}
}

func subscribeTypes(names []string) (map[event.Type]bool, error) {
	set := make(map[event.Type]bool, len(names))
	for _, n := range names {
		t := event.Type(n)
		valid := false
		for _, k := range event.AllTypes {
			if k == t {
				valid = true
				break
			}
		}
		if !valid {
			return nil, fmt.Errorf("unknown event type %q", n)
		}
		set[t] = true
	}
	return set, nil
}

func startHTTPServer(ctx context.Context, addr string, loop *htsession.Loop) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	relay := wsrelay.New(loop, slog.Default())
	srv := &http.Server{Handler: relay.Handler()}

	fmt.Fprintf(os.Stderr, "ht listening at http://%s\n", ln.Addr())

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	return srv, nil
}
