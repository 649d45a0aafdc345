// Package config resolves ht's command-line flags, layered over
// optional defaults from a YAML file at ~/.config/ht/config.yaml.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultListenAddr is used when --listen is passed with no explicit
// address.
const DefaultListenAddr = "127.0.0.1:0"

// Config is the fully resolved set of options ht runs with.
type Config struct {
	Argv      []string
	Cols      int
	Rows      int
	Subscribe []string
	Listen    string // empty means the HTTP server is disabled
	Help      bool

	configPath string
}

// fileDefaults is the shape of the optional YAML defaults file.
type fileDefaults struct {
	Size      string   `yaml:"size"`
	Subscribe []string `yaml:"subscribe"`
	Listen    string   `yaml:"listen"`
}

// optionalAddr implements flag.Value and flag.boolFlag so that
// "-l"/"--listen" may appear either bare (meaning DefaultListenAddr) or
// with an explicit "-l=host:port" value.
type optionalAddr struct {
	set   bool
	value string
}

func (o *optionalAddr) String() string {
	if o == nil {
		return ""
	}
	return o.value
}

func (o *optionalAddr) Set(s string) error {
	o.set = true
	if s == "true" || s == "" {
		o.value = DefaultListenAddr
		return nil
	}
	o.value = s
	return nil
}

func (o *optionalAddr) IsBoolFlag() bool { return true }

// Parse resolves configuration from (in increasing precedence) the
// defaults file, then command-line flags in args (excluding argv[0]).
func Parse(args []string) (*Config, error) {
	cfg := &Config{Cols: 120, Rows: 40}

	if home, err := os.UserHomeDir(); err == nil {
		cfg.configPath = filepath.Join(home, ".config", "ht", "config.yaml")
		if err := cfg.loadFile(); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: reading %s: %w", cfg.configPath, err)
		}
	}

	fs := flag.NewFlagSet("ht", flag.ContinueOnError)
	size := fs.String("size", fmt.Sprintf("%dx%d", cfg.Cols, cfg.Rows), "initial window size, COLSxROWS")
	subscribe := fs.String("subscribe", strings.Join(cfg.Subscribe, ","), "comma-separated event types stdout subscribes to")
	listen := &optionalAddr{value: cfg.Listen}
	fs.Var(listen, "listen", "enable the HTTP server, optionally at HOST:PORT")
	fs.Var(listen, "l", "shorthand for --listen")
	help := fs.Bool("help", false, "print usage and exit")
	fs.BoolVar(help, "h", false, "shorthand for --help")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.Help = *help
	if cfg.Help {
		return cfg, nil
	}

	cols, rows, err := parseSize(*size)
	if err != nil {
		return nil, err
	}
	cfg.Cols, cfg.Rows = cols, rows

	if *subscribe != "" {
		cfg.Subscribe = splitCSV(*subscribe)
	}

	if listen.set {
		cfg.Listen = listen.value
	}

	cfg.Argv = fs.Args()
	if len(cfg.Argv) == 0 {
		shell := os.Getenv("SHELL")
		if shell == "" {
			shell = "bash"
		}
		cfg.Argv = []string{shell}
	}

	return cfg, nil
}

func (c *Config) loadFile() error {
	data, err := os.ReadFile(c.configPath)
	if err != nil {
		return err
	}
	var d fileDefaults
	if err := yaml.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("parsing yaml: %w", err)
	}
	if d.Size != "" {
		cols, rows, err := parseSize(d.Size)
		if err != nil {
			return err
		}
		c.Cols, c.Rows = cols, rows
	}
	if len(d.Subscribe) > 0 {
		c.Subscribe = d.Subscribe
	}
	c.Listen = d.Listen
	return nil
}

func parseSize(s string) (cols, rows int, err error) {
	parts := strings.SplitN(s, "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("config: invalid size %q, want COLSxROWS", s)
	}
	cols, err = strconv.Atoi(parts[0])
	if err != nil || cols < 1 {
		return 0, 0, fmt.Errorf("config: invalid column count in %q", s)
	}
	rows, err = strconv.Atoi(parts[1])
	if err != nil || rows < 1 {
		return 0, 0, fmt.Errorf("config: invalid row count in %q", s)
	}
	return cols, rows, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// Usage prints flag usage to w, matching the -h/--help contract.
func Usage(w *os.File) {
	fmt.Fprintln(w, "usage: ht [flags] [--] <command> [args...]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  --size COLSxROWS       initial window size (default 120x40)")
	fmt.Fprintln(w, "  --subscribe types      comma-separated event types stdout subscribes to")
	fmt.Fprintln(w, "  -l, --listen [HOST:PORT]  enable the HTTP server (default 127.0.0.1:0)")
	fmt.Fprintln(w, "  -h, --help             print this message and exit")
}
