// Package config holds the parsed command-line, file and environment
// configuration.
//
// Precedence, lowest to highest: built-in defaults, a TOML session
// file (--config), ZWSNIFF_* environment variables, explicit flags.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Mode selects what the process does.
type Mode string

const (
	// ModeServe captures from a serial device and serves the stream to
	// network clients.
	ModeServe Mode = "serve"
	// ModeRead replays a saved capture file.
	ModeRead Mode = "read"
	// ModeConnect captures from a remote serve-mode instance.
	ModeConnect Mode = "connect"
)

// Config is the resolved runtime configuration.
type Config struct {
	Mode Mode

	// SerialPort and Baud configure the device link in serve mode.
	SerialPort string
	Baud       int

	// CaptureFile is the input in read mode. Files ending in .zlf are
	// parsed as ZLF captures, anything else as raw byte dumps.
	CaptureFile string

	// ConnectAddr is the remote capture server in connect mode.
	ConnectAddr string

	// Listen is where serve mode accepts clients. Empty disables the
	// server even in serve mode.
	Listen string

	// Timeout is the conversation inactivity window.
	Timeout time.Duration
	// DupWindow is the retransmission suppression window.
	DupWindow time.Duration
	// SweepInterval drives timeout sweeps while the link is idle.
	SweepInterval time.Duration

	// Rules are correlation-key expressions, tried before the built-in
	// command table.
	Rules []string

	// ConfigFile is the TOML session file, if any.
	ConfigFile string

	set map[string]bool
}

const (
	defaultListen        = "127.0.0.1:4901"
	defaultTimeout       = 2 * time.Second
	defaultDupWindow     = 250 * time.Millisecond
	defaultSweepInterval = 500 * time.Millisecond
)

// envOverrides are the supported environment variables.
type envOverrides struct {
	Listen    string        `env:"ZWSNIFF_LISTEN"`
	Timeout   time.Duration `env:"ZWSNIFF_TIMEOUT"`
	DupWindow time.Duration `env:"ZWSNIFF_DUP_WINDOW"`
	Baud      int           `env:"ZWSNIFF_BAUD"`
}

// ParseArgs parses command-line arguments, applies the session file
// and environment, and returns the resolved Config.
//
// Expected format:
//
//	zwsniff serve --port <device> [--baud n] [--listen addr]
//	zwsniff read <capture file>
//	zwsniff connect <host:port>
//
// with the shared flags --timeout, --dup-window, --rule (repeatable)
// and --config <file>.
func ParseArgs(args []string) (*Config, error) {
	if len(args) < 2 {
		return nil, usageError(args)
	}

	cfg := &Config{
		Listen:        defaultListen,
		Baud:          115200,
		Timeout:       defaultTimeout,
		DupWindow:     defaultDupWindow,
		SweepInterval: defaultSweepInterval,
		set:           make(map[string]bool),
	}

	switch args[1] {
	case string(ModeServe):
		cfg.Mode = ModeServe
	case string(ModeRead):
		cfg.Mode = ModeRead
	case string(ModeConnect):
		cfg.Mode = ModeConnect
	default:
		return nil, usageError(args)
	}

	var positional []string
	rest := args[2:]
	for i := 0; i < len(rest); i++ {
		arg := rest[i]
		if !strings.HasPrefix(arg, "--") {
			positional = append(positional, arg)
			continue
		}
		value := func() (string, error) {
			if i+1 >= len(rest) {
				return "", fmt.Errorf("%s requires a value", arg)
			}
			i++
			return rest[i], nil
		}
		var err error
		switch arg {
		case "--port":
			cfg.SerialPort, err = value()
		case "--baud":
			var v string
			if v, err = value(); err == nil {
				cfg.Baud, err = strconv.Atoi(v)
				cfg.set["baud"] = true
			}
		case "--listen":
			cfg.Listen, err = value()
			cfg.set["listen"] = true
		case "--timeout":
			err = cfg.durationFlag(value, "timeout", &cfg.Timeout)
		case "--dup-window":
			err = cfg.durationFlag(value, "dup-window", &cfg.DupWindow)
		case "--sweep-interval":
			err = cfg.durationFlag(value, "sweep-interval", &cfg.SweepInterval)
		case "--rule":
			var v string
			if v, err = value(); err == nil {
				cfg.Rules = append(cfg.Rules, v)
			}
		case "--config":
			cfg.ConfigFile, err = value()
		default:
			return nil, fmt.Errorf("unknown flag %s", arg)
		}
		if err != nil {
			return nil, err
		}
	}

	switch cfg.Mode {
	case ModeServe:
		if cfg.SerialPort == "" {
			return nil, fmt.Errorf("serve mode requires --port <device>")
		}
	case ModeRead:
		if len(positional) != 1 {
			return nil, fmt.Errorf("read mode requires exactly one capture file")
		}
		cfg.CaptureFile = positional[0]
	case ModeConnect:
		if len(positional) != 1 {
			return nil, fmt.Errorf("connect mode requires exactly one host:port")
		}
		cfg.ConnectAddr = positional[0]
	}

	if cfg.ConfigFile != "" {
		if err := cfg.applyFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) durationFlag(value func() (string, error), name string, dst *time.Duration) error {
	v, err := value()
	if err != nil {
		return err
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("--%s: %w", name, err)
	}
	*dst = d
	c.set[name] = true
	return nil
}

// applyEnv applies ZWSNIFF_* variables where no explicit flag was
// given.
func (c *Config) applyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	if o.Listen != "" && !c.set["listen"] {
		c.Listen = o.Listen
	}
	if o.Timeout != 0 && !c.set["timeout"] {
		c.Timeout = o.Timeout
	}
	if o.DupWindow != 0 && !c.set["dup-window"] {
		c.DupWindow = o.DupWindow
	}
	if o.Baud != 0 && !c.set["baud"] {
		c.Baud = o.Baud
	}
	return nil
}

func usageError(args []string) error {
	name := "zwsniff"
	if len(args) > 0 {
		name = args[0]
	}
	return fmt.Errorf(`usage:
  %[1]s serve --port <device> [--baud n] [--listen addr]
  %[1]s read <capture file>
  %[1]s connect <host:port>
shared flags: --timeout <dur> --dup-window <dur> --sweep-interval <dur> --rule <expr> --config <file>`, name)
}
