package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig mirrors the TOML session file. Durations are strings in
// Go duration syntax.
type fileConfig struct {
	Listen        string   `toml:"listen"`
	Baud          int      `toml:"baud"`
	Timeout       string   `toml:"timeout"`
	DupWindow     string   `toml:"dup_window"`
	SweepInterval string   `toml:"sweep_interval"`
	Rules         []string `toml:"rules"`
}

// applyFile merges the session file into c. Explicit flags win over
// file values.
func (c *Config) applyFile(path string) error {
	var f fileConfig
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}

	if f.Listen != "" && !c.set["listen"] {
		c.Listen = f.Listen
	}
	if f.Baud != 0 && !c.set["baud"] {
		c.Baud = f.Baud
	}
	if err := mergeDuration(f.Timeout, "timeout", c.set, &c.Timeout); err != nil {
		return err
	}
	if err := mergeDuration(f.DupWindow, "dup-window", c.set, &c.DupWindow); err != nil {
		return err
	}
	if err := mergeDuration(f.SweepInterval, "sweep-interval", c.set, &c.SweepInterval); err != nil {
		return err
	}
	c.Rules = append(c.Rules, f.Rules...)
	return nil
}

func mergeDuration(raw, name string, set map[string]bool, dst *time.Duration) error {
	if raw == "" || set[name] {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config %s: %w", name, err)
	}
	*dst = d
	return nil
}
