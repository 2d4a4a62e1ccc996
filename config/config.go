// Package config loads ring-transport tuning parameters from a TOML file,
// the way the teacher feeder loaded exchange settings. The cmd/ringtool
// demo CLI does not use it; it takes its settings from flags.
package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"
)

// RingConfig describes one ring: its backing file, sizing, mode, and the
// per-variant options.
type RingConfig struct {
	Path                string  `toml:"path"`
	Capacity            int     `toml:"capacity"`
	MaxMessageSize      int     `toml:"max_message_size"`
	Mode                string  `toml:"mode"` // "blocking" | "nonblocking" | "broadcast"
	Consumers           int     `toml:"consumers"`
	Checksum            bool    `toml:"checksum"`
	FallBehindTolerance float64 `toml:"fall_behind_tolerance"`
	DeleteOnClose       bool    `toml:"delete_on_close"`
}

// Load reads and parses a RingConfig from a TOML file at path.
func Load(path string) (*RingConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var c RingConfig
	if err := toml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	return &c, nil
}
