// Package config loads the runtime configuration file and per-feature
// workflow definitions.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config is the runtime configuration, read from TOML. Zero values fall
// back to defaults via withDefaults.
type Config struct {
	DataDir          string `toml:"data_dir"`
	SnapshotEvery    uint64 `toml:"snapshot_every"`
	UnresponsiveSecs uint32 `toml:"unresponsive_secs"`
	StaleSecs        uint32 `toml:"stale_secs"`
	LogLevel         string `toml:"log_level"`
}

func (c Config) withDefaults() Config {
	if c.SnapshotEvery == 0 {
		c.SnapshotEvery = 20
	}
	if c.UnresponsiveSecs == 0 {
		c.UnresponsiveSecs = 25
	}
	if c.StaleSecs == 0 {
		c.StaleSecs = 60
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return c
}

// Load reads the config at path. A missing file yields the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Config{}.withDefaults(), nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c.withDefaults(), nil
}
