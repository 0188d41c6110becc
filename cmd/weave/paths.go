package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths holds all resolved weave state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	WeaveHome  string // ~/.weave or WEAVE_HOME
	ConfigPath string // config.toml or WEAVE_CONFIG
	DataDir    string // data/ or WEAVE_DATA_DIR
	AuditPath  string // data/audit.db (respects WEAVE_DATA_DIR)
}

// ResolvePaths returns all weave paths, respecting env var overrides.
// Environment variables:
//   - WEAVE_HOME: base directory for all weave state (default: ~/.weave)
//   - WEAVE_CONFIG: runtime config file (default: $WEAVE_HOME/config.toml)
//   - WEAVE_DATA_DIR: event logs, registry and daemon files (default: $WEAVE_HOME/data)
func ResolvePaths() (*Paths, error) {
	home, err := resolveWeaveHome()
	if err != nil {
		return nil, err
	}

	dataDir := resolvePathWithEnv("WEAVE_DATA_DIR", home, "data")
	return &Paths{
		WeaveHome:  home,
		ConfigPath: resolvePathWithEnv("WEAVE_CONFIG", home, "config.toml"),
		DataDir:    dataDir,
		AuditPath:  filepath.Join(dataDir, "audit.db"),
	}, nil
}

// resolveWeaveHome returns the weave home directory from WEAVE_HOME or ~/.weave.
func resolveWeaveHome() (string, error) {
	if v := os.Getenv("WEAVE_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".weave"), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}
