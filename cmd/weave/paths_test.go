package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolvePathsDefaults(t *testing.T) {
	t.Setenv("WEAVE_HOME", "")
	t.Setenv("WEAVE_CONFIG", "")
	t.Setenv("WEAVE_DATA_DIR", "")

	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("get home dir: %v", err)
	}

	paths, err := ResolvePaths()
	if err != nil {
		t.Fatalf("ResolvePaths() error: %v", err)
	}

	base := filepath.Join(home, ".weave")
	if paths.WeaveHome != base {
		t.Errorf("WeaveHome = %q, want %q", paths.WeaveHome, base)
	}
	if paths.ConfigPath != filepath.Join(base, "config.toml") {
		t.Errorf("ConfigPath = %q, want %q", paths.ConfigPath, filepath.Join(base, "config.toml"))
	}
	if paths.DataDir != filepath.Join(base, "data") {
		t.Errorf("DataDir = %q, want %q", paths.DataDir, filepath.Join(base, "data"))
	}
	if paths.AuditPath != filepath.Join(base, "data", "audit.db") {
		t.Errorf("AuditPath = %q, want %q", paths.AuditPath, filepath.Join(base, "data", "audit.db"))
	}
}

func TestResolvePathsWeaveHomeOverride(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("WEAVE_HOME", tmpDir)
	t.Setenv("WEAVE_CONFIG", "")
	t.Setenv("WEAVE_DATA_DIR", "")

	paths, err := ResolvePaths()
	if err != nil {
		t.Fatalf("ResolvePaths() error: %v", err)
	}

	if paths.WeaveHome != tmpDir {
		t.Errorf("WeaveHome = %q, want %q", paths.WeaveHome, tmpDir)
	}
	if paths.ConfigPath != filepath.Join(tmpDir, "config.toml") {
		t.Errorf("ConfigPath = %q, want %q", paths.ConfigPath, filepath.Join(tmpDir, "config.toml"))
	}
	if paths.DataDir != filepath.Join(tmpDir, "data") {
		t.Errorf("DataDir = %q, want %q", paths.DataDir, filepath.Join(tmpDir, "data"))
	}
}

func TestResolvePathsPartialOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("WEAVE_HOME", filepath.Join(tmpDir, "wv"))
	t.Setenv("WEAVE_CONFIG", filepath.Join(tmpDir, "custom.toml"))
	t.Setenv("WEAVE_DATA_DIR", filepath.Join(tmpDir, "elsewhere"))

	paths, err := ResolvePaths()
	if err != nil {
		t.Fatalf("ResolvePaths() error: %v", err)
	}

	if paths.ConfigPath != filepath.Join(tmpDir, "custom.toml") {
		t.Errorf("ConfigPath = %q, want %q", paths.ConfigPath, filepath.Join(tmpDir, "custom.toml"))
	}
	if paths.DataDir != filepath.Join(tmpDir, "elsewhere") {
		t.Errorf("DataDir = %q, want %q", paths.DataDir, filepath.Join(tmpDir, "elsewhere"))
	}

	// The audit log follows the data dir override.
	if paths.AuditPath != filepath.Join(tmpDir, "elsewhere", "audit.db") {
		t.Errorf("AuditPath = %q, want %q", paths.AuditPath, filepath.Join(tmpDir, "elsewhere", "audit.db"))
	}
}
