package main

import (
	"os"
	"strings"
	"testing"
)

func TestREADMEDocumentsCommands(t *testing.T) {
	content, err := os.ReadFile("README.md")
	if err != nil {
		t.Fatalf("Failed to read README.md: %v", err)
	}

	readmeText := string(content)

	for _, cmd := range []string{
		"weave daemon",
		"weave start",
		"weave status",
		"weave sessions",
		"weave stop",
		"weave shutdown",
		"weave upgrade",
		"weave logs",
		"weave files",
	} {
		if !strings.Contains(readmeText, cmd) {
			t.Errorf("README.md missing command %q", cmd)
		}
	}
}

func TestREADMEDocumentsEnvironment(t *testing.T) {
	content, err := os.ReadFile("README.md")
	if err != nil {
		t.Fatalf("Failed to read README.md: %v", err)
	}

	readmeText := string(content)

	for _, env := range []string{
		"WEAVE_HOME",
		"WEAVE_CONFIG",
		"WEAVE_DATA_DIR",
		"WEAVE_SESSIOND_UNRESPONSIVE_SECS",
		"WEAVE_SESSIOND_STALE_SECS",
	} {
		if !strings.Contains(readmeText, env) {
			t.Errorf("README.md missing environment variable %s", env)
		}
	}
}
