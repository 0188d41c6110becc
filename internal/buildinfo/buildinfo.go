// Package buildinfo provides build-time version information.
package buildinfo

import "strconv"

// These are set at build time via -ldflags.
var (
	version   = "dev"     //nolint:gochecknoglobals // ldflags requires package-level var
	sha       = "unknown" //nolint:gochecknoglobals // ldflags requires package-level var
	timestamp = "0"       //nolint:gochecknoglobals // ldflags requires package-level var
)

// String returns the current version.
func String() string {
	return version
}

// SHA returns the commit SHA this binary was built from.
func SHA() string {
	return sha
}

// Timestamp returns the Unix build timestamp. A binary built without
// ldflags (or with a malformed value) reports 0, which disables upgrade
// negotiation.
func Timestamp() uint64 {
	ts, err := strconv.ParseUint(timestamp, 10, 64)
	if err != nil {
		return 0
	}
	return ts
}
