// Package buildinfo exposes the version stamped in at link time.
package buildinfo

import (
	"fmt"
	"strings"
	"time"
)

var (
	// Version is filled by ldflags in release builds.
	Version = "dev"
	// Date is filled by ldflags in release builds.
	Date = ""
)

// VersionString returns the release version, or "dev" for local builds.
func VersionString() string {
	version := strings.TrimSpace(Version)
	if version == "" {
		return "dev"
	}

	return version
}

// DateYMD reduces the build date to YYYY-MM-DD. Unparseable values pass
// through untouched.
func DateYMD() string {
	raw := strings.TrimSpace(Date)
	if raw == "" {
		return ""
	}

	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.Format(time.DateOnly)
	}

	if len(raw) >= len(time.DateOnly) {
		prefix := raw[:len(time.DateOnly)]
		if _, err := time.Parse(time.DateOnly, prefix); err == nil {
			return prefix
		}
	}

	return raw
}

// Full renders "version (date)" when a build date is known.
func Full() string {
	version := VersionString()
	if date := DateYMD(); date != "" {
		return fmt.Sprintf("%s (%s)", version, date)
	}

	return version
}
