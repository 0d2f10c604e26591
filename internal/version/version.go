// Package version exposes the build identity of the apiflow binary.
package version

import "fmt"

// Populated at release time via
//
//	-ldflags "-X apiflow/internal/version.Version=... -X apiflow/internal/version.Commit=..."
//
// A plain `go build` reports a development build.
var (
	Version   = "0.1.0-dev"
	Commit    = ""
	BuildDate = ""
)

// Info is the short label shown by --version.
func Info() string {
	if len(Commit) >= 7 {
		return fmt.Sprintf("%s+%s", Version, Commit[:7])
	}
	return Version
}

// Full is the multi-line block printed by the version command.
func Full() string {
	commit, built := Commit, BuildDate
	if commit == "" {
		commit = "none"
	}
	if built == "" {
		built = "unknown"
	}
	return fmt.Sprintf("apiflow %s\ncommit: %s\nbuilt:  %s", Version, commit, built)
}
