// Package version carries build metadata. Release builds stamp it with
// -ldflags; "go install" builds fall back to the module build info.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Overridden at link time:
//
//	-X github.com/soyeahso/mailroom/internal/version.Version=1.0.0
//	-X github.com/soyeahso/mailroom/internal/version.Commit=abc123
//	-X github.com/soyeahso/mailroom/internal/version.Date=2026-01-01
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Modified is true when the binary was built from a dirty checkout.
var Modified bool

func init() {
	if bi, ok := debug.ReadBuildInfo(); ok {
		fromBuildInfo(bi)
	}
}

// fromBuildInfo fills the fields the linker left at their defaults.
func fromBuildInfo(bi *debug.BuildInfo) {
	if Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if Commit == "unknown" {
				Commit = s.Value
			}
		case "vcs.time":
			if Date == "unknown" {
				Date = s.Value
			}
		case "vcs.modified":
			Modified = s.Value == "true"
		}
	}
}

// Info is the one-line summary printed by "mailroom version".
func Info() string {
	commit := short(Commit)
	if Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("mailroom %s (commit: %s, built: %s, %s/%s)",
		Version, commit, Date, runtime.GOOS, runtime.GOARCH)
}

// UserAgent identifies mailroom to the IRC server and the model APIs.
func UserAgent() string {
	return "mailroom/" + Version
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
