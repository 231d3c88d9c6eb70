// Package version reports build metadata for indiserver-ui.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set through -ldflags "-X ...". Unset values fall back to the VCS stamp
// embedded by the go command.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders one line of build metadata.
func String() string {
	commit, date := Commit, Date
	if info, ok := debug.ReadBuildInfo(); ok {
		commit, date = fromBuildInfo(info, commit, date)
	}
	return fmt.Sprintf("indiserver-ui %s (commit=%s, date=%s, go=%s)", Version, commit, date, runtime.Version())
}

// fromBuildInfo fills commit and date from vcs settings when ldflags left them unset.
func fromBuildInfo(info *debug.BuildInfo, commit, date string) (string, string) {
	modified := false
	revision, vcsTime := "", ""
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.time":
			vcsTime = setting.Value
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}

	if commit == "none" && revision != "" {
		if len(revision) > 12 {
			revision = revision[:12]
		}
		if modified {
			revision += "-dirty"
		}
		commit = revision
	}
	if date == "unknown" && vcsTime != "" {
		date = vcsTime
	}
	return commit, date
}
