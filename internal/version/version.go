// Package version reports build information.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set at build time via ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info is the build information in one value.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the current build information.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("%s (%s) %s %s %s", i.Version, i.Commit, i.Date, i.GoVersion, i.Platform)
}

// Full returns version, commit and date.
func Full() string {
	return Version + " (" + Commit + ") " + Date
}

// Short returns the version alone.
func Short() string {
	return Version
}

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		backfill(info)
	}
}

// backfill fills Version, Commit and Date from module build info for
// `go install` builds. ldflags values win.
func backfill(info *debug.BuildInfo) {
	if info == nil {
		return
	}
	// "(devel)" means built from a checkout without a tag.
	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch {
		case s.Key == "vcs.revision" && Commit == "none" && s.Value != "":
			Commit = s.Value[:min(7, len(s.Value))]
		case s.Key == "vcs.time" && Date == "unknown" && s.Value != "":
			Date = s.Value
		}
	}
}
