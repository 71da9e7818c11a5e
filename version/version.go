// Package version reports how the chorus-jobs binary was built.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set at build time with -ldflags "-X github.com/chorus/jobs/version.Version=...".
// Left empty, the commit and time come from the Go toolchain's VCS stamp.
var (
	Version    = ""
	CommitHash = ""
	BuildTime  = ""
)

const (
	name     = "chorus-jobs"
	devLabel = "dev"
)

// Info describes the running binary.
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash"`
	BuildTime  string `json:"build_time"`
	Modified   bool   `json:"modified,omitempty"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// Get returns build information, preferring ldflags over the VCS stamp.
func Get() Info {
	info := Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fillFromBuildSettings(&info, bi.Settings)
	}
	if info.Version == "" {
		info.Version = devLabel
	}
	if info.CommitHash == "" {
		info.CommitHash = "unknown"
	}
	if info.BuildTime == "" {
		info.BuildTime = "unknown"
	}
	return info
}

func fillFromBuildSettings(info *Info, settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if info.CommitHash == "" {
				info.CommitHash = s.Value
			}
		case "vcs.time":
			if info.BuildTime == "" {
				info.BuildTime = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
}

func (i Info) String() string {
	s := fmt.Sprintf("%s %s (commit %s, built %s)", name, i.Version, i.Short(), i.BuildTime)
	if i.Modified {
		s += " +modified"
	}
	return s
}

// Short is the abbreviated commit.
func (i Info) Short() string {
	if len(i.CommitHash) > 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}

// ClientID names this binary to brokers, e.g. "chorus-jobs/1.2.0" or
// "chorus-jobs/dev-3f2a9c1".
func (i Info) ClientID() string {
	if i.Version == devLabel {
		return name + "/" + devLabel + "-" + i.Short()
	}
	return name + "/" + i.Version
}
